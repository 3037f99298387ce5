package server

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"filecatalog/core"
	"filecatalog/metrics"
	"filecatalog/protocol"
	"filecatalog/protocols"
)

const (
	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeUsage    = "usage"
	outcomeError    = "error"

	msgServerError   = "Server error: could not read the served directory"
	msgArchiveFailed = "Error creating file archive"
)

// dispatch executes one request and writes its reply. Only transport errors
// are returned; every other outcome is reported to the client.
func (s *session) dispatch(ctx context.Context, req *protocol.Request) error {
	if req.ExpectsArtifact() {
		return s.findArchive(ctx, req)
	}
	switch req.Verb {
	case protocol.FindByName:
		return s.findByName(ctx, req)
	case protocol.ListDirs:
		return s.listDirs(req)
	case protocol.Quit:
		metrics.RecordRequest(string(req.Verb), outcomeOK)
		return s.reply(protocol.StatusOK, "bye")
	default:
		metrics.RecordRequest(string(req.Verb), outcomeUsage)
		return s.reply(protocol.StatusError, fmt.Sprintf("unsupported command %s", req.Verb))
	}
}

func (s *session) findByName(ctx context.Context, req *protocol.Request) error {
	fs, err := s.filesystem()
	if err != nil {
		return s.resourceError(req, err, msgServerError)
	}

	entry, err := s.scanner(fs).FindFirst(ctx, core.NameEquals(req.Name))
	switch {
	case errors.Is(err, core.ErrNoMatches):
		metrics.RecordRequest(string(req.Verb), outcomeNotFound)
		return s.reply(protocol.StatusNotFound, protocol.FileNotFound)
	case err != nil:
		return s.resourceError(req, err, msgServerError)
	}

	metrics.RecordRequest(string(req.Verb), outcomeOK)
	return s.reply(protocol.StatusOK, renderFileInfo(fs.Root(), entry))
}

// findArchive runs a collecting search, archives the result and streams it.
// The archive is complete on disk before its first byte is sent, and it is
// deleted once the transfer ends either way.
func (s *session) findArchive(ctx context.Context, req *protocol.Request) error {
	pred, err := core.PredicateFor(req)
	if err != nil {
		metrics.RecordRequest(string(req.Verb), outcomeUsage)
		return s.reply(protocol.StatusError, err.Error())
	}
	fs, err := s.filesystem()
	if err != nil {
		return s.resourceError(req, err, msgServerError)
	}

	start := time.Now()
	matches, err := s.scanner(fs).Collect(ctx, pred)
	if err != nil {
		return s.resourceError(req, err, msgServerError)
	}
	artifact, err := s.builder(fs).Build(ctx, matches)
	switch {
	case errors.Is(err, core.ErrNoMatches):
		metrics.RecordRequest(string(req.Verb), outcomeNotFound)
		return s.reply(protocol.StatusNotFound, protocol.NoFileFound)
	case err != nil:
		return s.resourceError(req, err, msgArchiveFailed)
	}
	metrics.RecordArchiveBuild(time.Since(start))

	ledger := s.srv.opts.Ledger
	ledger.Add(artifact.Path)
	if err := ledger.Save(); err != nil {
		s.log.Warn("failed to save artifact ledger", zap.Error(err))
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			s.log.Warn("failed to remove artifact", zap.String("path", artifact.Path), zap.Error(err))
			return
		}
		ledger.Remove(artifact.Path)
	}()

	s.log.Info("archive built",
		zap.Int("files", artifact.Files),
		zap.String("size", humanize.Bytes(uint64(artifact.Size))),
		zap.Duration("took", time.Since(start)),
	)

	f, err := artifact.Open()
	if err != nil {
		return s.resourceError(req, err, msgArchiveFailed)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return s.resourceError(req, err, msgArchiveFailed)
	}

	sent, err := s.streamArtifact(f, info.Size())
	if err != nil {
		metrics.RecordRequest(string(req.Verb), outcomeError)
		return err
	}
	metrics.RecordRequest(string(req.Verb), outcomeOK)
	s.log.Info("archive sent", zap.String("size", humanize.Bytes(uint64(sent))))
	return nil
}

func (s *session) listDirs(req *protocol.Request) error {
	fs, err := s.filesystem()
	if err != nil {
		return s.resourceError(req, err, msgServerError)
	}
	dirs, err := core.ListDirectories(fs, req.Order)
	if err != nil {
		return s.resourceError(req, err, "Failed to open home directory.")
	}
	if len(dirs) == 0 {
		metrics.RecordRequest(string(req.Verb), outcomeNotFound)
		return s.reply(protocol.StatusNotFound, "No directories found")
	}
	metrics.RecordRequest(string(req.Verb), outcomeOK)
	return s.reply(protocol.StatusOK, core.RenderDirectories(dirs, req.Order))
}

// resourceError logs err locally and sends the client a generic message.
func (s *session) resourceError(req *protocol.Request, err error, msg string) error {
	metrics.RecordRequest(string(req.Verb), outcomeError)
	s.log.Error("request failed", zap.String("command", req.String()), zap.Error(err))
	return s.reply(protocol.StatusError, msg)
}

// renderFileInfo formats the find-by-name record.
func renderFileInfo(root string, e *protocols.FileEntry) string {
	dir := path.Join(filepath.ToSlash(root), path.Dir(e.Path))
	return fmt.Sprintf("File Path: %s\nFilename: %s\nFile Size: %d\nModified At: %s\nPermissions: %o\n",
		dir, e.Name, e.Size, e.ModTime.Local().Format(time.ANSIC), e.Mode.Perm())
}
