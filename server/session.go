package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"filecatalog/core"
	"filecatalog/logging"
	"filecatalog/metrics"
	"filecatalog/protocol"
	"filecatalog/protocols"
)

// session is one connection's execution unit. Nothing in it is shared with
// other sessions.
type session struct {
	id   string
	srv  *Server
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	log  *zap.Logger

	// scratch holds this session's artifacts; removed on close.
	scratch string
	fs      protocols.FileSystem
}

func newSession(srv *Server, conn net.Conn) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		srv:     srv,
		conn:    conn,
		r:       bufio.NewReaderSize(conn, srv.opts.MaxLineBytes+2),
		w:       bufio.NewWriterSize(conn, srv.opts.ChunkSize),
		log:     logging.ForSession(srv.log, id, conn.RemoteAddr().String()),
		scratch: filepath.Join(srv.opts.ScratchDir, id),
	}
}

// run is the dispatch loop: read a line, parse it, execute it, and write the
// complete reply before reading the next line. It returns nil when the client
// disconnects or quits, and the transport error otherwise.
func (s *session) run(ctx context.Context) error {
	for {
		line, err := protocol.ReadLine(s.r, s.srv.opts.MaxLineBytes)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrLineTooLong):
			metrics.RecordRequest("invalid", outcomeUsage)
			if err := s.reply(protocol.StatusError, "command line too long"); err != nil {
				return err
			}
			continue
		case isDisconnect(err):
			return nil
		default:
			return errors.Wrap(err, "read command")
		}

		req, err := protocol.Parse(line)
		if err != nil {
			metrics.RecordRequest("invalid", outcomeUsage)
			s.log.Debug("rejected command", zap.String("line", line), zap.Error(err))
			if err := s.reply(protocol.StatusError, err.Error()); err != nil {
				return err
			}
			continue
		}

		s.log.Info("command received", zap.String("command", req.String()))
		if err := s.dispatch(ctx, req); err != nil {
			return err
		}
		if req.Verb == protocol.Quit {
			return nil
		}
	}
}

// filesystem opens the served root on first use.
func (s *session) filesystem() (protocols.FileSystem, error) {
	if s.fs != nil {
		return s.fs, nil
	}
	fs, err := s.srv.opts.OpenFS(s.srv.opts.Root)
	if err != nil {
		if fs != nil {
			fs.Close()
		}
		return nil, errors.Wrap(err, "open served root")
	}
	s.fs = fs
	return fs, nil
}

func (s *session) scanner(fs protocols.FileSystem) *core.Scanner {
	sc := core.NewScanner(fs, s.log)
	sc.Exclude = s.srv.exclude
	return sc
}

func (s *session) builder(fs protocols.FileSystem) *core.ArchiveBuilder {
	return core.NewArchiveBuilder(fs, s.scratch, s.srv.opts.CompressionLevel)
}

// reply writes one complete text reply and flushes it.
func (s *session) reply(status protocol.Status, text string) error {
	if err := protocol.WriteText(s.w, status, text); err != nil {
		return errors.Wrap(err, "write reply")
	}
	return errors.Wrap(s.w.Flush(), "write reply")
}

func (s *session) close() {
	s.conn.Close()
	if s.fs != nil {
		s.fs.Close()
	}
	if err := os.RemoveAll(s.scratch); err != nil {
		s.log.Warn("failed to remove session scratch dir", zap.String("dir", s.scratch), zap.Error(err))
	}
}

func isDisconnect(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, io.EOF)
}
