package core

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"filecatalog/protocols"
)

const ArtifactExt = ".tar.gz"

// Artifact is a finished archive waiting to be streamed.
type Artifact struct {
	Path  string
	Size  int64
	Files int
}

func (a *Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Remove deletes the archive file. A missing file is not an error.
func (a *Artifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ArchiveBuilder packs matched files into a gzip-compressed tar. Every Build
// writes a fresh uniquely named file under Dir.
type ArchiveBuilder struct {
	FS    protocols.FileSystem
	Dir   string
	Level int
}

func NewArchiveBuilder(fs protocols.FileSystem, dir string, level int) *ArchiveBuilder {
	return &ArchiveBuilder{FS: fs, Dir: dir, Level: level}
}

// Build archives matches, keyed by their root-relative paths. An empty match
// set yields ErrNoMatches and no file. On any failure the partial archive is
// removed.
func (b *ArchiveBuilder) Build(ctx context.Context, matches []protocols.FileEntry) (*Artifact, error) {
	if len(matches) == 0 {
		return nil, ErrNoMatches
	}
	if err := os.MkdirAll(b.Dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create scratch dir")
	}

	path := filepath.Join(b.Dir, uuid.NewString()+ArtifactExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "create artifact")
	}

	size, err := b.write(ctx, f, matches)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close artifact")
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Artifact{Path: path, Size: size, Files: len(matches)}, nil
}

func (b *ArchiveBuilder) write(ctx context.Context, f *os.File, matches []protocols.FileEntry) (int64, error) {
	gz, err := gzip.NewWriterLevel(f, b.Level)
	if err != nil {
		return 0, errors.Wrap(err, "gzip writer")
	}
	tw := tar.NewWriter(gz)

	for _, e := range matches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := b.addFile(tw, e); err != nil {
			return 0, err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, errors.Wrap(err, "finish tar stream")
	}
	if err := gz.Close(); err != nil {
		return 0, errors.Wrap(err, "finish gzip stream")
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat artifact")
	}
	return info.Size(), nil
}

// addFile re-stats e before reading it; a file swapped for a symlink or
// directory since the scan is refused rather than followed.
func (b *ArchiveBuilder) addFile(tw *tar.Writer, match protocols.FileEntry) error {
	e, err := b.FS.Stat(match.Path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", match.Path)
	}
	if !e.IsRegular() {
		return errors.Errorf("%s is no longer a regular file", match.Path)
	}
	e.Path = match.Path

	rc, err := b.FS.Open(e.Path)
	if err != nil {
		return errors.Wrapf(err, "open %s", e.Path)
	}
	defer rc.Close()

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Path,
		Size:     e.Size,
		Mode:     int64(e.Mode.Perm()),
		ModTime:  e.ModTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "tar header %s", e.Path)
	}
	n, err := io.Copy(tw, io.LimitReader(rc, e.Size))
	if err != nil {
		return errors.Wrapf(err, "copy %s", e.Path)
	}
	if n != e.Size {
		return errors.Errorf("%s shrank during archiving: %d of %d bytes", e.Path, n, e.Size)
	}
	return nil
}
