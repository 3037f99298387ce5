package protocols

import (
	"io"
	"io/fs"
	"time"
)

type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	// ChangeTime is the inode change time where the backend exposes one,
	// otherwise ModTime.
	ChangeTime time.Time
	Mode       fs.FileMode
	IsDir      bool
	Path       string // 相对路径, slash separated
}

// IsRegular reports whether the entry is a plain file (not a directory,
// symlink, device or pipe).
func (e FileEntry) IsRegular() bool {
	return !e.IsDir && e.Mode.IsRegular()
}

// FileSystem is the served root. Paths are relative to the root and slash
// separated; "" names the root itself. Implementations are not required to be
// safe for concurrent use, so every session opens its own.
type FileSystem interface {
	Init() error
	Close() error
	// Root returns the backend's root path as configured.
	Root() string
	// List returns a list of files in the specified directory (non-recursive).
	List(path string) ([]FileEntry, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (*FileEntry, error)
}
