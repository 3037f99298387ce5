package protocols

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

type FTPFileSystem struct {
	Host     string
	Port     int
	User     string
	Password string
	RootPath string
	conn     *ftp.ServerConn
}

func (f *FTPFileSystem) Init() error {
	port := f.Port
	if port == 0 {
		port = 21
	}
	addr := fmt.Sprintf("%s:%d", f.Host, port)
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return err
	}

	if err := c.Login(f.User, f.Password); err != nil {
		c.Quit()
		return err
	}
	f.conn = c
	return nil
}

func (f *FTPFileSystem) Close() error {
	if f.conn != nil {
		return f.conn.Quit()
	}
	return nil
}

func (f *FTPFileSystem) Root() string {
	return f.RootPath
}

func (f *FTPFileSystem) List(relPath string) ([]FileEntry, error) {
	fullPath := path.Join(f.RootPath, relPath)
	entries, err := f.conn.List(fullPath)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, ftpEntry(entry, joinRel(relPath, entry.Name)))
	}
	return files, nil
}

// Open buffers nothing: the returned response must be closed before the next
// command is issued on the control connection.
func (f *FTPFileSystem) Open(relPath string) (io.ReadCloser, error) {
	fullPath := path.Join(f.RootPath, relPath)
	return f.conn.Retr(fullPath)
}

func (f *FTPFileSystem) Stat(relPath string) (*FileEntry, error) {
	fullPath := path.Join(f.RootPath, relPath)
	// FTP LIST is often the only way to get stat
	parent := path.Dir(fullPath)
	name := path.Base(fullPath)

	entries, err := f.conn.List(parent)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Name == name {
			e := ftpEntry(entry, relPath)
			return &e, nil
		}
	}
	return nil, fmt.Errorf("file not found: %s", relPath)
}

// ftpEntry maps a LIST entry. LIST output carries no reliable permission
// bits, so conventional ones are synthesised from the entry type.
func ftpEntry(entry *ftp.Entry, rel string) FileEntry {
	var mode fs.FileMode
	switch entry.Type {
	case ftp.EntryTypeFolder:
		mode = fs.ModeDir | 0o755
	case ftp.EntryTypeLink:
		mode = fs.ModeSymlink | 0o777
	default:
		mode = 0o644
	}
	return FileEntry{
		Name:       entry.Name,
		Size:       int64(entry.Size),
		ModTime:    entry.Time,
		ChangeTime: entry.Time,
		Mode:       mode,
		IsDir:      entry.Type == ftp.EntryTypeFolder,
		Path:       rel,
	}
}
