package protocols

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalFileSystem struct {
	RootPath string
}

func (l *LocalFileSystem) Init() error {
	info, err := os.Stat(l.RootPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", l.RootPath)
	}
	return nil
}

func (l *LocalFileSystem) Close() error {
	return nil
}

func (l *LocalFileSystem) Root() string {
	return l.RootPath
}

func (l *LocalFileSystem) List(path string) ([]FileEntry, error) {
	fullPath := l.fullPath(path)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		// Lstat semantics: symlinks are reported as such and never followed.
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileEntry{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			ChangeTime: changeTime(filepath.Join(fullPath, entry.Name()), info),
			Mode:       info.Mode(),
			IsDir:      entry.IsDir(),
			Path:       joinRel(path, entry.Name()),
		})
	}
	return files, nil
}

func (l *LocalFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(l.fullPath(path))
}

func (l *LocalFileSystem) Stat(path string) (*FileEntry, error) {
	fullPath := l.fullPath(path)
	info, err := os.Lstat(fullPath)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:       info.Name(),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		ChangeTime: changeTime(fullPath, info),
		Mode:       info.Mode(),
		IsDir:      info.IsDir(),
		Path:       strings.TrimPrefix(filepath.ToSlash(path), "/"),
	}, nil
}

func (l *LocalFileSystem) fullPath(rel string) string {
	return filepath.Join(l.RootPath, filepath.FromSlash(rel))
}
