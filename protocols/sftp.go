package protocols

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SFTPFileSystem struct {
	Host     string
	Port     int
	User     string
	Password string
	RootPath string
	client   *sftp.Client
	sshConn  *ssh.Client
}

func (s *SFTPFileSystem) Init() error {
	config := &ssh.ClientConfig{
		User: s.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	port := s.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", s.Host, port)
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return err
	}
	s.sshConn = conn

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return err
	}
	s.client = client

	info, err := client.Stat(s.rootOrDot())
	if err != nil {
		s.Close()
		return err
	}
	if !info.IsDir() {
		s.Close()
		return fmt.Errorf("root %s is not a directory", s.RootPath)
	}
	return nil
}

func (s *SFTPFileSystem) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	if s.sshConn != nil {
		s.sshConn.Close()
	}
	return nil
}

func (s *SFTPFileSystem) Root() string {
	return s.RootPath
}

func (s *SFTPFileSystem) List(relPath string) ([]FileEntry, error) {
	fullPath := path.Join(s.rootOrDot(), relPath)
	entries, err := s.client.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		// SFTP v3 carries no change time.
		files = append(files, FileEntry{
			Name:       entry.Name(),
			Size:       entry.Size(),
			ModTime:    entry.ModTime(),
			ChangeTime: entry.ModTime(),
			Mode:       entry.Mode(),
			IsDir:      entry.IsDir(),
			Path:       joinRel(relPath, entry.Name()),
		})
	}
	return files, nil
}

func (s *SFTPFileSystem) Open(relPath string) (io.ReadCloser, error) {
	fullPath := path.Join(s.rootOrDot(), relPath)
	return s.client.Open(fullPath)
}

func (s *SFTPFileSystem) Stat(relPath string) (*FileEntry, error) {
	fullPath := path.Join(s.rootOrDot(), relPath)
	info, err := s.client.Lstat(fullPath)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:       info.Name(),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		ChangeTime: info.ModTime(),
		Mode:       info.Mode(),
		IsDir:      info.IsDir(),
		Path:       relPath,
	}, nil
}

func (s *SFTPFileSystem) rootOrDot() string {
	if s.RootPath == "" {
		return "."
	}
	return s.RootPath
}
