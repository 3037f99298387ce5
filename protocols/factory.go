package protocols

import (
	"fmt"

	"filecatalog/config"
)

// New builds and initialises the backend for the configured served root.
func New(root config.Root) (FileSystem, error) {
	switch root.Type {
	case "local", "":
		fs := &LocalFileSystem{RootPath: root.Path}
		return fs, fs.Init()
	case "sftp":
		if root.Auth == nil {
			return nil, fmt.Errorf("auth required for sftp")
		}
		fs := &SFTPFileSystem{
			Host:     root.Auth.Host,
			Port:     root.Auth.Port,
			User:     root.Auth.User,
			Password: root.Auth.Password,
			RootPath: root.Path,
		}
		return fs, fs.Init()
	case "ftp":
		if root.Auth == nil {
			return nil, fmt.Errorf("auth required for ftp")
		}
		fs := &FTPFileSystem{
			Host:     root.Auth.Host,
			Port:     root.Auth.Port,
			User:     root.Auth.User,
			Password: root.Auth.Password,
			RootPath: root.Path,
		}
		return fs, fs.Init()
	default:
		return nil, fmt.Errorf("unknown fs type: %s", root.Type)
	}
}
