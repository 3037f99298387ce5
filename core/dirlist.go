package core

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"filecatalog/protocol"
	"filecatalog/protocols"
)

const dirTimeLayout = "2006-01-02 15:04:05"

type DirectoryEntry struct {
	Name    string
	Created time.Time
}

// ListDirectories returns the immediate subdirectories of the served root in
// the requested order.
func ListDirectories(fs protocols.FileSystem, order protocol.DirOrder) ([]DirectoryEntry, error) {
	entries, err := fs.List("")
	if err != nil {
		return nil, errors.Wrap(err, "list served root")
	}
	var dirs []DirectoryEntry
	for _, e := range entries {
		if !e.IsDir || e.Name == "." || e.Name == ".." {
			continue
		}
		dirs = append(dirs, DirectoryEntry{Name: e.Name, Created: e.ChangeTime})
	}
	SortDirectories(dirs, order)
	return dirs, nil
}

// SortDirectories orders by name, or by creation time with ties broken by
// name.
func SortDirectories(dirs []DirectoryEntry, order protocol.DirOrder) {
	sort.SliceStable(dirs, func(i, j int) bool {
		if order == protocol.ByCreation && !dirs[i].Created.Equal(dirs[j].Created) {
			return dirs[i].Created.Before(dirs[j].Created)
		}
		return dirs[i].Name < dirs[j].Name
	})
}

// RenderDirectories renders one line per entry: "name" by name, or
// "name - YYYY-MM-DD HH:MM:SS" (local time) by creation.
func RenderDirectories(dirs []DirectoryEntry, order protocol.DirOrder) string {
	var sb strings.Builder
	for _, d := range dirs {
		sb.WriteString(d.Name)
		if order == protocol.ByCreation {
			sb.WriteString(" - ")
			sb.WriteString(d.Created.Local().Format(dirTimeLayout))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
