package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filecatalog/protocols"
)

type fixtureFile struct {
	rel   string
	size  int
	mtime time.Time
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.Local)
}

// scenarioFiles extends the a.txt / b.log example with nested entries.
var scenarioFiles = []fixtureFile{
	{"a.txt", 500, day(2023, 1, 1)},
	{"b.log", 1500, day(2023, 6, 1)},
	{"docs/c.md", 50, day(2022, 5, 5)},
	{"docs/deep/d.txt", 800, day(2024, 1, 1)},
	{"music/e.log", 1000, day(2023, 3, 1)},
}

// content returns deterministic bytes for a fixture so archives can be
// compared byte for byte.
func content(rel string, size int) []byte {
	return bytes.Repeat([]byte(rel[:1]), size)
}

func buildTree(t *testing.T, files []fixtureFile) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f.rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, content(f.rel, f.size), 0o644); err != nil {
			t.Fatalf("write %s: %v", f.rel, err)
		}
		if err := os.Chtimes(full, f.mtime, f.mtime); err != nil {
			t.Fatalf("chtimes %s: %v", f.rel, err)
		}
	}
	return root
}

func openLocal(t *testing.T, root string) protocols.FileSystem {
	t.Helper()
	fs := &protocols.LocalFileSystem{RootPath: root}
	if err := fs.Init(); err != nil {
		t.Fatalf("init local fs: %v", err)
	}
	return fs
}

func paths(entries []protocols.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
