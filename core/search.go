package core

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"filecatalog/protocols"
)

// ErrNoMatches is returned when a search or archive request has an empty
// result set.
var ErrNoMatches = errors.New("no matching files")

// Scanner walks the served root depth first.
type Scanner struct {
	FS  protocols.FileSystem
	Log *zap.Logger
	// Exclude holds root-relative directories that are never descended into.
	Exclude []string
}

func NewScanner(fs protocols.FileSystem, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{FS: fs, Log: log}
}

// FindFirst returns the first regular file satisfying pred, stopping the walk
// there. It returns ErrNoMatches when the whole tree was visited.
func (s *Scanner) FindFirst(ctx context.Context, pred Predicate) (*protocols.FileEntry, error) {
	var found *protocols.FileEntry
	err := s.walk(ctx, "", func(e protocols.FileEntry) bool {
		if pred(e) {
			found = &e
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoMatches
	}
	return found, nil
}

// Collect returns every regular file satisfying pred, sorted by path.
func (s *Scanner) Collect(ctx context.Context, pred Predicate) ([]protocols.FileEntry, error) {
	var matches []protocols.FileEntry
	err := s.walk(ctx, "", func(e protocols.FileEntry) bool {
		if pred(e) {
			matches = append(matches, e)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

// walk visits regular files under relPath. visit returns false to stop. The
// root listing failing is an error; an unreadable subdirectory is logged and
// skipped.
func (s *Scanner) walk(ctx context.Context, relPath string, visit func(protocols.FileEntry) bool) error {
	_, err := s.walkDir(ctx, relPath, visit)
	return err
}

func (s *Scanner) walkDir(ctx context.Context, relPath string, visit func(protocols.FileEntry) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entries, err := s.FS.List(relPath)
	if err != nil {
		if relPath == "" {
			return false, errors.Wrap(err, "list served root")
		}
		s.Log.Warn("skipping unreadable directory", zap.String("dir", relPath), zap.Error(err))
		return true, nil
	}

	for _, entry := range entries {
		if entry.IsDir {
			if s.excluded(entry.Path) {
				continue
			}
			more, err := s.walkDir(ctx, entry.Path, visit)
			if err != nil || !more {
				return more, err
			}
			continue
		}
		if !entry.IsRegular() {
			continue
		}
		if !visit(entry) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, x := range s.Exclude {
		if rel == x {
			return true
		}
	}
	return false
}
