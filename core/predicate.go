package core

import (
	"fmt"
	"strings"
	"time"

	"filecatalog/protocol"
	"filecatalog/protocols"
)

// Predicate decides whether a regular file belongs to a result set.
type Predicate func(protocols.FileEntry) bool

func NameEquals(name string) Predicate {
	return func(e protocols.FileEntry) bool {
		return e.Name == name
	}
}

// SizeBetween matches sizes in the closed range [lo, hi].
func SizeBetween(lo, hi int64) Predicate {
	return func(e protocols.FileEntry) bool {
		return e.Size >= lo && e.Size <= hi
	}
}

// ModifiedBefore matches files modified strictly before t.
func ModifiedBefore(t time.Time) Predicate {
	return func(e protocols.FileEntry) bool {
		return e.ModTime.Before(t)
	}
}

// ModifiedOnOrAfter matches files modified at t or later. Together with
// ModifiedBefore it partitions every file set.
func ModifiedOnOrAfter(t time.Time) Predicate {
	return func(e protocols.FileEntry) bool {
		return !e.ModTime.Before(t)
	}
}

// HasExtension matches names ending in any of exts. The name must be longer
// than the extension, so ".txt" itself is not a match for ".txt".
func HasExtension(exts ...string) Predicate {
	return func(e protocols.FileEntry) bool {
		for _, ext := range exts {
			if ext != "" && len(e.Name) > len(ext) && strings.HasSuffix(e.Name, ext) {
				return true
			}
		}
		return false
	}
}

// PredicateFor maps a parsed search request to its predicate.
func PredicateFor(req *protocol.Request) (Predicate, error) {
	switch req.Verb {
	case protocol.FindByName:
		return NameEquals(req.Name), nil
	case protocol.FindBySize:
		return SizeBetween(req.MinSize, req.MaxSize), nil
	case protocol.FindByDateBefore:
		return ModifiedBefore(req.Date), nil
	case protocol.FindByDateAfter:
		return ModifiedOnOrAfter(req.Date), nil
	case protocol.FindByExtension:
		return HasExtension(req.Extensions...), nil
	default:
		return nil, fmt.Errorf("no predicate for %s", req.Verb)
	}
}
