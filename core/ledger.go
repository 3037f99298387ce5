package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ArtifactLedger records every archive written to the scratch area so that
// ones abandoned by a dead session can be found and removed later.
type ArtifactLedger struct {
	// Map artifact path -> creation time
	Records map[string]time.Time
	Path    string
	mu      sync.RWMutex
}

func NewArtifactLedger(path string) *ArtifactLedger {
	return &ArtifactLedger{
		Records: make(map[string]time.Time),
		Path:    path,
	}
}

func (l *ArtifactLedger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	records := make(map[string]time.Time)
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	l.Records = records
	return nil
}

// Save writes the ledger atomically via a temp file and rename.
func (l *ArtifactLedger) Save() error {
	l.mu.RLock()
	data, err := json.MarshalIndent(l.Records, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o700); err != nil {
		return err
	}
	tmp := l.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.Path)
}

func (l *ArtifactLedger) Add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Records[path] = time.Now()
}

func (l *ArtifactLedger) Has(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.Records[path]
	return ok
}

func (l *ArtifactLedger) Remove(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.Records, path)
}

func (l *ArtifactLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.Records)
}

// Expired returns, oldest first, the paths recorded before cutoff.
func (l *ArtifactLedger) Expired(cutoff time.Time) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var paths []string
	for p, created := range l.Records {
		if created.Before(cutoff) {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		return l.Records[paths[i]].Before(l.Records[paths[j]])
	})
	return paths
}
