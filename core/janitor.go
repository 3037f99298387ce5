package core

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"filecatalog/metrics"
)

// Janitor periodically deletes artifacts older than Retention: ledger entries
// first, then any stray archive under ScratchDir the ledger never saw.
type Janitor struct {
	Ledger     *ArtifactLedger
	ScratchDir string
	Retention  time.Duration
	Schedule   string
	Cron       *cron.Cron
	Log        *zap.Logger

	initial sync.WaitGroup
}

func NewJanitor(ledger *ArtifactLedger, scratchDir, schedule string, retention time.Duration, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		Ledger:     ledger,
		ScratchDir: scratchDir,
		Retention:  retention,
		Schedule:   schedule,
		Cron:       cron.New(),
		Log:        log,
	}
}

func (j *Janitor) Start() error {
	_, err := j.Cron.AddFunc(j.Schedule, func() {
		j.Sweep(time.Now())
	})
	if err != nil {
		return err
	}
	j.Log.Info("scheduled artifact janitor", zap.String("cron", j.Schedule), zap.Duration("retention", j.Retention))

	// Run immediately in background
	j.initial.Add(1)
	go func() {
		defer j.initial.Done()
		j.Sweep(time.Now())
	}()
	j.Cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.Cron.Stop().Done()
	j.initial.Wait()
}

// Sweep removes artifacts created before now-Retention and returns how many
// files were deleted. Only files laid out the way ArchiveBuilder writes them,
// <ScratchDir>/<session uuid>/<uuid>.tar.gz, are ever touched.
func (j *Janitor) Sweep(now time.Time) int {
	cutoff := now.Add(-j.Retention)
	removed := 0
	var freed uint64

	for _, p := range j.Ledger.Expired(cutoff) {
		if !j.isArtifact(p) {
			j.Log.Warn("dropping ledger entry outside the scratch layout", zap.String("path", p))
			j.Ledger.Remove(p)
			continue
		}
		info, err := os.Lstat(p)
		if err == nil && info.Mode().IsRegular() {
			if err := os.Remove(p); err != nil {
				j.Log.Warn("failed to remove artifact", zap.String("path", p), zap.Error(err))
				continue
			}
			removed++
			freed += uint64(info.Size())
		}
		j.Ledger.Remove(p)
	}

	for _, dir := range j.sessionDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if !e.Type().IsRegular() || !j.isArtifact(p) {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(p); err == nil {
				removed++
				freed += uint64(info.Size())
				j.Ledger.Remove(p)
			}
		}
	}
	j.pruneSessionDirs(cutoff)

	if err := j.Ledger.Save(); err != nil {
		j.Log.Warn("failed to save artifact ledger", zap.String("path", j.Ledger.Path), zap.Error(err))
	}
	if removed > 0 {
		metrics.RecordJanitorRemovals(removed)
		j.Log.Info("removed stale artifacts", zap.Int("count", removed), zap.String("freed", humanize.Bytes(freed)))
	}
	return removed
}

// isArtifact reports whether p is <ScratchDir>/<uuid>/<uuid>.tar.gz.
func (j *Janitor) isArtifact(p string) bool {
	rel, err := filepath.Rel(j.ScratchDir, p)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !isUUID(parts[0]) {
		return false
	}
	name := parts[1]
	return strings.HasSuffix(name, ArtifactExt) && isUUID(strings.TrimSuffix(name, ArtifactExt))
}

// sessionDirs lists the uuid-named directories directly under ScratchDir.
func (j *Janitor) sessionDirs() []string {
	entries, err := os.ReadDir(j.ScratchDir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && isUUID(e.Name()) {
			dirs = append(dirs, filepath.Join(j.ScratchDir, e.Name()))
		}
	}
	return dirs
}

// pruneSessionDirs removes empty session directories untouched since cutoff.
func (j *Janitor) pruneSessionDirs(cutoff time.Time) {
	for _, dir := range j.sessionDirs() {
		info, err := os.Stat(dir)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		// Fails harmlessly on non-empty directories.
		os.Remove(dir)
	}
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
