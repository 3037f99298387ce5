package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

const (
	DefaultListen           = "127.0.0.1:8083"
	DefaultMaxLineBytes     = 4096
	DefaultChunkSize        = 32 * 1024
	DefaultCompression      = 6
	DefaultJanitorCron      = "@every 10m"
	DefaultRetentionMinutes = 60
)

type Config struct {
	Listen       string  `toml:"listen"`
	MaxLineBytes int     `toml:"max_line_bytes"`
	Root         Root    `toml:"root"`
	Archive      Archive `toml:"archive"`
	Janitor      Janitor `toml:"janitor"`
	Log          Log     `toml:"log"`
	Metrics      Metrics `toml:"metrics"`
}

// Root describes the single served tree. Type picks the backend that hosts it.
type Root struct {
	Type string `toml:"type"` // local, sftp, ftp
	Path string `toml:"path"`
	Auth *Auth  `toml:"auth,omitempty"`
}

type Auth struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type Archive struct {
	ScratchDir       string `toml:"scratch_dir"`
	CompressionLevel *int   `toml:"compression_level,omitempty"`
	ChunkSize        int    `toml:"chunk_size"`
}

type Janitor struct {
	Cron             string `toml:"cron"`
	RetentionMinutes int    `toml:"retention_minutes"` // 清理多少分钟之前的产物
	Ledger           string `toml:"ledger"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

type Metrics struct {
	Listen string `toml:"listen"`
}

// LoadConfig reads a TOML config. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every field defaulted.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.Root.Type == "" {
		c.Root.Type = "local"
	}
	if c.Root.Path == "" && c.Root.Type == "local" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve served root: %w", err)
		}
		c.Root.Path = home
	}
	if c.Archive.ScratchDir == "" {
		c.Archive.ScratchDir = filepath.Join(os.TempDir(), "filecatalog")
	}
	if c.Archive.CompressionLevel == nil {
		level := DefaultCompression
		c.Archive.CompressionLevel = &level
	}
	if c.Archive.ChunkSize == 0 {
		c.Archive.ChunkSize = DefaultChunkSize
	}
	if c.Janitor.Cron == "" {
		c.Janitor.Cron = DefaultJanitorCron
	}
	if c.Janitor.RetentionMinutes == 0 {
		c.Janitor.RetentionMinutes = DefaultRetentionMinutes
	}
	if c.Janitor.Ledger == "" {
		c.Janitor.Ledger = filepath.Join(c.Archive.ScratchDir, "ledger.json")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Root.Type {
	case "local":
		if c.Root.Path == "" {
			return fmt.Errorf("root.path is required")
		}
		if err := checkScratchDir(c.Root.Path, c.Archive.ScratchDir); err != nil {
			return err
		}
	case "sftp", "ftp":
		if c.Root.Auth == nil {
			return fmt.Errorf("root.auth required for %s", c.Root.Type)
		}
		if c.Root.Auth.Host == "" {
			return fmt.Errorf("root.auth.host required for %s", c.Root.Type)
		}
	default:
		return fmt.Errorf("unknown root type: %s", c.Root.Type)
	}
	if c.MaxLineBytes < 16 {
		return fmt.Errorf("max_line_bytes must be at least 16, got %d", c.MaxLineBytes)
	}
	if c.Archive.ChunkSize <= 0 {
		return fmt.Errorf("archive.chunk_size must be positive, got %d", c.Archive.ChunkSize)
	}
	if lvl := *c.Archive.CompressionLevel; lvl < -2 || lvl > 9 {
		return fmt.Errorf("archive.compression_level out of range: %d", lvl)
	}
	if c.Janitor.RetentionMinutes < 0 {
		return fmt.Errorf("janitor.retention_minutes must not be negative")
	}
	if _, err := cron.ParseStandard(c.Janitor.Cron); err != nil {
		return fmt.Errorf("invalid janitor.cron %q: %w", c.Janitor.Cron, err)
	}
	return nil
}

// checkScratchDir rejects a scratch dir that is the served root or one of its
// ancestors; the janitor deletes files under it. A scratch dir below the root
// is fine, scans skip it.
func checkScratchDir(root, scratch string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root.path: %w", err)
	}
	absScratch, err := filepath.Abs(scratch)
	if err != nil {
		return fmt.Errorf("resolve archive.scratch_dir: %w", err)
	}
	rel, err := filepath.Rel(absScratch, absRoot)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("archive.scratch_dir %s must not contain root.path %s", scratch, root)
	}
	return nil
}
