// Package server accepts catalog clients and runs one dispatch loop per
// connection.
package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"filecatalog/config"
	"filecatalog/core"
	"filecatalog/metrics"
	"filecatalog/protocols"
)

type Options struct {
	Root             config.Root
	ScratchDir       string
	CompressionLevel int
	ChunkSize        int
	MaxLineBytes     int
	Ledger           *core.ArtifactLedger
	Log              *zap.Logger

	// OpenFS opens the served root for one session. Defaults to protocols.New.
	OpenFS func(config.Root) (protocols.FileSystem, error)
}

// OptionsFromConfig maps the loaded configuration onto server options.
func OptionsFromConfig(cfg *config.Config, ledger *core.ArtifactLedger, log *zap.Logger) Options {
	return Options{
		Root:             cfg.Root,
		ScratchDir:       cfg.Archive.ScratchDir,
		CompressionLevel: *cfg.Archive.CompressionLevel,
		ChunkSize:        cfg.Archive.ChunkSize,
		MaxLineBytes:     cfg.MaxLineBytes,
		Ledger:           ledger,
		Log:              log,
	}
}

type Server struct {
	opts Options
	log  *zap.Logger

	// exclude is the scratch area relative to a local root, kept out of scans.
	exclude []string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.OpenFS == nil {
		opts.OpenFS = protocols.New
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = config.DefaultChunkSize
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = config.DefaultMaxLineBytes
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(os.TempDir(), "filecatalog")
	}
	if opts.Ledger == nil {
		opts.Ledger = core.NewArtifactLedger(filepath.Join(opts.ScratchDir, "ledger.json"))
	}

	s := &Server{
		opts:  opts,
		log:   opts.Log,
		conns: make(map[net.Conn]struct{}),
	}
	if opts.Root.Type == "local" || opts.Root.Type == "" {
		if rel, err := filepath.Rel(opts.Root.Path, opts.ScratchDir); err == nil &&
			rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			s.exclude = []string{filepath.ToSlash(rel)}
		}
	}
	return s
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind failure
// is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, each handled on its own goroutine, until
// ctx is cancelled. Failed accepts are logged and retried with backoff. On
// return the listener and every live connection are closed and their
// goroutines have finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("catalog server listening", zap.String("addr", ln.Addr().String()), zap.String("root", s.opts.Root.Path))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		ln.Close()
		s.closeConns()
	}()
	defer func() {
		cancel()
		<-stopped
		s.wg.Wait()
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			metrics.AcceptError()
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

// ActiveConnections returns the number of connections currently served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	sess := newSession(s, conn)
	sess.log.Info("client connected")
	err := sess.run(ctx)
	sess.close()
	if err != nil && ctx.Err() == nil {
		sess.log.Warn("session ended with error", zap.Error(err))
		return
	}
	sess.log.Info("client disconnected")
}

// track registers conn, refusing once shutdown has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}
