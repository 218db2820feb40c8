// Package server provides the HTTP API for sqlscope dashboards.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/sqlscope/internal/dash"
	"github.com/leapstack-labs/sqlscope/internal/server/notifier"
	"github.com/leapstack-labs/sqlscope/internal/state"
	"golang.org/x/sync/errgroup"
)

// Server is the sqlscope API server. It serves dashboard state over HTTP,
// runs the periodic refresh loop and pushes update events to SSE clients.
type Server struct {
	hub        *dash.Hub
	journal    *state.Store
	listen     string
	interval   time.Duration
	jitter     time.Duration
	retention  time.Duration
	configPath string
	reload     func() error
	logger     *slog.Logger
	notifier   *notifier.Notifier
}

// Config holds configuration for the API server.
type Config struct {
	Hub     *dash.Hub
	Journal *state.Store

	// Listen is the address to bind, e.g. ":7333".
	Listen string

	// Interval between automatic refresh cycles. Zero disables the loop;
	// refreshes then only happen on demand through the API.
	Interval time.Duration

	// Jitter delays the first cycle by a random amount up to this value.
	Jitter time.Duration

	// Retention is how long journal rows are kept. Zero keeps them forever.
	Retention time.Duration

	// ConfigPath, when set together with Reload, is watched for changes;
	// Reload is invoked after each change settles.
	ConfigPath string
	Reload     func() error

	Logger *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	listen := cfg.Listen
	if listen == "" {
		listen = ":7333"
	}
	return &Server{
		hub:        cfg.Hub,
		journal:    cfg.Journal,
		listen:     listen,
		interval:   cfg.Interval,
		jitter:     cfg.Jitter,
		retention:  cfg.Retention,
		configPath: cfg.ConfigPath,
		reload:     cfg.Reload,
		logger:     logger,
		notifier:   notifier.New(),
	}
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting API server", "addr", s.listen, "instances", s.hub.Names())

	eg, egctx := errgroup.WithContext(ctx)

	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	h := NewHandlers(s.hub, s.journal, s.notifier, s.logger)
	h.Register(r)

	srv := &http.Server{
		Addr:    s.listen,
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the periodic refresh loop if enabled
	if s.interval > 0 {
		eg.Go(func() error {
			return s.refreshLoop(egctx)
		})
	}

	// Start config watcher if enabled
	if s.configPath != "" && s.reload != nil {
		eg.Go(func() error {
			return s.watchConfig(egctx)
		})
	}

	// Start HTTP server
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// refreshLoop drives the periodic refresh of every instance.
func (s *Server) refreshLoop(ctx context.Context) error {
	// Spread the first cycle across the jitter window so several sqlscope
	// processes pointed at the same instances do not sample in lockstep.
	if s.jitter > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(rand.N(s.jitter)):
		}
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle refreshes every instance, announces the results to SSE clients
// and prunes journal rows past retention.
func (s *Server) runCycle(ctx context.Context) {
	for _, rep := range s.hub.RefreshAll(ctx) {
		announce(s.notifier, rep)
	}

	if s.retention <= 0 || s.journal == nil {
		return
	}
	pruned, err := s.journal.PruneBefore(time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("journal prune failed", "error", err)
	} else if pruned > 0 {
		s.logger.Debug("journal pruned", "runs", pruned)
	}
}

// watchConfig watches the config file and invokes the reload callback
// after changes settle.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory rather than the file: editors replace config
	// files by rename, which drops a watch held on the file itself.
	if err := watcher.Add(filepath.Dir(s.configPath)); err != nil {
		s.logger.Error("failed to watch config directory", "path", s.configPath, "error", err)
		// Don't fail - continue without watching
		return nil
	}

	// Debounce timer
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.configPath) {
				continue
			}

			// Debounce
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Info("config changed, reloading", "file", event.Name)
				if err := s.reload(); err != nil {
					s.logger.Error("config reload failed", "error", err)
				}
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", "error", err)
		}
	}
}
