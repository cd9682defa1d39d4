package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/server/api"
	"github.com/vulntor/scanpilot/pkg/server/httpx"
	"github.com/vulntor/scanpilot/pkg/server/jobs"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// App orchestrates the server runtime components:
// - HTTP server (API)
// - Background run workers
// - Lifecycle management
type App struct {
	HTTP   *http.Server
	Jobs   jobs.Manager
	Ready  *atomic.Bool
	Config config.Config
	Deps   *Deps

	mu   sync.Mutex
	addr net.Addr
}

// New creates and configures a new server application.
func New(_ context.Context, cfg config.Config, deps *Deps) (*App, error) {
	if deps == nil {
		return nil, errors.New("server dependencies are required")
	}
	deps.Logger.Info().Msg("Initializing server application")

	apiCfg := api.ConfigFrom(cfg.Server)
	if err := apiCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid API configuration: %w", err)
	}

	jobsMgr := jobs.NewMemoryManager(cfg.Server.Concurrency, cfg.Server.QueueSize)
	ready := &atomic.Bool{}

	apiDeps := &api.Deps{
		Jobs:   jobsMgr,
		Ready:  ready,
		Config: apiCfg,
	}
	if deps.Storage != nil {
		apiDeps.Runs = deps.Storage.Runs()
	}
	if deps.Runs != nil {
		apiDeps.Launcher = &runLauncher{runs: deps.Runs, jobs: jobsMgr, cfg: cfg}
	} else {
		deps.Logger.Warn().Msg("Run submission disabled: no run service configured")
	}
	if apiCfg.Token == "" {
		deps.Logger.Warn().Msg("API authentication disabled: server.token is empty")
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Addr, strconv.Itoa(cfg.Server.Port)),
		Handler:           httpx.NewRouter(apiDeps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return &App{
		HTTP:   httpServer,
		Jobs:   jobsMgr,
		Ready:  ready,
		Config: cfg,
		Deps:   deps,
	}, nil
}

// Addr returns the bound listener address once Run has started listening.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Run starts the server and blocks until ctx is done or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.HTTP.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	a.Deps.Logger.Info().
		Str("addr", ln.Addr().String()).
		Int("concurrency", a.Config.Server.Concurrency).
		Int("queue_size", a.Config.Server.QueueSize).
		Msg("Starting scanpilot server")

	serverErr := make(chan error, 1)
	go func() {
		if err := a.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if err := a.Jobs.Start(ctx); err != nil {
		_ = a.HTTP.Close()
		return fmt.Errorf("start jobs: %w", err)
	}

	a.Ready.Store(true)
	a.Deps.Logger.Info().Msg("Server is ready and accepting connections")

	select {
	case <-ctx.Done():
		a.Deps.Logger.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		a.Deps.Logger.Error().Err(err).Msg("Server error")
		_ = a.shutdown()
		return err
	}

	return a.shutdown()
}

// shutdown performs graceful shutdown of all components. Every component
// is stopped even when an earlier one fails; the first error is returned.
func (a *App) shutdown() error {
	a.Deps.Logger.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	a.Ready.Store(false)

	var errs []error

	a.Deps.Logger.Info().Msg("Shutting down HTTP server...")
	if err := a.HTTP.Shutdown(shutdownCtx); err != nil {
		a.Deps.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
		errs = append(errs, err)
	}

	a.Deps.Logger.Info().Msg("Stopping run workers...")
	if err := a.Jobs.Stop(shutdownCtx); err != nil {
		a.Deps.Logger.Error().Err(err).Msg("Jobs shutdown failed")
		errs = append(errs, err)
	}

	if a.Deps.Storage != nil {
		a.Deps.Logger.Info().Msg("Closing storage backend...")
		if err := a.Deps.Storage.Close(); err != nil {
			a.Deps.Logger.Error().Err(err).Msg("Storage close failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	a.Deps.Logger.Info().Msg("Server shutdown complete")
	return nil
}
