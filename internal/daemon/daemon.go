// Package daemon wires the long-running process: job store, stage cache,
// executors, worker manager, and HTTP API, guarded by a single-instance
// file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"soundstage/internal/artifacts"
	"soundstage/internal/config"
	"soundstage/internal/jobs"
	"soundstage/internal/logging"
	"soundstage/internal/pipeline"
	"soundstage/internal/server"
	"soundstage/internal/services/demucs"
	"soundstage/internal/services/gemini"
	"soundstage/internal/services/whisperx"
	"soundstage/internal/stage"
	"soundstage/internal/stagecache"
)

// Daemon owns the background services and enforces single-instance
// execution via a lock file in the log directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *jobs.Store
	blobs   *artifacts.Store
	cache   *stagecache.Cache
	manager *pipeline.Manager
	server  *server.Server

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	cancel    context.CancelFunc
	serverErr chan error
}

// New constructs the daemon and all of its dependencies from config.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	blobs := artifacts.NewStore(cfg.Paths.DataDir)
	cache := stagecache.New(blobs, cfg.CacheDir(), logger)

	executors, err := buildExecutors(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	orc, err := pipeline.NewOrchestrator(cfg, store, blobs, cache, executors, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	manager := pipeline.NewManager(orc, store, cfg.Pipeline.JobWorkers, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "soundstage.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		blobs:     blobs,
		cache:     cache,
		manager:   manager,
		server:    server.New(cfg, orc, store, blobs, cache, manager, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		serverErr: make(chan error, 1),
	}, nil
}

func buildExecutors(cfg *config.Config, logger *slog.Logger) ([]stage.Executor, error) {
	sep, err := demucs.NewExecutor(cfg.Separation, logger)
	if err != nil {
		return nil, err
	}
	tr, err := whisperx.NewExecutor(cfg.Transcription, logger)
	if err != nil {
		return nil, err
	}
	pos, err := gemini.NewExecutor(cfg.Position, logger)
	if err != nil {
		return nil, err
	}
	return []stage.Executor{sep, tr, pos}, nil
}

// Start acquires the instance lock and launches workers and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another soundstage daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start manager: %w", err)
	}
	go func() {
		d.serverErr <- d.server.Start()
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("bind", d.cfg.Paths.APIBind))
	return nil
}

// Wait blocks until the context used for Start ends or the HTTP listener
// fails.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.serverErr:
		return err
	}
}

// Stop drains the API, stops the workers, and releases the lock.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	var firstErr error
	if err := d.server.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.manager.Wait()

	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
	return firstErr
}
