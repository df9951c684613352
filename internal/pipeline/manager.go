package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"soundstage/internal/jobs"
	"soundstage/internal/logging"
	"soundstage/internal/metrics"
)

const (
	pollInterval  = 500 * time.Millisecond
	gaugeInterval = 10 * time.Second
)

// Manager runs pending jobs on a bounded worker pool. Each worker claims
// the oldest pending job and drives it through the orchestrator; claims are
// atomic so concurrent workers never double-run a job.
type Manager struct {
	orc     *Orchestrator
	store   *jobs.Store
	workers int
	logger  *slog.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewManager builds a manager with the configured worker count.
func NewManager(orc *Orchestrator, store *jobs.Store, workers int, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		orc:     orc,
		store:   store,
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "manager"),
		wake:    make(chan struct{}, 1),
	}
}

// Start requeues jobs stranded by an earlier shutdown and launches the
// workers. It returns immediately; call Wait to block until shutdown.
func (m *Manager) Start(ctx context.Context) error {
	reset, err := m.store.ResetStuckRunning(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		m.logger.Info("requeued interrupted jobs", logging.Int64("count", reset))
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.wg.Add(1)
	go m.gaugeLoop(ctx)

	m.logger.Info("manager started", logging.Int("workers", m.workers))
	return nil
}

// Notify wakes an idle worker after a submission. Safe to call from any
// goroutine; a full wake buffer means a worker is already about to look.
func (m *Manager) Notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until all workers have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim pending job", logging.Error(err))
		}
		if job != nil {
			if err := m.orc.Run(ctx, job); err != nil && ctx.Err() == nil {
				logger.Error("job run failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.Error(err))
			}
			// Look for more work immediately after finishing a job.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(pollInterval):
		}
	}
}

// gaugeLoop refreshes the per-status job gauges.
func (m *Manager) gaugeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := m.store.Stats(ctx)
			if err != nil {
				continue
			}
			counts := make(map[string]int, len(stats))
			for status, count := range stats {
				counts[string(status)] = count
			}
			metrics.SetJobStatusCounts(counts)
		}
	}
}
