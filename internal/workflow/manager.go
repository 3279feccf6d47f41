// Package workflow coordinates the pipeline stages: each registered stage
// runs its own claim loop against the shared store, and a sweeper goroutine
// reclaims work abandoned by crashed processes.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"threadmap/internal/config"
	"threadmap/internal/logging"
	"threadmap/internal/services"
	"threadmap/internal/stage"
	"threadmap/internal/store"
)

// Manager coordinates pipeline processing using registered stage handlers.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	handlers []stage.Handler

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	staleClaimTimeout  time.Duration
	sweepInterval      time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager over the given stage handlers.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, handlers ...stage.Handler) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:                cfg,
		store:              st,
		logger:             logging.NewComponentLogger(logger, "workflow"),
		handlers:           handlers,
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		staleClaimTimeout:  time.Duration(cfg.Workflow.StaleClaimTimeout) * time.Second,
		sweepInterval:      time.Duration(cfg.Workflow.SweepInterval) * time.Second,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(m.handlers) + 1)
	m.mu.Unlock()

	for _, handler := range m.handlers {
		go m.runStage(runCtx, handler)
	}
	go m.runSweeper(runCtx)

	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the manager has active stage loops.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent stage loop error.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Health reports the readiness of every registered stage.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	health := make([]stage.Health, 0, len(m.handlers))
	for _, handler := range m.handlers {
		health = append(health, handler.HealthCheck(ctx))
	}
	return health
}

func (m *Manager) runStage(ctx context.Context, handler stage.Handler) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldStage, handler.Name()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Every claim cycle gets its own correlation id so one unit of
		// work can be traced across processes in the shared log stream.
		cycleCtx := services.WithRequestID(ctx, uuid.NewString())

		handled, err := handler.RunOnce(cycleCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("stage cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "stage_cycle_failed"),
			)
			if !m.sleep(ctx, m.errorRetryInterval) {
				return
			}
			continue
		}
		if handled == 0 {
			if !m.sleep(ctx, m.pollInterval) {
				return
			}
		}
	}
}

func (m *Manager) runSweeper(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldComponent, "sweeper"))

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reclaimed, err := m.store.ResetStuck(ctx, m.staleClaimTimeout)
		if err != nil {
			logger.Warn("stale claim sweep failed; stuck rows may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "sweep_failed"),
			)
			continue
		}
		if reclaimed > 0 {
			logger.Info("stale claims reclaimed",
				logging.Int64("rows", reclaimed),
				logging.String(logging.FieldEventType, "sweep_reclaimed"),
			)
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
