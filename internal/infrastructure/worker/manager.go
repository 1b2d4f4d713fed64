// Package worker hosts the background jobs of the reconciliation server:
// the daily batch scheduler and startup recovery of orphaned batches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background job with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager starts and stops registered workers in order
type Manager struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers []Worker
	started []Worker
	cancel  context.CancelFunc
}

// NewManager creates an empty worker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a worker; it must be called before StartAll
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, w)
	m.logger.Debug("Worker registered", zap.String("worker", w.Name()))
}

// StartAll starts every worker under a context derived from ctx. A worker
// that fails to start is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Worker failed to start", zap.String("worker", w.Name()), zap.Error(err))
			continue
		}
		m.started = append(m.started, w)
		m.logger.Info("Worker started", zap.String("worker", w.Name()))
	}
	return nil
}

// StopAll stops started workers in reverse order and reports every failure
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		w := m.started[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Worker failed to stop", zap.String("worker", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker", w.Name()))
	}
	m.started = nil

	return errors.Join(errs...)
}

// Running returns the names of started workers
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.started))
	for _, w := range m.started {
		names = append(names, w.Name())
	}
	return names
}
