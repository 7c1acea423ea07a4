package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vpn-shop-bot/internal/logger"
)

// Manager handles graceful shutdown coordination
type Manager struct {
	logger    *logger.Logger
	timeout   time.Duration
	callbacks []func(context.Context) error
	mu        sync.Mutex
}

// NewManager creates a new shutdown manager
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  log,
		timeout: timeout,
	}
}

// Register registers a shutdown callback. Callbacks run in reverse
// registration order so dependents stop before their dependencies.
func (m *Manager) Register(callback func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Wait blocks until a shutdown signal is received, then runs the callbacks
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	m.Shutdown()
}

// Shutdown executes all registered callbacks with timeout
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("Starting graceful shutdown")

	m.mu.Lock()
	callbacks := make([]func(context.Context) error, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(callbacks) - 1; i >= 0; i-- {
			if err := callbacks[i](ctx); err != nil {
				m.logger.WithField("callback", i).ErrorErr(err, "Shutdown callback failed")
			}
		}
	}()

	select {
	case <-done:
		m.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		m.logger.Warn("Shutdown timeout exceeded, forcing exit")
	}
}
