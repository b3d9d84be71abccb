package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "shutdown_duration_seconds",
	Help:    "Total time taken to shutdown gracefully",
	Buckets: []float64{1, 5, 10, 15, 20, 25, 30},
})

// ShutdownFunc represents a function that shuts down a component
type ShutdownFunc func(context.Context) error

type component struct {
	name string
	fn   ShutdownFunc
}

// Manager coordinates graceful shutdown. Components shut down in
// reverse registration order: workers first so no new work is created,
// HTTP servers next, the database pool last.
type Manager struct {
	logger     *zap.Logger
	mu         sync.Mutex
	components []component
	timeout    time.Duration
}

// NewManager creates a new shutdown manager
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a shutdown function, called in LIFO order on shutdown.
func (sm *Manager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.components = append(sm.components, component{name: name, fn: fn})
}

// RegisterHTTPServer registers an HTTP server's Shutdown method.
func (sm *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	sm.Register(name, server.Shutdown)
}

// RegisterCloser registers a component with a Close() error method.
func (sm *Manager) RegisterCloser(name string, closer interface{ Close() error }) {
	sm.Register(name, func(context.Context) error { return closer.Close() })
}

// RegisterNoErr registers a shutdown function without an error return.
func (sm *Manager) RegisterNoErr(name string, fn func()) {
	sm.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs Shutdown.
func (sm *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	sm.logger.Info("received shutdown signal",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", sm.timeout))

	sm.Shutdown()
}

// Shutdown runs all registered shutdown functions in reverse order
// under one deadline.
func (sm *Manager) Shutdown() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	components := make([]component, len(sm.components))
	copy(components, sm.components)
	sm.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		stepStart := time.Now()
		if err := c.fn(ctx); err != nil {
			sm.logger.Error("component shutdown failed",
				zap.String("component", c.name),
				zap.Error(err))
			continue
		}
		sm.logger.Info("component shut down",
			zap.String("component", c.name),
			zap.Duration("elapsed", time.Since(stepStart)))

		if ctx.Err() != nil {
			sm.logger.Warn("shutdown timeout exceeded",
				zap.Int("components_remaining", i))
			break
		}
	}

	shutdownDuration.Observe(time.Since(start).Seconds())
	sm.logger.Info("graceful shutdown complete",
		zap.Duration("elapsed", time.Since(start)))
}
