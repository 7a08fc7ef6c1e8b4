// Package lifecycle drives the process-wide state machine: startup,
// serving, graceful or forced shutdown. Signals never execute any
// handler-visible code; they merely feed a channel consumed by the
// manager's own goroutine.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/internal/tcp"
	"github.com/volant-web/volant/telemetry"
)

type State int32

const (
	StateStarting State = iota + 1
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Manager owns the process lifecycle. It holds a weak registry of live
// connections (a count plus a broadcast channel, not ownership): the
// connection engines insert and remove themselves, the manager only
// observes and broadcasts.
type Manager struct {
	log     *zap.Logger
	limits  config.Limits
	metrics *telemetry.Metrics

	state    atomic.Int32
	requests atomic.Uint64
	active   atomic.Int64

	base   context.Context
	cancel context.CancelFunc

	graceful chan struct{}
	forced   chan struct{}

	gracefulOnce sync.Once
	forcedOnce   sync.Once
	deadline     *time.Timer

	startup  []Hook
	shutdown []Hook

	servers []*tcp.Server
}

func NewManager(limits config.Limits, log *zap.Logger, metrics *telemetry.Metrics) *Manager {
	base, cancel := context.WithCancel(context.Background())

	m := &Manager{
		log:      log,
		limits:   limits,
		metrics:  metrics,
		base:     base,
		cancel:   cancel,
		graceful: make(chan struct{}),
		forced:   make(chan struct{}),
	}
	m.state.Store(int32(StateStarting))

	return m
}

// OnStartup registers hooks executed before any socket is served. A
// failing startup hook aborts the process start.
func (m *Manager) OnStartup(hooks ...Hook) {
	m.startup = append(m.startup, hooks...)
}

// OnShutdown registers hooks executed after the last connection closed.
// Their errors are logged but never block process exit.
func (m *Manager) OnShutdown(hooks ...Hook) {
	m.shutdown = append(m.shutdown, hooks...)
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// BaseContext is the ancestor of every handler context. It is cancelled
// on forced shutdown only.
func (m *Manager) BaseContext() context.Context {
	return m.base
}

// Graceful is closed when connections must finish their in-flight
// request and close.
func (m *Manager) Graceful() <-chan struct{} {
	return m.graceful
}

// Run serves until a termination signal, the request limit, or a fatal
// listener error stops the process. ctx cancellation is treated like a
// termination signal.
func (m *Manager) Run(ctx context.Context, servers []*tcp.Server) error {
	m.servers = servers

	m.log.Info("waiting for application startup")
	for _, hook := range m.startup {
		if err := hook.Run(ctx); err != nil {
			m.state.Store(int32(StateStopped))
			m.log.Error("application startup failed", zap.Error(err))
			tcp.StopAll(servers)
			m.cancel()
			return err
		}
	}
	m.log.Info("application startup complete")

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, signalSet()...)
	defer signal.Stop(sig)

	m.state.Store(int32(StateRunning))
	m.log.Info("started server process", zap.Int("pid", os.Getpid()))

	var g errgroup.Group
	for _, server := range servers {
		g.Go(server.Start)
	}

	watchDone := make(chan struct{})
	go m.watch(ctx, sig, watchDone)

	err := g.Wait()
	tcp.WaitAll(servers)

	// every connection is gone; a pending force deadline is moot now
	m.ForceStop()
	<-watchDone
	m.state.Store(int32(StateStopped))

	for _, hook := range m.shutdown {
		if hookErr := hook.Run(context.Background()); hookErr != nil {
			m.log.Error("application shutdown failed", zap.Error(hookErr))
		}
	}

	m.log.Info("finished server process", zap.Int("pid", os.Getpid()))

	switch err {
	case status.ErrShutdown, status.ErrGracefulShutdown:
		return nil
	default:
		return err
	}
}

// watch translates asynchronous shutdown causes into state transitions.
// It is the only place signal receipt is acted upon.
func (m *Manager) watch(ctx context.Context, sig <-chan os.Signal, done chan<- struct{}) {
	defer close(done)

	select {
	case <-sig:
		m.GracefulStop()
	case <-ctx.Done():
		m.GracefulStop()
	case <-m.graceful:
	case <-m.forced:
		return
	}

	// a second signal while stopping bypasses the deadline
	select {
	case <-sig:
		m.log.Warn("received second termination signal, forcing shutdown")
		m.ForceStop()
	case <-m.forced:
	}
}

// GracefulStop stops accepting new connections and asks the live ones to
// finish their in-flight request, bounded by the configured deadline.
func (m *Manager) GracefulStop() {
	m.gracefulOnce.Do(func() {
		m.state.Store(int32(StateStopping))
		m.log.Info("shutting down")

		tcp.PauseAll(m.servers)
		close(m.graceful)

		if m.limits.GracefulTimeout > 0 {
			m.deadline = time.AfterFunc(m.limits.GracefulTimeout, func() {
				m.log.Warn("graceful shutdown deadline expired, forcing close",
					zap.Duration("graceful_timeout", m.limits.GracefulTimeout),
				)
				m.ForceStop()
			})
			m.log.Info("waiting for connections to close (interrupt again to force quit)")
		}
	})
}

// ForceStop closes every socket unconditionally and cancels all handler
// contexts.
func (m *Manager) ForceStop() {
	m.forcedOnce.Do(func() {
		m.GracefulStop()
		if m.deadline != nil {
			m.deadline.Stop()
		}

		close(m.forced)
		m.cancel()
		tcp.StopAll(m.servers)
	})
}

// TryAcquireConn reserves a connection slot, refusing when the
// concurrency cap is reached.
func (m *Manager) TryAcquireConn() bool {
	total := m.active.Add(1)
	if m.limits.MaxConcurrency > 0 && total > m.limits.MaxConcurrency {
		m.active.Add(-1)
		m.metrics.ConnectionsRefused.Inc()
		return false
	}

	m.metrics.ConnectionsTotal.Inc()
	m.metrics.ConnectionsActive.Inc()

	return true
}

// ReleaseConn returns a slot taken by TryAcquireConn.
func (m *Manager) ReleaseConn() {
	m.active.Add(-1)
	m.metrics.ConnectionsActive.Dec()
}

// ActiveConns returns the number of currently served connections.
func (m *Manager) ActiveConns() int64 {
	return m.active.Load()
}

// RequestServed advances the process-wide request counter and initiates
// a graceful shutdown once the configured maximum is reached.
func (m *Manager) RequestServed() {
	served := m.requests.Add(1)

	if m.limits.MaxRequests > 0 && served >= m.limits.MaxRequests &&
		m.State() == StateRunning {
		m.log.Warn("maximum request limit exceeded, terminating process",
			zap.Uint64("limit_max_requests", m.limits.MaxRequests),
		)
		go m.GracefulStop()
	}
}

// RequestsServed returns the process-wide request counter.
func (m *Manager) RequestsServed() uint64 {
	return m.requests.Load()
}
