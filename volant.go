// Package volant is an event-interface HTTP/1.x server: it parses raw
// byte streams into requests and drives an application handler through a
// scope plus receive/send event operations, with watermark-based flow
// control and coordinated graceful shutdown.
package volant

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dchest/uniuri"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/codec/http1"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/internal/conn"
	"github.com/volant-web/volant/internal/flow"
	"github.com/volant-web/volant/internal/tcp"
	"github.com/volant-web/volant/lifecycle"
	"github.com/volant-web/volant/telemetry"
)

type ListenerConstructor func(network, addr string) (net.Listener, error)

type Listener struct {
	Addr        string
	Constructor ListenerConstructor
}

// App ties the pieces together: listeners, the wire codec, the lifecycle
// manager and the connection engines it spawns.
type App struct {
	addr      string
	cfg       *config.Config
	wire      codec.Codec
	log       *zap.Logger
	metrics   *telemetry.Metrics
	listeners []Listener
	startup   []lifecycle.Hook
	shutdown  []lifecycle.Hook
	mgr       atomic.Pointer[lifecycle.Manager]
}

// New returns a new App serving on addr with default settings.
func New(addr string) *App {
	return &App{
		addr:    addr,
		cfg:     config.Default(),
		wire:    http1.Codec{},
		log:     telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
	}
}

// Tune replaces the default config.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

// UseLogger replaces the default nop logger.
func (a *App) UseLogger(log *zap.Logger) *App {
	a.log = log
	return a
}

// UseCodec selects the wire protocol implementation. The choice is fixed
// for the life of the app.
func (a *App) UseCodec(wire codec.Codec) *App {
	a.wire = wire
	return a
}

// Instrument registers the server's metrics with the given registerer.
func (a *App) Instrument(reg prometheus.Registerer) *App {
	a.metrics = telemetry.NewMetrics(reg)
	return a
}

// OnStartup registers hooks executed before any socket is served. A
// failing hook aborts the start.
func (a *App) OnStartup(hooks ...lifecycle.Hook) *App {
	a.startup = append(a.startup, hooks...)
	return a
}

// OnShutdown registers hooks executed once the last connection is gone.
func (a *App) OnShutdown(hooks ...lifecycle.Hook) *App {
	a.shutdown = append(a.shutdown, hooks...)
	return a
}

// Listen adds an extra listening address.
func (a *App) Listen(addr string, optionalConstructor ...ListenerConstructor) *App {
	constructor := net.Listen
	if len(optionalConstructor) > 0 && optionalConstructor[0] != nil {
		constructor = optionalConstructor[0]
	}

	a.listeners = append(a.listeners, Listener{Addr: addr, Constructor: constructor})

	return a
}

// Serve runs the application until a termination signal or a configured
// limit shuts it down.
func (a *App) Serve(handler http.Handler) error {
	return a.ServeContext(context.Background(), handler)
}

// ServeContext is Serve with an external lifetime attached: cancelling
// ctx acts like a termination signal.
func (a *App) ServeContext(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = NotFound
	}

	mgr := lifecycle.NewManager(a.cfg.Limits, a.log, a.metrics)
	mgr.OnStartup(a.startup...)
	mgr.OnShutdown(a.shutdown...)
	a.mgr.Store(mgr)

	if a.addr != "" {
		a.Listen(a.addr, net.Listen)
	}
	servers, err := a.bind(handler, mgr)
	if err != nil {
		return err
	}

	return mgr.Run(ctx, servers)
}

// GracefulStop stops accepting new connections, but keeps serving the
// in-flight requests until the configured deadline.
func (a *App) GracefulStop() {
	if mgr := a.mgr.Load(); mgr != nil {
		mgr.GracefulStop()
	}
}

// Stop stops the whole application immediately.
func (a *App) Stop() {
	if mgr := a.mgr.Load(); mgr != nil {
		mgr.ForceStop()
	}
}

func (a *App) bind(handler http.Handler, mgr *lifecycle.Manager) ([]*tcp.Server, error) {
	servers := make([]*tcp.Server, 0, len(a.listeners))

	for _, listener := range a.listeners {
		sock, err := listener.Constructor("tcp", listener.Addr)
		if err != nil {
			tcp.StopAll(servers)
			return nil, fmt.Errorf("volant: listen %s: %w", listener.Addr, err)
		}

		servers = append(servers, tcp.NewServer(sock, a.newConnCallback(handler, mgr)))
	}

	return servers, nil
}

func (a *App) newConnCallback(handler http.Handler, mgr *lifecycle.Manager) tcp.OnConn {
	return func(netConn net.Conn) {
		client := tcp.NewClient(netConn, a.cfg.NET.ReadTimeout, make([]byte, a.cfg.NET.ReadBufferSize))

		if !mgr.TryAcquireConn() {
			a.refuse(client)
			return
		}
		defer mgr.ReleaseConn()

		log := a.log.With(zap.String("conn_id", uniuri.NewLen(8)))
		engine := conn.New(
			client, a.cfg, a.wire, flow.New(a.cfg.Flow),
			handler, log, a.metrics, mgr.RequestServed, mgr.Graceful(),
		)
		engine.Run(mgr.BaseContext())
	}
}

// refuse answers a connection beyond the concurrency cap with 503 and
// closes it.
func (a *App) refuse(client tcp.Client) {
	ser := a.wire.NewSerializer(a.cfg)
	body := []byte(status.Text(status.ServiceUnavailable))

	head := ser.Start(http.HTTP11, status.ServiceUnavailable, nil, codec.Framing{
		ContentLength: int64(len(body)),
	})
	_ = client.Write(head)
	_ = client.Write(body)
	_ = client.Close()
}

// NotFound is the handler of last resort, answering every request with
// an empty 404.
func NotFound(ctx context.Context, _ *http.Scope, _ http.Receiver, send http.Sender) error {
	if err := send(ctx, http.ResponseStart(status.NotFound)); err != nil {
		return err
	}

	return send(ctx, http.ResponseBody(nil, false))
}
