// Package conn implements the per-connection engine: it drives the wire
// codec over the socket, sequences request and response events against
// the application through a request bridge, and applies the flow
// controller's pause/resume and backpressure decisions.
package conn

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/internal/bridge"
	"github.com/volant-web/volant/internal/flow"
	"github.com/volant-web/volant/internal/task"
	"github.com/volant-web/volant/internal/tcp"
	"github.com/volant-web/volant/telemetry"
)

const writeBacklog = 16

// errBodyAbandoned is raised when the handler finished while its request
// body was still arriving; the connection cannot be reused then.
var errBodyAbandoned = errors.New("request body abandoned by the handler")

// Record carries per-connection accounting shared with the lifecycle
// manager's registry.
type Record struct {
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
	Requests     atomic.Uint64
}

type writeItem struct {
	data    []byte
	barrier chan struct{}
}

// Conn owns exactly one accepted connection for its whole life.
type Conn struct {
	client  tcp.Client
	cfg     *config.Config
	parser  codec.Parser
	ser     codec.Serializer
	flow    *flow.Controller
	handler http.Handler
	log     *zap.Logger
	metrics *telemetry.Metrics

	// onRequest lets the lifecycle manager count requests process-wide.
	onRequest func()
	// graceful is closed when the lifecycle manager asks every connection
	// to finish its in-flight request and go away.
	graceful <-chan struct{}

	record Record
	state  State
	bag    http.State

	writeQ      chan writeItem
	writeDone   chan struct{}
	writeFailed atomic.Bool
}

func New(
	client tcp.Client,
	cfg *config.Config,
	wire codec.Codec,
	fc *flow.Controller,
	handler http.Handler,
	log *zap.Logger,
	metrics *telemetry.Metrics,
	onRequest func(),
	graceful <-chan struct{},
) *Conn {
	return &Conn{
		client:    client,
		cfg:       cfg,
		parser:    wire.NewParser(cfg),
		ser:       wire.NewSerializer(cfg),
		flow:      fc,
		handler:   handler,
		log:       log,
		metrics:   metrics,
		onRequest: onRequest,
		graceful:  graceful,
		bag:       http.State{},
		writeQ:    make(chan writeItem, writeBacklog),
		writeDone: make(chan struct{}),
	}
}

// Stats exposes the connection's accounting counters.
func (c *Conn) Stats() *Record {
	return &c.record
}

// Run serves requests until the connection dies, the peer refuses reuse,
// or the process shuts down. ctx is the process base context: cancelling
// it force-closes the connection and cancels the in-flight handler.
func (c *Conn) Run(ctx context.Context) {
	go c.writeLoop()

	defer func() {
		c.state = StateClosing
		close(c.writeQ)
		<-c.writeDone
		c.state = StateClosed
		_ = c.client.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.client.Close() })
	defer stop()

	for c.serveRequest(ctx) {
	}
}

// serveRequest handles a single request/response exchange, reporting
// whether the connection may serve another one.
func (c *Conn) serveRequest(ctx context.Context) (again bool) {
	c.state = StateAwaitingRequest

	head, extra, ok := c.parseHead(ctx)
	if !ok {
		return false
	}

	began := time.Now()
	c.record.Requests.Add(1)
	c.metrics.RequestsTotal.Inc()
	c.onRequest()

	if head.ExpectContinue && head.Proto == http.HTTP11 {
		// the serializer is not shared with the handler task yet, so
		// rendering here is safe
		if err := c.enqueueResponse(c.ser.Informational(head.Proto, status.Continue)); err != nil {
			return false
		}
	}

	scope := &http.Scope{
		Proto:    head.Proto,
		Method:   head.Method,
		Path:     head.Path,
		RawQuery: head.RawQuery,
		Headers:  head.Headers,
		Client:   c.client.Remote(),
		Server:   c.client.Local(),
		State:    c.bag,
	}

	br := bridge.New(c.flow, c.ser, head, c.enqueueResponse, c.closingRequested)
	tsk := task.Launch(ctx, c.handler, scope, br.Receive, br.Send)

	c.state = StateReadingBody
	leftover, bodyErr := c.relayBody(ctx, br, tsk, extra)

	c.state = StateAwaitingResponse
	handlerErr := tsk.Wait()
	br.Reclaim()

	if !c.finishResponse(br, handlerErr, bodyErr) {
		return false
	}

	c.flushBarrier()
	c.observe(br, scope, began)

	keepAlive := bodyErr == nil && br.KeepAlive() && !c.closingRequested() && !c.writeFailed.Load()
	if !keepAlive {
		return false
	}

	c.parser.Release()
	c.client.Unread(leftover)

	return true
}

// parseHead feeds socket bytes to the parser until a full request head
// arrived. Malformed input is answered with a 400-class response when
// feasible.
func (c *Conn) parseHead(ctx context.Context) (head *codec.RequestHead, extra []byte, ok bool) {
	for {
		data, err := c.client.Read()
		if err != nil {
			// idle or half-written heads are not worth an error response
			return nil, nil, false
		}

		c.record.BytesRead.Add(uint64(len(data)))
		c.metrics.BytesRead.Add(float64(len(data)))

		done, extra, err := c.parser.Parse(data)
		if err != nil {
			c.respondError(err)
			return nil, nil, false
		}
		if !done {
			if ctx.Err() != nil {
				return nil, nil, false
			}
			continue
		}

		return c.parser.Head(), extra, true
	}
}

// relayBody decodes the request body and pushes it through the bridge,
// honoring the flow controller's pause signal. It returns the pipelined
// leftover bytes once the body is complete.
func (c *Conn) relayBody(
	ctx context.Context, br *bridge.Bridge, tsk *task.Task, data []byte,
) (leftover []byte, err error) {
	decoder := c.parser.Body()

	for {
		piece, rest, done, err := decoder.Next(data)
		if err != nil {
			br.Disconnect()
			c.respondError(err)
			return nil, err
		}

		if len(piece) > 0 || done {
			// the piece aliases the read buffer, the bridge outlives it
			body := append([]byte(nil), piece...)
			c.flow.OnBytesRead(len(body))

			event := http.ReceiveEvent{Kind: http.ReceiveRequest, Body: body, More: !done}
			if err = c.push(ctx, br, tsk, event); err != nil {
				return nil, err
			}
		}

		if done {
			return rest, nil
		}

		data = rest
		if len(data) > 0 {
			continue
		}

		if err = c.awaitReadable(ctx, tsk); err != nil {
			return nil, err
		}

		data, err = c.client.Read()
		if err != nil {
			br.Disconnect()
			return nil, err
		}

		c.record.BytesRead.Add(uint64(len(data)))
		c.metrics.BytesRead.Add(float64(len(data)))
	}
}

func (c *Conn) push(
	ctx context.Context, br *bridge.Bridge, tsk *task.Task, event http.ReceiveEvent,
) error {
	select {
	case <-tsk.Done():
		// the handler is gone and will not drain the backlog
		c.flow.OnBytesConsumed(len(event.Body))
		return errBodyAbandoned
	default:
	}

	pushCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pushed := make(chan error, 1)
	go func() {
		pushed <- br.Push(pushCtx, event)
	}()

	select {
	case err := <-pushed:
		return err
	case <-tsk.Done():
		cancel()
		if err := <-pushed; err == nil {
			// the event still made it in, the bridge will reclaim it
			return errBodyAbandoned
		}
		c.flow.OnBytesConsumed(len(event.Body))
		return errBodyAbandoned
	}
}

func (c *Conn) awaitReadable(ctx context.Context, tsk *task.Task) error {
	if !c.flow.ShouldPauseReading() {
		return nil
	}

	select {
	case <-c.flow.Resumed():
		return nil
	case <-tsk.Done():
		return errBodyAbandoned
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishResponse settles the response after the handler task ended,
// reporting whether the connection survived the exchange.
func (c *Conn) finishResponse(br *bridge.Bridge, handlerErr, bodyErr error) bool {
	switch {
	case handlerErr == nil && br.Completed():
		return true
	case handlerErr == nil:
		handlerErr = errors.New("handler returned without completing the response")
		fallthrough
	default:
		c.log.Error("application error",
			zap.Error(handlerErr),
			zap.String("remote", addrString(c.client.Remote())),
		)

		if br.Started() {
			// a partial response cannot be retracted, abort the connection
			return false
		}

		// a malformed body was already answered with its own error response
		if bodyErr == nil {
			c.respondError(status.ErrInternalServerError)
		}

		return false
	}
}

// respondError renders a plain error response when committing one is
// still feasible.
func (c *Conn) respondError(err error) {
	code := status.ErrorCode(err)
	if httpErr, ok := err.(status.HTTPError); ok && httpErr.Code == status.CloseConnection {
		return
	}

	body := []byte(status.Text(code))
	framing := codec.Framing{ContentLength: int64(len(body))}

	_ = c.enqueueResponse(c.ser.Start(http.HTTP11, code, nil, framing))
	_ = c.enqueueResponse(body)
	c.flushBarrier()
	c.metrics.ResponsesTotal.WithLabelValues(telemetry.StatusClass(int(code))).Inc()
}

func (c *Conn) observe(br *bridge.Bridge, scope *http.Scope, began time.Time) {
	if !br.Started() {
		return
	}

	elapsed := time.Since(began)
	c.metrics.RequestDuration.Observe(elapsed.Seconds())
	c.metrics.ResponsesTotal.WithLabelValues(telemetry.StatusClass(int(br.Status()))).Inc()

	c.log.Info("request served",
		zap.String("remote", addrString(scope.Client)),
		zap.String("method", scope.Method),
		zap.String("path", scope.Path),
		zap.Uint16("status", uint16(br.Status())),
		zap.Duration("duration", elapsed),
	)
}

func (c *Conn) closingRequested() bool {
	select {
	case <-c.graceful:
		return true
	default:
		return false
	}
}

// enqueueResponse copies rendered bytes into the write queue. Used as the
// bridge's sink. Every accepted item is accounted as queued here, the
// write loop accounts it as flushed, so the two counters stay paired for
// interim and error responses as well.
func (c *Conn) enqueueResponse(b []byte) error {
	if c.writeFailed.Load() {
		return status.ErrCloseConnection
	}

	c.flow.OnBytesQueued(len(b))
	c.writeQ <- writeItem{data: append([]byte(nil), b...)}

	return nil
}

// flushBarrier blocks until everything queued so far hit the socket.
func (c *Conn) flushBarrier() {
	barrier := make(chan struct{})
	c.writeQ <- writeItem{barrier: barrier}
	<-barrier
}

func (c *Conn) writeLoop() {
	defer close(c.writeDone)

	for item := range c.writeQ {
		if item.barrier != nil {
			close(item.barrier)
			continue
		}

		if !c.writeFailed.Load() {
			if err := c.client.Write(item.data); err != nil {
				c.writeFailed.Store(true)
			} else {
				c.record.BytesWritten.Add(uint64(len(item.data)))
				c.metrics.BytesWritten.Add(float64(len(item.data)))
			}
		}

		c.flow.OnBytesFlushed(len(item.data))
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	return addr.String()
}
