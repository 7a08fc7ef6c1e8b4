// Package bridge adapts one connection's current request into the
// receive/send event interface the application consumes. It owns the
// protocol-order invariants: exactly one response start before any body,
// nothing after the terminal body event, and a disconnect that stays
// terminal once delivered.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/internal/flow"
)

const eventsBacklog = 8

type sendState uint8

const (
	sendIdle sendState = iota
	sendStarted
	sendDone
)

// Bridge lives for exactly one request. The connection pushes body events
// in on one side; the handler task receives and sends on the other.
type Bridge struct {
	flow    *flow.Controller
	ser     codec.Serializer
	head    *codec.RequestHead
	enqueue func([]byte) error
	// closing reports whether the connection was asked to go away after
	// the current request, so the committed response can say so.
	closing func() bool

	events       chan http.ReceiveEvent
	disconnected chan struct{}
	recvTerminal bool

	state          sendState
	status         status.Code
	declared       int64
	sent           int64
	noBody         bool
	keepAlive      bool
	violated       bool
	closeRequested bool
}

// New creates a bridge for the request described by head. Rendered
// response bytes are handed to enqueue, which must not retain them and
// which owns the write-side watermark accounting for accepted bytes.
func New(
	fc *flow.Controller,
	ser codec.Serializer,
	head *codec.RequestHead,
	enqueue func([]byte) error,
	closing func() bool,
) *Bridge {
	return &Bridge{
		flow:         fc,
		ser:          ser,
		head:         head,
		enqueue:      enqueue,
		closing:      closing,
		events:       make(chan http.ReceiveEvent, eventsBacklog),
		disconnected: make(chan struct{}),
		declared:     -1,
	}
}

// Push hands a body event over to the handler task, blocking when the
// backlog is full. The event's body must be owned by the caller's copy,
// not by the socket read buffer.
func (b *Bridge) Push(ctx context.Context, event http.ReceiveEvent) error {
	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect marks the peer as gone. Idempotent; safe to call while the
// handler task is blocked in Receive.
func (b *Bridge) Disconnect() {
	select {
	case <-b.disconnected:
	default:
		close(b.disconnected)
	}
}

// Receive returns the next body event, blocking until one is available.
// Body events queued before a disconnect are still delivered first; once
// the disconnect event was returned, every later call returns it again.
func (b *Bridge) Receive(ctx context.Context) (http.ReceiveEvent, error) {
	if b.recvTerminal {
		return http.ReceiveEvent{Kind: http.ReceiveDisconnect}, nil
	}

	select {
	case event := <-b.events:
		b.flow.OnBytesConsumed(len(event.Body))
		return event, nil
	default:
	}

	select {
	case event := <-b.events:
		b.flow.OnBytesConsumed(len(event.Body))
		return event, nil
	case <-b.disconnected:
		b.recvTerminal = true
		return http.ReceiveEvent{Kind: http.ReceiveDisconnect}, nil
	case <-ctx.Done():
		return http.ReceiveEvent{}, ctx.Err()
	}
}

// Send validates and emits a response event.
func (b *Bridge) Send(ctx context.Context, event http.SendEvent) error {
	switch event.Kind {
	case http.SendResponseStart:
		return b.sendStart(ctx, event)
	case http.SendResponseBody:
		return b.sendBody(ctx, event)
	case http.SendDisconnect:
		b.closeRequested = true
		return nil
	default:
		return b.violation("unknown send event kind %d", event.Kind)
	}
}

func (b *Bridge) sendStart(ctx context.Context, event http.SendEvent) error {
	if b.state != sendIdle {
		return b.violation("response already started")
	}

	framing := codec.Framing{ContentLength: -1}

	switch {
	case event.Status == status.NoContent || event.Status == status.NotModified ||
		(event.Status >= 100 && event.Status < 200):
		b.noBody = true
	default:
		for _, header := range event.Headers {
			if !strings.EqualFold(header.Key, "content-length") {
				continue
			}

			declared, err := strconv.ParseInt(header.Value, 10, 64)
			if err != nil || declared < 0 {
				return b.violation("malformed Content-Length %q", header.Value)
			}
			b.declared = declared
		}

		// without a known length HTTP/1.1 falls back to chunked framing,
		// HTTP/1.0 to closing the connection after the body
		if b.declared == -1 {
			framing.Chunked = b.head.Proto != http.HTTP10
		}
	}

	b.keepAlive = b.head.KeepAlive() && !b.closing() &&
		(b.noBody || b.declared >= 0 || framing.Chunked)
	framing.KeepAlive = b.keepAlive

	rendered := b.ser.Start(b.head.Proto, event.Status, event.Headers, framing)
	if err := b.emit(ctx, rendered); err != nil {
		return err
	}

	b.state = sendStarted
	b.status = event.Status

	return nil
}

func (b *Bridge) sendBody(ctx context.Context, event http.SendEvent) error {
	switch b.state {
	case sendIdle:
		return b.violation("response body before response start")
	case sendDone:
		return b.violation("response body after the terminal body event")
	}

	if b.noBody && len(event.Body) > 0 {
		return b.violation("body not allowed for this response status")
	}

	b.sent += int64(len(event.Body))
	if b.declared >= 0 && b.sent > b.declared {
		return b.violation("response body exceeds the declared Content-Length")
	}

	if !event.More {
		b.state = sendDone

		if b.declared >= 0 && b.sent < b.declared {
			return b.violation("response body is shorter than the declared Content-Length")
		}
	}

	// HEAD responses carry the full header section but never a body
	if b.head.Method == "HEAD" {
		return nil
	}

	rendered := b.ser.Chunk(event.Body, !event.More)
	if len(rendered) == 0 {
		return nil
	}

	return b.emit(ctx, rendered)
}

func (b *Bridge) emit(ctx context.Context, rendered []byte) error {
	if err := b.flow.AwaitWritable(ctx); err != nil {
		return err
	}

	return b.enqueue(rendered)
}

// Status returns the committed response status. Meaningful only once
// Started.
func (b *Bridge) Status() status.Code {
	return b.status
}

// Started reports whether a response start was committed to the wire.
func (b *Bridge) Started() bool {
	return b.state != sendIdle
}

// Completed reports whether the terminal body event was accepted.
func (b *Bridge) Completed() bool {
	return b.state == sendDone && !b.violated
}

// KeepAlive reports the connection-reuse decision fixed by the response
// start. Meaningful only once Started.
func (b *Bridge) KeepAlive() bool {
	return b.keepAlive && !b.violated && !b.closeRequested
}

// Reclaim drains body events the handler never consumed, releasing their
// watermark accounting so a reused connection starts from a clean slate.
func (b *Bridge) Reclaim() {
	for {
		select {
		case event := <-b.events:
			b.flow.OnBytesConsumed(len(event.Body))
		default:
			return
		}
	}
}

func (b *Bridge) violation(format string, args ...any) error {
	b.violated = true
	b.keepAlive = false

	return fmt.Errorf("%w: %s", http.ErrProtocolViolation, fmt.Sprintf(format, args...))
}
