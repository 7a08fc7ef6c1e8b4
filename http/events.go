package http

import (
	"context"
	"errors"

	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
)

// ErrProtocolViolation is reported when the application calls receive or
// send out of the order the protocol permits, or declares a body length it
// then doesn't honor. The request is terminated; if response headers were
// already committed to the wire, the connection is closed as well.
var ErrProtocolViolation = errors.New("protocol violation")

type ReceiveKind uint8

const (
	// ReceiveRequest carries a piece of the request body. More is unset on
	// the last piece.
	ReceiveRequest ReceiveKind = iota + 1
	// ReceiveDisconnect tells the application the peer is gone. It is
	// terminal: every later receive returns it again.
	ReceiveDisconnect
)

type ReceiveEvent struct {
	Body []byte
	Kind ReceiveKind
	More bool
}

type SendKind uint8

const (
	// SendResponseStart commits the status line and headers. Must be sent
	// exactly once, before any body.
	SendResponseStart SendKind = iota + 1
	// SendResponseBody carries a piece of the response body. More is unset
	// on the last piece; nothing may be sent after it.
	SendResponseBody
	// SendDisconnect asks for the connection to be closed once the handler
	// returns, overriding any keep-alive decision.
	SendDisconnect
)

type SendEvent struct {
	Headers []kv.Pair
	Body    []byte
	Status  status.Code
	Kind    SendKind
	More    bool
}

// ResponseStart builds a response-start event.
func ResponseStart(code status.Code, headers ...kv.Pair) SendEvent {
	return SendEvent{
		Kind:    SendResponseStart,
		Status:  code,
		Headers: headers,
	}
}

// ResponseBody builds a response-body event.
func ResponseBody(body []byte, more bool) SendEvent {
	return SendEvent{
		Kind: SendResponseBody,
		Body: body,
		More: more,
	}
}

// Disconnect builds an event refusing connection reuse after this request.
func Disconnect() SendEvent {
	return SendEvent{Kind: SendDisconnect}
}

// Receiver yields request events one by one, blocking until the next one
// is available or ctx is done.
type Receiver func(ctx context.Context) (ReceiveEvent, error)

// Sender emits a response event, blocking while the connection applies
// write backpressure.
type Sender func(ctx context.Context, event SendEvent) error

// Handler is the application's entrypoint, invoked once per request. The
// passed context is fresh per request and is cancelled on forced shutdown.
// An error returned before any send results in a 500 response; after the
// response was started it aborts the connection.
type Handler func(ctx context.Context, scope *Scope, receive Receiver, send Sender) error
