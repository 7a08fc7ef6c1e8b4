// Package task runs application handlers as independently schedulable
// units of work, one per request. A unit may block in receive or send
// without stalling its connection's I/O loops, and is cancelled through
// its context on forced shutdown.
package task

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/volant-web/volant/http"
)

type requestIDKey struct{}

// WithRequestID derives a context carrying a fresh correlation id.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey{}, uuid.NewString())
}

// RequestID extracts the correlation id set by WithRequestID, or an empty
// string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// PanicError is reported when a handler panics instead of returning.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", p.Value)
}

// Task is one running handler invocation.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Launch starts the handler against the given scope and event operations.
// The handler's context derives from base only: it starts empty except
// for a new request id, so values never leak between sibling or
// consecutive requests.
func Launch(
	base context.Context,
	handler http.Handler,
	scope *http.Scope,
	receive http.Receiver,
	send http.Sender,
) *Task {
	ctx, cancel := context.WithCancel(base)
	ctx = WithRequestID(ctx)

	t := &Task{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if v := recover(); v != nil {
				t.err = &PanicError{Value: v, Stack: debug.Stack()}
			}
		}()

		t.err = handler(ctx, scope, receive, send)
	}()

	return t
}

// Done is closed once the handler returned or panicked.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err reports the handler outcome. Valid only after Done.
func (t *Task) Err() error {
	return t.err
}

// Cancel delivers a cancellation signal; the handler observes it at its
// next suspension point.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finished and returns its outcome.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
