package lifecycle

import "context"

// Hook is a piece of application logic executed at a fixed point of the
// process lifecycle: startup hooks run before any socket is served,
// shutdown hooks after the last connection is gone.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the Hook interface.
type HookFunc func(context.Context) error

// Run implements the Hook interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}
