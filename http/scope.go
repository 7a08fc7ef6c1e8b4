package http

import (
	"net"

	"github.com/volant-web/volant/kv"
)

// State is a per-connection bag of values shared by all requests served on
// the same connection, e.g. extensions negotiated at connection start.
// Requests on one connection are serviced strictly one at a time, so the
// bag needs no locking.
type State map[string]any

// Scope describes a single request. It is created once the header section
// is fully parsed and must not be mutated after it was handed to the
// application.
type Scope struct {
	Proto  Proto
	Method string
	// Path is the request target as it appeared on the wire, without the
	// query string.
	Path string
	// RawQuery is everything after the first '?' in the request target,
	// undecoded. Empty if there was no query.
	RawQuery string
	// Headers preserves the order and the duplicates of the received
	// header section.
	Headers *kv.Storage
	Client  net.Addr
	Server  net.Addr
	// State is shared across all the requests on this connection.
	State State
}
