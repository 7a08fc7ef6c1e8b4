// Package codec defines the seam between the connection engine and a wire
// protocol implementation. A codec is chosen once at configuration time;
// the engine never switches protocols at runtime.
package codec

import (
	"strings"

	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
)

// RequestHead is everything a parser learns about a request from its
// header section.
type RequestHead struct {
	Proto    http.Proto
	Method   string
	Path     string
	RawQuery string
	// Headers preserves wire order and duplicates.
	Headers *kv.Storage
	// ContentLength is meaningful only when Chunked is unset.
	ContentLength uint64
	Chunked       bool
	// ExpectContinue is set when the peer asked for a 100 Continue before
	// sending the body.
	ExpectContinue bool
	// Close is set when the peer explicitly refused connection reuse.
	Close bool
}

// KeepAlive reports whether the connection may serve another request
// after this one, as far as the request itself is concerned.
func (h *RequestHead) KeepAlive() bool {
	if h.Close {
		return false
	}

	if h.Proto.KeepAliveByDefault() {
		return true
	}

	return strings.EqualFold(h.Headers.Value("Connection"), "keep-alive")
}

// Parser assembles a request head from a byte stream.
type Parser interface {
	// Parse consumes b and reports whether the head is complete. Bytes
	// past the head are returned as extra and belong to the body or to
	// the next request. The returned extra never aliases the parser's
	// internal state.
	Parse(b []byte) (done bool, extra []byte, err error)
	// Head is valid after Parse reported completion and until Release.
	Head() *RequestHead
	// Body returns a decoder for the parsed request's body framing. Valid
	// after Parse reported completion and until Release.
	Body() BodyDecoder
	// Release resets the parser, making it ready for the next request on
	// the same connection.
	Release()
}

// BodyDecoder extracts body pieces out of raw socket reads.
type BodyDecoder interface {
	// Next decodes the next body piece out of b. It returns the decoded
	// piece, the unconsumed tail of b, and whether the body is complete.
	// A complete body may still be reported together with a piece.
	Next(b []byte) (piece, extra []byte, done bool, err error)
}

// Framing pins down how a response body travels on the wire. It is fixed
// by the first response-start event and cannot change afterwards.
type Framing struct {
	// ContentLength is below zero when the length is unknown in advance
	// and chunked framing (or connection close) delimits the body.
	ContentLength int64
	Chunked       bool
	KeepAlive     bool
}

// Serializer renders response events into wire bytes. The returned slices
// are valid only until the next serializer call; callers that queue them
// must copy.
type Serializer interface {
	// Start renders the status line and the header section.
	Start(target http.Proto, code status.Code, headers []kv.Pair, framing Framing) []byte
	// Chunk renders a body piece according to the framing fixed by Start.
	Chunk(b []byte, last bool) []byte
	// Informational renders an interim response, e.g. 100 Continue.
	Informational(target http.Proto, code status.Code) []byte
}

// Codec couples a parser and a serializer of one protocol version.
type Codec interface {
	NewParser(cfg *config.Config) Parser
	NewSerializer(cfg *config.Config) Serializer
}
