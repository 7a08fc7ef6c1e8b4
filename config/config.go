package config

import (
	"math"
	"time"
)

type (
	NET struct {
		// ReadBufferSize is a size of the buffer in bytes used to read from
		// a socket.
		ReadBufferSize int `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
		// ReadTimeout controls the maximal lifetime of IDLE connections. If
		// no data was received in this period of time, the connection is
		// closed.
		ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
		// WriteBufferSize limits how many response bytes may be coalesced
		// before a flush is forced.
		WriteBufferSize int `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	}

	Flow struct {
		// ReadHighWatermark is the number of body bytes read off the socket
		// but not yet consumed by the application at which reading pauses.
		ReadHighWatermark int `yaml:"read_high_watermark" mapstructure:"read_high_watermark"`
		// ReadLowWatermark is the level the unconsumed counter must fall to
		// before reading resumes. Must not exceed ReadHighWatermark.
		ReadLowWatermark int `yaml:"read_low_watermark" mapstructure:"read_low_watermark"`
		// WriteHighWatermark is the number of response bytes queued but not
		// yet flushed to the socket at which senders start blocking.
		WriteHighWatermark int `yaml:"write_high_watermark" mapstructure:"write_high_watermark"`
	}

	HTTP struct {
		// MaxRequestLineSize limits the length of the request line.
		MaxRequestLineSize int `yaml:"max_request_line_size" mapstructure:"max_request_line_size"`
		// MaxHeadersSize limits the total length of the header section.
		MaxHeadersSize int `yaml:"max_headers_size" mapstructure:"max_headers_size"`
		// MaxHeadersNumber limits how many header fields a request may carry.
		MaxHeadersNumber int `yaml:"max_headers_number" mapstructure:"max_headers_number"`
		// MaxBodySize limits the size of a request body. Requests exceeding
		// it are refused with 413 and the connection is closed.
		MaxBodySize uint64 `yaml:"max_body_size" mapstructure:"max_body_size"`
	}

	Limits struct {
		// MaxRequests is the number of requests after which the process
		// gracefully shuts down. Zero disables the limit.
		MaxRequests uint64 `yaml:"max_requests" mapstructure:"max_requests"`
		// MaxConcurrency caps the number of simultaneously served
		// connections; connections beyond it are refused with 503. Zero
		// disables the cap.
		MaxConcurrency int64 `yaml:"max_concurrency" mapstructure:"max_concurrency"`
		// GracefulTimeout bounds how long a graceful shutdown may wait for
		// in-flight requests before sockets are closed forcefully.
		GracefulTimeout time.Duration `yaml:"graceful_timeout" mapstructure:"graceful_timeout"`
	}
)

// Config holds settings used across various parts of volant, mainly
// restrictions, limitations and timeouts.
//
// Always modify defaults (returned via Default()) instead of initializing
// the struct manually, otherwise zero limits will refuse about everything.
type Config struct {
	NET    NET    `yaml:"net" mapstructure:"net"`
	Flow   Flow   `yaml:"flow" mapstructure:"flow"`
	HTTP   HTTP   `yaml:"http" mapstructure:"http"`
	Limits Limits `yaml:"limits" mapstructure:"limits"`
}

// Default returns the default config. The limits are initially
// well-balanced yet pretty permitting.
func Default() *Config {
	return &Config{
		NET: NET{
			ReadBufferSize:  4 * 1024,
			ReadTimeout:     90 * time.Second,
			WriteBufferSize: 16 * 1024,
		},
		Flow: Flow{
			ReadHighWatermark:  64 * 1024,
			ReadLowWatermark:   16 * 1024,
			WriteHighWatermark: 64 * 1024,
		},
		HTTP: HTTP{
			MaxRequestLineSize: 16 * 1024,
			MaxHeadersSize:     32 * 1024,
			MaxHeadersNumber:   100,
			MaxBodySize:        math.MaxUint32, // 4 gigabytes
		},
		Limits: Limits{
			MaxRequests:     0,
			MaxConcurrency:  0,
			GracefulTimeout: 10 * time.Second,
		},
	}
}
