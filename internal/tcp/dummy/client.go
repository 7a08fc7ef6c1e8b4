package dummy

import (
	"io"
	"net"
)

// Client replays prepared pieces of input on every Read and collects
// everything that was written into it. Once the input is exhausted it
// reports io.EOF, like a peer that sent its request and went silent.
type Client struct {
	data    [][]byte
	written []byte
	pending []byte
	pointer int
	closed  bool
}

func NewClient(data ...[]byte) *Client {
	return &Client{
		data: data,
	}
}

func (c *Client) Read() ([]byte, error) {
	if c.closed {
		return nil, io.EOF
	}

	if len(c.pending) > 0 {
		data := c.pending
		c.pending = nil
		return data, nil
	}

	if c.pointer >= len(c.data) {
		return nil, io.EOF
	}

	piece := c.data[c.pointer]
	c.pointer++

	return piece, nil
}

func (c *Client) Unread(takeback []byte) {
	if len(takeback) > 0 {
		c.pending = takeback
	}
}

func (c *Client) Write(b []byte) error {
	if c.closed {
		return io.ErrClosedPipe
	}

	c.written = append(c.written, b...)

	return nil
}

// Written exposes everything the server has sent so far.
func (c *Client) Written() []byte {
	return c.written
}

func (c *Client) Remote() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 45678}
}

func (c *Client) Local() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (c *Client) Close() error {
	c.closed = true
	return nil
}

func (c *Client) Closed() bool {
	return c.closed
}
