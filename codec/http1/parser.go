package http1

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/indigo-web/chunkedbody"
	"github.com/indigo-web/utils/uf"
	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
)

// Codec couples the HTTP/1.x parser and serializer. It is the default
// wire protocol.
type Codec struct{}

func (Codec) NewParser(cfg *config.Config) codec.Parser {
	return NewParser(cfg)
}

func (Codec) NewSerializer(cfg *config.Config) codec.Serializer {
	return NewSerializer(cfg)
}

var (
	crlfTerm = []byte("\r\n\r\n")
	lfTerm   = []byte("\n\n")
)

// Parser assembles HTTP/1.x request heads. Bytes are buffered only until
// the header section is complete; the body never enters the parser's
// buffer. The parser is reused for every request on its connection.
type Parser struct {
	cfg     *config.Config
	buf     []byte
	head    codec.RequestHead
	headers *kv.Storage
	plain   plainBody
	chunked chunkedBody
}

func NewParser(cfg *config.Config) *Parser {
	headers := kv.NewPrealloc(16)

	return &Parser{
		cfg:     cfg,
		headers: headers,
		head:    codec.RequestHead{Headers: headers},
		chunked: chunkedBody{
			parser: chunkedbody.NewParser(chunkedbody.DefaultSettings()),
			max:    cfg.HTTP.MaxBodySize,
		},
	}
}

func (p *Parser) Parse(data []byte) (done bool, extra []byte, err error) {
	if len(p.buf) == 0 {
		// tolerate empty lines in front of the request line
		data = trimLeadingCRLF(data)

		end, next := findTerminator(data, 0)
		if end == -1 {
			return false, nil, p.stash(data)
		}

		return p.complete(data[:end], data[next:], false)
	}

	searchFrom := len(p.buf) - len(crlfTerm) + 1
	if searchFrom < 0 {
		searchFrom = 0
	}

	if err = p.stash(data); err != nil {
		return false, nil, err
	}

	end, next := findTerminator(p.buf, searchFrom)
	if end == -1 {
		return false, nil, nil
	}

	return p.complete(p.buf[:end], p.buf[next:], true)
}

func (p *Parser) Head() *codec.RequestHead {
	return &p.head
}

func (p *Parser) Body() codec.BodyDecoder {
	if p.head.Chunked {
		p.chunked.reset()
		return &p.chunked
	}

	p.plain.reset(p.head.ContentLength)

	return &p.plain
}

func (p *Parser) Release() {
	p.buf = p.buf[:0]
	p.headers.Clear()
	p.head = codec.RequestHead{Headers: p.headers}
}

func (p *Parser) stash(data []byte) error {
	if len(p.buf)+len(data) > p.cfg.HTTP.MaxRequestLineSize+p.cfg.HTTP.MaxHeadersSize {
		return status.ErrHeaderFieldsTooLarge
	}

	p.buf = append(p.buf, data...)

	return nil
}

// complete parses the fully assembled head. buffered tells whether extra
// points into the parser's own buffer and must be copied before Release
// can invalidate it.
func (p *Parser) complete(head, extra []byte, buffered bool) (bool, []byte, error) {
	if buffered && len(extra) > 0 {
		extra = append([]byte(nil), extra...)
	}

	if err := p.parseHead(head); err != nil {
		return false, nil, err
	}

	return true, extra, nil
}

func (p *Parser) parseHead(head []byte) error {
	line, rest := cutLine(head)
	if err := p.parseRequestLine(line); err != nil {
		return err
	}

	var (
		contentLength    uint64
		hasContentLength bool
	)

	for len(rest) > 0 {
		line, rest = cutLine(rest)
		if len(line) == 0 {
			continue
		}

		if p.headers.Len() >= p.cfg.HTTP.MaxHeadersNumber {
			return status.ErrTooManyHeaders
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return status.ErrBadRequest
		}

		key := line[:colon]
		value := bytes.TrimSpace(line[colon+1:])

		switch {
		case strings.EqualFold(uf.B2S(key), "content-length"):
			length, err := strconv.ParseUint(uf.B2S(value), 10, 63)
			if err != nil {
				return status.ErrBadRequest
			}
			if hasContentLength && length != contentLength {
				return status.ErrBadRequest
			}
			contentLength, hasContentLength = length, true
		case strings.EqualFold(uf.B2S(key), "transfer-encoding"):
			if !hasToken(uf.B2S(value), "chunked") {
				return status.ErrBadRequest
			}
			p.head.Chunked = true
		case strings.EqualFold(uf.B2S(key), "expect"):
			p.head.ExpectContinue = strings.EqualFold(uf.B2S(value), "100-continue")
		case strings.EqualFold(uf.B2S(key), "connection"):
			p.head.Close = strings.EqualFold(uf.B2S(value), "close")
		}

		p.headers.Add(string(key), string(value))
	}

	if p.head.Chunked {
		if hasContentLength {
			// ambiguous framing smuggles requests, refuse it outright
			return status.ErrBadRequest
		}
		if p.head.Proto == http.HTTP10 {
			return status.ErrBadRequest
		}
	}

	if contentLength > p.cfg.HTTP.MaxBodySize {
		return status.ErrBodyTooLarge
	}

	p.head.ContentLength = contentLength

	return nil
}

func (p *Parser) parseRequestLine(line []byte) error {
	if len(line) > p.cfg.HTTP.MaxRequestLineSize {
		return status.ErrTooLongRequestLine
	}

	methodEnd := bytes.IndexByte(line, ' ')
	if methodEnd <= 0 {
		return status.ErrBadRequest
	}

	targetEnd := bytes.LastIndexByte(line, ' ')
	if targetEnd == methodEnd {
		return status.ErrBadRequest
	}

	method := line[:methodEnd]
	target := line[methodEnd+1 : targetEnd]
	proto := http.ParseProto(uf.B2S(line[targetEnd+1:]))

	if proto == http.ProtoUnknown {
		return status.ErrHTTPVersionNotSupported
	}
	if len(target) == 0 || !validMethod(method) {
		return status.ErrBadRequest
	}

	p.head.Proto = proto
	p.head.Method = string(method)

	if query := bytes.IndexByte(target, '?'); query != -1 {
		p.head.Path = string(target[:query])
		p.head.RawQuery = string(target[query+1:])
	} else {
		p.head.Path = string(target)
	}

	return nil
}

// findTerminator locates the end of the header section, accepting both
// CRLF and bare LF line endings. It returns the head length and the
// offset of the first byte past the terminator, or -1 when incomplete.
func findTerminator(b []byte, from int) (end, next int) {
	crlf := bytes.Index(b[from:], crlfTerm)
	lf := bytes.Index(b[from:], lfTerm)

	switch {
	case crlf == -1 && lf == -1:
		return -1, -1
	case lf == -1 || (crlf != -1 && crlf < lf):
		return from + crlf, from + crlf + len(crlfTerm)
	default:
		return from + lf, from + lf + len(lfTerm)
	}
}

func trimLeadingCRLF(b []byte) []byte {
	for len(b) > 0 && (b[0] == '\r' || b[0] == '\n') {
		b = b[1:]
	}

	return b
}

func cutLine(b []byte) (line, rest []byte) {
	idx := bytes.IndexByte(b, '\n')
	if idx == -1 {
		return trimCR(b), nil
	}

	return trimCR(b[:idx]), b[idx+1:]
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}

	return b
}

func hasToken(list, token string) bool {
	for _, part := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}

	return false
}

func validMethod(b []byte) bool {
	for _, c := range b {
		if c <= ' ' || c >= 0x7f {
			return false
		}
	}

	return true
}

type plainBody struct {
	left uint64
}

func (p *plainBody) reset(contentLength uint64) {
	p.left = contentLength
}

func (p *plainBody) Next(b []byte) (piece, extra []byte, done bool, err error) {
	if p.left == 0 {
		return nil, b, true, nil
	}

	n := uint64(len(b))
	if n > p.left {
		n = p.left
	}

	p.left -= n

	return b[:n], b[n:], p.left == 0, nil
}

type chunkedBody struct {
	parser   *chunkedbody.Parser
	received uint64
	max      uint64
}

func (c *chunkedBody) reset() {
	c.received = 0
}

func (c *chunkedBody) Next(b []byte) (piece, extra []byte, done bool, err error) {
	if len(b) == 0 {
		return nil, nil, false, nil
	}

	chunk, rest, err := c.parser.Parse(b, false)
	switch err {
	case nil:
	case io.EOF:
		done = true
	default:
		return nil, nil, false, status.ErrBadChunk
	}

	c.received += uint64(len(chunk))
	if c.received > c.max {
		return nil, nil, false, status.ErrBodyTooLarge
	}

	return chunk, rest, done, nil
}
