package http1

import (
	"strconv"
	"strings"
	"time"

	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
)

const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var chunkedFinalizer = []byte("0\r\n\r\n")

// Serializer renders HTTP/1.x responses. The returned slices point into
// an internal buffer reused between calls.
type Serializer struct {
	buff    []byte
	chunked bool
}

func NewSerializer(cfg *config.Config) *Serializer {
	return &Serializer{
		buff: make([]byte, 0, cfg.NET.WriteBufferSize),
	}
}

func (s *Serializer) Start(
	target http.Proto, code status.Code, headers []kv.Pair, framing codec.Framing,
) []byte {
	s.buff = s.buff[:0]
	s.chunked = framing.Chunked

	s.renderStatusLine(target, code)

	var hasDate, hasServer bool
	for _, header := range headers {
		s.renderHeader(header.Key, header.Value)

		switch {
		case strings.EqualFold(header.Key, "date"):
			hasDate = true
		case strings.EqualFold(header.Key, "server"):
			hasServer = true
		}
	}

	if !hasServer {
		s.renderHeader("Server", "volant")
	}
	if !hasDate {
		s.renderHeader("Date", time.Now().UTC().Format(dateFormat))
	}

	switch {
	case framing.Chunked:
		s.renderHeader("Transfer-Encoding", "chunked")
	case framing.ContentLength >= 0:
		s.buff = append(s.buff, "Content-Length: "...)
		s.buff = strconv.AppendInt(s.buff, framing.ContentLength, 10)
		s.crlf()
	}

	if !framing.KeepAlive {
		s.renderHeader("Connection", "close")
	} else if target == http.HTTP10 {
		// HTTP/1.0 closes by default, reuse must be asked for explicitly
		s.renderHeader("Connection", "keep-alive")
	}

	s.crlf()

	return s.buff
}

func (s *Serializer) Chunk(b []byte, last bool) []byte {
	if !s.chunked {
		return b
	}

	s.buff = s.buff[:0]

	if len(b) > 0 {
		s.buff = strconv.AppendUint(s.buff, uint64(len(b)), 16)
		s.crlf()
		s.buff = append(s.buff, b...)
		s.crlf()
	}

	if last {
		s.buff = append(s.buff, chunkedFinalizer...)
	}

	return s.buff
}

func (s *Serializer) Informational(target http.Proto, code status.Code) []byte {
	s.buff = s.buff[:0]
	s.renderStatusLine(target, code)
	s.crlf()

	return s.buff
}

func (s *Serializer) renderStatusLine(target http.Proto, code status.Code) {
	s.buff = append(s.buff, target.String()...)
	s.sp()
	s.buff = strconv.AppendUint(s.buff, uint64(code), 10)
	s.sp()

	text := status.Text(code)
	if text == "" {
		text = "Unknown Status Code"
	}
	s.buff = append(s.buff, text...)
	s.crlf()
}

func (s *Serializer) renderHeader(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = append(s.buff, ':', ' ')
	s.buff = append(s.buff, value...)
	s.crlf()
}

func (s *Serializer) sp() {
	s.buff = append(s.buff, ' ')
}

func (s *Serializer) crlf() {
	s.buff = append(s.buff, '\r', '\n')
}
