package http1

import (
	"strings"
	"testing"

	"github.com/dchest/uniuri"
	"github.com/stretchr/testify/require"

	"github.com/volant-web/volant/codec"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
)

func parse(t *testing.T, p *Parser, pieces ...string) (*codec.RequestHead, []byte) {
	t.Helper()

	for i, piece := range pieces {
		done, extra, err := p.Parse([]byte(piece))
		require.NoError(t, err)

		if i+1 < len(pieces) {
			require.False(t, done)
			continue
		}

		require.True(t, done, "head must be complete after the last piece")

		return p.Head(), extra
	}

	return nil, nil
}

func TestParseRequestLine(t *testing.T) {
	t.Run("simple GET", func(t *testing.T) {
		p := NewParser(config.Default())
		head, extra := parse(t, p, "GET / HTTP/1.1\r\n\r\n")

		require.Equal(t, "GET", head.Method)
		require.Equal(t, "/", head.Path)
		require.Empty(t, head.RawQuery)
		require.Equal(t, http.HTTP11, head.Proto)
		require.Empty(t, extra)
	})

	t.Run("query string split off", func(t *testing.T) {
		p := NewParser(config.Default())
		head, _ := parse(t, p, "GET /search?q=go&lang=en HTTP/1.1\r\n\r\n")

		require.Equal(t, "/search", head.Path)
		require.Equal(t, "q=go&lang=en", head.RawQuery)
	})

	t.Run("bare LF line endings", func(t *testing.T) {
		p := NewParser(config.Default())
		head, _ := parse(t, p, "GET / HTTP/1.1\nHost: localhost\n\n")

		require.Equal(t, "localhost", head.Headers.Value("host"))
	})

	t.Run("unsupported protocol", func(t *testing.T) {
		p := NewParser(config.Default())
		_, _, err := p.Parse([]byte("GET / HTTP/4.2\r\n\r\n"))
		require.ErrorIs(t, err, status.ErrHTTPVersionNotSupported)
	})

	t.Run("missing target", func(t *testing.T) {
		p := NewParser(config.Default())
		_, _, err := p.Parse([]byte("GET HTTP/1.1\r\n\r\n"))
		require.ErrorIs(t, err, status.ErrBadRequest)
	})

	t.Run("oversized request line", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTP.MaxRequestLineSize = 64

		p := NewParser(cfg)
		raw := "GET /" + uniuri.NewLen(128) + " HTTP/1.1\r\n\r\n"
		_, _, err := p.Parse([]byte(raw))
		require.ErrorIs(t, err, status.ErrTooLongRequestLine)
	})
}

func TestParseHeaders(t *testing.T) {
	t.Run("byte-by-byte", func(t *testing.T) {
		raw := "POST /form HTTP/1.1\r\nHost: localhost\r\nContent-Length: 5\r\n\r\n"
		p := NewParser(config.Default())

		for i := 0; i < len(raw)-1; i++ {
			done, _, err := p.Parse([]byte{raw[i]})
			require.NoError(t, err)
			require.False(t, done, "head cannot be complete at byte %d", i)
		}

		done, extra, err := p.Parse([]byte{raw[len(raw)-1]})
		require.NoError(t, err)
		require.True(t, done)
		require.Empty(t, extra)

		head := p.Head()
		require.Equal(t, "POST", head.Method)
		require.EqualValues(t, 5, head.ContentLength)
		require.Equal(t, "localhost", head.Headers.Value("Host"))
	})

	t.Run("extra bytes past the head survive release", func(t *testing.T) {
		p := NewParser(config.Default())

		_, extra := parse(t, p,
			"POST / HTTP/1.1\r\nContent-Le", "ngth: 4\r\n\r\nbodyGET / HTTP/1.1\r\n\r\n",
		)
		require.Equal(t, "bodyGET / HTTP/1.1\r\n\r\n", string(extra))

		p.Release()
		require.Equal(t, "bodyGET / HTTP/1.1\r\n\r\n", string(extra))
	})

	t.Run("connection close", func(t *testing.T) {
		p := NewParser(config.Default())
		head, _ := parse(t, p, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
		require.True(t, head.Close)
	})

	t.Run("expect 100-continue", func(t *testing.T) {
		p := NewParser(config.Default())
		head, _ := parse(t, p, "POST / HTTP/1.1\r\nContent-Length: 1\r\nExpect: 100-continue\r\n\r\n")
		require.True(t, head.ExpectContinue)
	})

	t.Run("duplicate content-length with same value tolerated", func(t *testing.T) {
		p := NewParser(config.Default())
		head, _ := parse(t, p, "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\n")
		require.EqualValues(t, 3, head.ContentLength)
	})

	t.Run("conflicting content-length refused", func(t *testing.T) {
		p := NewParser(config.Default())
		_, _, err := p.Parse([]byte("POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 4\r\n\r\n"))
		require.ErrorIs(t, err, status.ErrBadRequest)
	})

	t.Run("chunked with content-length refused", func(t *testing.T) {
		p := NewParser(config.Default())
		raw := "POST / HTTP/1.1\r\nContent-Length: 3\r\nTransfer-Encoding: chunked\r\n\r\n"
		_, _, err := p.Parse([]byte(raw))
		require.ErrorIs(t, err, status.ErrBadRequest)
	})

	t.Run("chunked on HTTP/1.0 refused", func(t *testing.T) {
		p := NewParser(config.Default())
		_, _, err := p.Parse([]byte("POST / HTTP/1.0\r\nTransfer-Encoding: chunked\r\n\r\n"))
		require.ErrorIs(t, err, status.ErrBadRequest)
	})

	t.Run("too many headers", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTP.MaxHeadersNumber = 3

		var sb strings.Builder
		sb.WriteString("GET / HTTP/1.1\r\n")
		for i := 0; i < 4; i++ {
			sb.WriteString("X-Filler-")
			sb.WriteString(uniuri.NewLen(4))
			sb.WriteString(": 1\r\n")
		}
		sb.WriteString("\r\n")

		p := NewParser(cfg)
		_, _, err := p.Parse([]byte(sb.String()))
		require.ErrorIs(t, err, status.ErrTooManyHeaders)
	})

	t.Run("oversized header section", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTP.MaxRequestLineSize = 32
		cfg.HTTP.MaxHeadersSize = 32

		p := NewParser(cfg)
		done, _, err := p.Parse([]byte("GET / HTTP/1.1\r\nX-Filler: "))
		require.NoError(t, err)
		require.False(t, done)

		_, _, err = p.Parse([]byte(uniuri.NewLen(64)))
		require.ErrorIs(t, err, status.ErrHeaderFieldsTooLarge)
	})

	t.Run("declared body above the limit", func(t *testing.T) {
		cfg := config.Default()
		cfg.HTTP.MaxBodySize = 10

		p := NewParser(cfg)
		_, _, err := p.Parse([]byte("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\n"))
		require.ErrorIs(t, err, status.ErrBodyTooLarge)
	})

	t.Run("reusable after release", func(t *testing.T) {
		p := NewParser(config.Default())
		parse(t, p, "GET /first HTTP/1.1\r\nHost: a\r\n\r\n")
		p.Release()

		head, _ := parse(t, p, "GET /second HTTP/1.1\r\nHost: b\r\n\r\n")
		require.Equal(t, "/second", head.Path)
		require.Equal(t, []string{"b"}, head.Headers.Values("host"))
	})
}

func TestPlainBody(t *testing.T) {
	p := NewParser(config.Default())
	parse(t, p, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n")

	dec := p.Body()

	piece, extra, done, err := dec.Next([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(piece))
	require.Empty(t, extra)
	require.False(t, done)

	piece, extra, done, err = dec.Next([]byte("worldGET /"))
	require.NoError(t, err)
	require.Equal(t, "world", string(piece))
	require.Equal(t, "GET /", string(extra))
	require.True(t, done)
}

func TestChunkedBody(t *testing.T) {
	t.Run("decodes chunks with trailing extra", func(t *testing.T) {
		p := NewParser(config.Default())
		parse(t, p, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")

		dec := p.Body()

		var collected []byte
		feed := []byte("5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
		for {
			piece, extra, done, err := dec.Next(feed)
			require.NoError(t, err)
			collected = append(collected, piece...)
			if done {
				require.Empty(t, extra)
				break
			}
			feed = extra
		}

		require.Equal(t, "hello world", string(collected))
	})

	t.Run("malformed chunk size", func(t *testing.T) {
		p := NewParser(config.Default())
		parse(t, p, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")

		_, _, _, err := p.Body().Next([]byte("zz\r\noops\r\n"))
		require.ErrorIs(t, err, status.ErrBadChunk)
	})
}
