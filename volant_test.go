package volant

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
)

type app struct {
	*App
	addr     string
	finished chan error
}

func startApp(t *testing.T, cfg *config.Config, handler http.Handler) *app {
	t.Helper()

	sock, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	a := &app{
		App: New("").Tune(cfg).Listen("", func(string, string) (net.Listener, error) {
			return sock, nil
		}),
		addr:     sock.Addr().String(),
		finished: make(chan error, 1),
	}

	go func() {
		a.finished <- a.Serve(handler)
	}()

	t.Cleanup(func() {
		a.Stop()
		select {
		case <-a.finished:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})

	return a
}

func (a *app) stopped(t *testing.T) error {
	t.Helper()

	select {
	case err := <-a.finished:
		a.finished <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
		return nil
	}
}

func get(t *testing.T, addr, path string) string {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET " + path + " HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	return string(raw)
}

func respondWith(code status.Code, body string) http.Handler {
	return func(ctx context.Context, _ *http.Scope, _ http.Receiver, send http.Sender) error {
		start := http.ResponseStart(code,
			kv.Pair{Key: "Content-Length", Value: strconv.Itoa(len(body))},
		)
		if err := send(ctx, start); err != nil {
			return err
		}

		return send(ctx, http.ResponseBody([]byte(body), false))
	}
}

func TestServe(t *testing.T) {
	a := startApp(t, config.Default(), respondWith(status.OK, "it works"))

	response := get(t, a.addr, "/")
	require.True(t, strings.HasPrefix(response, "HTTP/1.1 200 OK\r\n"), response)
	require.True(t, strings.HasSuffix(response, "it works"), response)
	require.Contains(t, response, "Server: volant\r\n")
}

func TestNotFoundFallback(t *testing.T) {
	a := startApp(t, config.Default(), nil)

	response := get(t, a.addr, "/missing")
	require.True(t, strings.HasPrefix(response, "HTTP/1.1 404 Not Found\r\n"), response)
}

func TestBindFailureClosesListeners(t *testing.T) {
	sock, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	a := New("").
		Listen("", func(string, string) (net.Listener, error) {
			return sock, nil
		}).
		Listen("", func(string, string) (net.Listener, error) {
			return nil, errors.New("no such device")
		})

	require.ErrorContains(t, a.Serve(respondWith(status.OK, "unreached")), "no such device")

	_, err = sock.Accept()
	require.ErrorIs(t, err, net.ErrClosed, "bound listeners must be released when a later bind fails")
}

func TestGracefulStopMidRequest(t *testing.T) {
	const body = "first-half|second-half"

	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, _ *http.Scope, _ http.Receiver, send http.Sender) error {
		start := http.ResponseStart(status.OK,
			kv.Pair{Key: "Content-Length", Value: strconv.Itoa(len(body))},
		)
		if err := send(ctx, start); err != nil {
			return err
		}
		if err := send(ctx, http.ResponseBody([]byte(body[:11]), true)); err != nil {
			return err
		}

		close(started)
		<-release

		return send(ctx, http.ResponseBody([]byte(body[11:]), false))
	}

	a := startApp(t, config.Default(), handler)

	conn, err := net.Dial("tcp", a.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /slow HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)

	<-started
	a.GracefulStop()

	// new connections are refused while the in-flight one keeps going
	require.Eventually(t, func() bool {
		refused, dialErr := net.Dial("tcp", a.addr)
		if dialErr != nil {
			return true
		}
		_ = refused.Close()
		return false
	}, time.Second, 10*time.Millisecond)

	close(release)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(raw), body),
		"the in-flight response must be completed and flushed before the close")

	require.NoError(t, a.stopped(t))
}

func TestConcurrencyCapRefusal(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxConcurrency = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := func(ctx context.Context, scope *http.Scope, receive http.Receiver, send http.Sender) error {
		close(entered)
		<-release

		return respondWith(status.OK, "busy")(ctx, scope, receive, send)
	}

	a := startApp(t, cfg, handler)

	holder, err := net.Dial("tcp", a.addr)
	require.NoError(t, err)
	defer holder.Close()

	_, err = holder.Write([]byte("GET /hold HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)
	<-entered

	refused := get(t, a.addr, "/over-capacity")
	require.True(t, strings.HasPrefix(refused, "HTTP/1.1 503 Service Unavailable\r\n"), refused)

	close(release)

	reader := bufio.NewReader(holder)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line)
}

func TestMaxRequestsShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxRequests = 2

	a := startApp(t, cfg, respondWith(status.OK, "ok"))

	require.Contains(t, get(t, a.addr, "/one"), "200 OK")
	require.Contains(t, get(t, a.addr, "/two"), "200 OK")

	require.NoError(t, a.stopped(t))
}
