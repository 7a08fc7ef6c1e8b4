package tcp

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volant-web/volant/http/status"
)

func newServer(t *testing.T, onConn OnConn) (*Server, chan error) {
	t.Helper()

	sock, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	server := NewServer(sock, onConn)
	served := make(chan error, 1)
	go func() {
		served <- server.Start()
	}()

	return server, served
}

func dial(t *testing.T, server *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)

	return conn
}

func TestServer(t *testing.T) {
	t.Run("serves accepted connections", func(t *testing.T) {
		var served atomic.Int64
		server, _ := newServer(t, func(conn net.Conn) {
			served.Add(1)
			_ = conn.Close()
		})
		defer server.Stop()

		first, second := dial(t, server), dial(t, server)
		defer first.Close()
		defer second.Close()

		require.Eventually(t, func() bool {
			return served.Load() == 2
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("pause reports graceful shutdown", func(t *testing.T) {
		server, served := newServer(t, func(conn net.Conn) {
			_ = conn.Close()
		})

		require.NoError(t, server.Pause())

		select {
		case err := <-served:
			require.ErrorIs(t, err, status.ErrGracefulShutdown)
		case <-time.After(time.Second):
			require.Fail(t, "accept loop did not stop")
		}
	})

	t.Run("pause keeps live connections running", func(t *testing.T) {
		release := make(chan struct{})
		done := make(chan struct{})
		server, _ := newServer(t, func(conn net.Conn) {
			<-release
			_ = conn.Close()
			close(done)
		})
		defer server.Stop()

		conn := dial(t, server)
		defer conn.Close()

		// wait for the accept before pausing
		require.Eventually(t, func() bool {
			server.mu.Lock()
			defer server.mu.Unlock()
			return len(server.conns) == 1
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, server.Pause())

		select {
		case <-done:
			require.Fail(t, "connection must survive a pause")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		server.Wait()
	})

	t.Run("stop reports shutdown and closes connections", func(t *testing.T) {
		accepted := make(chan struct{})
		server, served := newServer(t, func(conn net.Conn) {
			close(accepted)
			// blocks until Stop closes the socket underneath
			_, _ = conn.Read(make([]byte, 1))
		})

		conn := dial(t, server)
		defer conn.Close()
		<-accepted

		require.NoError(t, server.Stop())

		select {
		case err := <-served:
			require.ErrorIs(t, err, status.ErrShutdown)
		case <-time.After(time.Second):
			require.Fail(t, "accept loop did not stop")
		}

		waited := make(chan struct{})
		go func() {
			server.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-time.After(time.Second):
			require.Fail(t, "connections were not torn down")
		}
	})

	t.Run("stop after pause still reports shutdown", func(t *testing.T) {
		server, served := newServer(t, func(conn net.Conn) {
			_ = conn.Close()
		})

		require.NoError(t, server.Pause())
		_ = server.Stop()

		select {
		case err := <-served:
			require.ErrorIs(t, err, status.ErrShutdown)
		case <-time.After(time.Second):
			require.Fail(t, "accept loop did not stop")
		}
	})
}

func TestClient(t *testing.T) {
	pipe := func(t *testing.T) (Client, net.Conn) {
		t.Helper()

		server, peer := net.Pipe()
		t.Cleanup(func() {
			_ = server.Close()
			_ = peer.Close()
		})

		return NewClient(server, time.Second, make([]byte, 16)), peer
	}

	t.Run("read returns what the peer sent", func(t *testing.T) {
		client, peer := pipe(t)
		go func() {
			_, _ = peer.Write([]byte("hello"))
		}()

		data, err := client.Read()
		require.NoError(t, err)
		require.Equal(t, "hello", string(data))
	})

	t.Run("unread bytes come back first", func(t *testing.T) {
		client, peer := pipe(t)
		go func() {
			_, _ = peer.Write([]byte("hello"))
		}()

		data, err := client.Read()
		require.NoError(t, err)

		client.Unread(data[3:])
		data, err = client.Read()
		require.NoError(t, err)
		require.Equal(t, "lo", string(data))
	})

	t.Run("write reaches the peer", func(t *testing.T) {
		client, peer := pipe(t)

		got := make(chan string, 1)
		go func() {
			buff := make([]byte, 16)
			n, _ := peer.Read(buff)
			got <- string(buff[:n])
		}()

		require.NoError(t, client.Write([]byte("pong")))
		require.Equal(t, "pong", <-got)
	})

	t.Run("read deadline expires on silence", func(t *testing.T) {
		server, peer := net.Pipe()
		t.Cleanup(func() {
			_ = server.Close()
			_ = peer.Close()
		})

		client := NewClient(server, 20*time.Millisecond, make([]byte, 16))
		_, err := client.Read()
		require.Error(t, err)

		var timeout net.Error
		require.ErrorAs(t, err, &timeout)
		require.True(t, timeout.Timeout())
	})
}
