package tcp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/volant-web/volant/http/status"
)

type OnConn func(net.Conn)

// Server owns a listening socket and a registry of connections accepted
// from it. Shutting it down is split in two: Pause stops accepting while
// the accepted connections live on, Stop closes everything.
type Server struct {
	sock   net.Listener
	onConn OnConn

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	graceful atomic.Bool
	shutdown atomic.Bool
}

func NewServer(sock net.Listener, onConn OnConn) *Server {
	return &Server{
		sock:   sock,
		onConn: onConn,
		conns:  map[net.Conn]struct{}{},
	}
}

func (s *Server) Addr() net.Addr {
	return s.sock.Addr()
}

// Start accepts connections until the listener is closed. It reports
// status.ErrShutdown or status.ErrGracefulShutdown when the closure was
// requested via Stop or Pause respectively.
func (s *Server) Start() error {
	for {
		conn, err := s.sock.Accept()
		if err != nil {
			switch {
			case s.shutdown.Load():
				return status.ErrShutdown
			case s.graceful.Load():
				return status.ErrGracefulShutdown
			default:
				return err
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.connHandler(conn)
	}
}

// Pause stops accepting new connections, leaving the accepted ones free
// to end their lives peacefully.
func (s *Server) Pause() error {
	s.graceful.Store(true)

	return s.sock.Close()
}

// Stop shuts the listener and ALL the connections down.
func (s *Server) Stop() error {
	alreadyPaused := s.graceful.Load()
	s.shutdown.Store(true)

	var err error
	if !alreadyPaused {
		err = s.sock.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	return err
}

// Wait blocks until every accepted connection was served to completion.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) connHandler(conn net.Conn) {
	defer s.wg.Done()

	s.onConn(conn)

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// PauseAll stops accepting on every server.
func PauseAll(servers []*Server) {
	for _, server := range servers {
		_ = server.Pause()
	}
}

// StopAll closes every server together with its connections.
func StopAll(servers []*Server) {
	for _, server := range servers {
		_ = server.Stop()
	}
}

// WaitAll blocks until all servers drained their connections.
func WaitAll(servers []*Server) {
	for _, server := range servers {
		server.Wait()
	}
}
