package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server serves an http.Handler on a listener bound at construction time, so
// the address is known (and the port is held) before Serve is called.
type Server struct {
	s  *http.Server
	ln net.Listener
}

func NewServer(network, addr string, handler http.Handler) (*Server, error) {
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		s: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: ln,
	}, nil
}

// Serve blocks until the server is shut down. A graceful shutdown is not an error.
func (s *Server) Serve() error {
	if err := s.s.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.s.Shutdown(ctx)
}

// Close stops the server immediately and releases the listener, including
// when Serve was never called.
func (s *Server) Close() error {
	err := s.s.Close()
	if lerr := s.ln.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) && err == nil {
		err = lerr
	}
	return err
}
