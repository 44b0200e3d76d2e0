// Package testserver provides an in-process gRPC server that serves grpc.health.v1 and
// can be stopped and restarted on the same port. It is used to test pools against a real
// network endpoint that goes away and comes back.
package testserver

import (
	"net"
	"strconv"
	"time"

	"github.com/gostdlib/base/concurrency/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Server is a restartable gRPC health server bound to 127.0.0.1.
type Server struct {
	mu      sync.Mutex
	addr    string
	srv     *grpc.Server
	health  *health.Server
	serving bool
	done    chan struct{}
}

// New starts a Server on a free port.
func New() (*Server, error) {
	s := &Server{addr: "127.0.0.1:0", serving: true}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Host returns the host the server listens on.
func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.Addr())
	return h
}

// Port returns the port the server listens on. It stays the same across restarts.
func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr())
	i, _ := strconv.Atoi(p)
	return i
}

// Addr returns host:port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start starts serving. It is a no-op if the server is running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = lis.Addr().String()

	s.srv = grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(
			keepalive.EnforcementPolicy{
				MinTime:             time.Second,
				PermitWithoutStream: true,
			},
		),
	)
	s.health = health.NewServer()
	s.setStatusLocked()
	healthpb.RegisterHealthServer(s.srv, s.health)

	srv := s.srv
	done := make(chan struct{})
	s.done = done
	go func() {
		defer close(done)
		srv.Serve(lis)
	}()
	return nil
}

// Stop kills the server and every open connection to it. It is a no-op if the server
// is stopped.
func (s *Server) Stop() {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.health = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	srv.Stop()
	<-done
}

// SetServing sets the health status reported by the server.
func (s *Server) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = serving
	s.setStatusLocked()
}

func (s *Server) setStatusLocked() {
	if s.health == nil {
		return
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !s.serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
}
