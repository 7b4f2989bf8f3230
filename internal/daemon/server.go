package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server manages the gRPC server lifecycle for a session daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, h *Health) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.Server())

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

func (s *Server) SocketPath() string { return s.socketPath }

// MetricsServer exposes /metrics over HTTP. A zero addr disables it.
type MetricsServer struct {
	srv    *http.Server
	addr   string
	logger *zap.Logger
}

func NewMetricsServer(cfg *config.Config, met *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	if cfg.Daemon.MetricsAddr == "" {
		return &MetricsServer{logger: logger}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	return &MetricsServer{
		srv:    &http.Server{Addr: cfg.Daemon.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start listens in the background. Listen errors are returned; serve errors
// are logged.
func (m *MetricsServer) Start() error {
	if m.srv == nil {
		return nil
	}
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", m.srv.Addr, err)
	}
	m.addr = ln.Addr().String()
	m.logger.Info("metrics listening", zap.String("addr", m.addr))
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (m *MetricsServer) Addr() string { return m.addr }

func (m *MetricsServer) Stop(ctx context.Context) {
	if m.srv == nil {
		return
	}
	_ = m.srv.Shutdown(ctx)
}
