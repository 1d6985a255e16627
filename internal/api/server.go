// Package api hosts the backtest HTTP API and the gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mabacktest/internal/config"
)

// ServiceName is the gRPC health service name reported for the backtester.
const ServiceName = "mabacktest.Backtester"

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	log      *slog.Logger

	httpLn net.Listener
	grpcLn net.Listener
}

// NewServer creates a Server serving handler over HTTP on cfg.Server.Port
// and gRPC health checks on cfg.Server.GRPCPort.
func NewServer(cfg *config.Config, handler http.Handler, log *slog.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		httpAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		grpcAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)),
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:   gs,
		health: hs,
		log:    log,
	}
}

// Listen binds both listeners. It is split from Serve so callers (and tests
// using port 0) can learn the bound addresses before serving.
func (s *Server) Listen() error {
	var err error
	if s.httpLn, err = net.Listen("tcp", s.httpAddr); err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	if s.grpcLn, err = net.Listen("tcp", s.grpcAddr); err != nil {
		s.httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or the configured one before
// Listen.
func (s *Server) HTTPAddr() string {
	if s.httpLn != nil {
		return s.httpLn.Addr().String()
	}
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or the configured one before
// Listen.
func (s *Server) GRPCAddr() string {
	if s.grpcLn != nil {
		return s.grpcLn.Addr().String()
	}
	return s.grpcAddr
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. On cancellation both servers
// are shut down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.httpLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.HTTPAddr())
		if err := s.http.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		s.log.Info("gRPC server listening", "addr", s.GRPCAddr())
		if err := s.grpc.Serve(s.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown()
		return err
	}

	s.log.Info("shutting down API server")
	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	err := s.http.Shutdown(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return err
}
