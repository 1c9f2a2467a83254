package grpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/logger"
)

// Server wraps a grpc.Server whose unary calls all pass the security interceptor chain.
// Services are registered on Registrar() before Serve.
type Server struct {
	server *grpc.Server
	health *health.Server
	cfg    config.GRPCConfig
	log    logger.Logger
}

// NewServer 创建 gRPC 服务器并注册 grpc.health.v1 健康检查服务
func NewServer(cfg config.GRPCConfig, chain *InterceptorChain, log logger.Logger, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{chain.ChainUnaryInterceptors()}, opts...)
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(constants.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		server: srv,
		health: hs,
		cfg:    cfg,
		log:    log.WithComponent("grpc_server"),
	}
}

// Registrar exposes the underlying server for service registration.
func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.server
}

// Start listens on the configured port and serves until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "Starting gRPC server", logger.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks the service not serving and drains in-flight calls. When ctx ends
// first, remaining calls are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn(ctx, "gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
}
