package server

import (
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/query"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Addrs are the listen addresses of the three servers.
type Addrs struct {
	GRPC    string
	HTTP    string
	Metrics string
}

// Deps holds everything the servers read from or write to.
type Deps struct {
	Query         *query.QueryService
	Engine        ingestion.Applier
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger
}

// Server owns the gRPC server (health + reflection), the HTTP server
// carrying the JSON gateway and health probes, and the metrics server.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	opsServer    *http.Server
	addrs        Addrs
	logger       zerolog.Logger
}

// New builds all servers without starting them.
func New(addrs Addrs, deps Deps) (*Server, error) {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(deps.Logger)))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	gateway, err := NewGateway(deps)
	if err != nil {
		return nil, err
	}

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer: &http.Server{
			Addr:              addrs.HTTP,
			Handler:           NewHTTPRouter(deps.HealthChecker, gateway),
			ReadHeaderTimeout: 5 * time.Second,
		},
		opsServer: &http.Server{
			Addr:              addrs.Metrics,
			Handler:           NewMetricsRouter(deps.Gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addrs:  addrs,
		logger: deps.Logger,
	}, nil
}

// SetServing flips the gRPC health status; the HTTP probes follow the
// HealthChecker directly.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC serves gRPC until ctx is cancelled (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addrs.GRPC)
	if err != nil {
		return eris.Wrap(err, "grpc listen")
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addrs.GRPC).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return eris.Wrap(err, "grpc serve")
	}
	return nil
}

// StartHTTP serves the gateway and health probes (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	return s.serveHTTP(ctx, s.httpServer, "HTTP gateway")
}

// StartMetrics serves /metrics (blocking).
func (s *Server) StartMetrics(ctx context.Context) error {
	return s.serveHTTP(ctx, s.opsServer, "metrics server")
}

func (s *Server) serveHTTP(ctx context.Context, srv *http.Server, name string) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msgf("%s shutting down", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", srv.Addr).Msgf("%s listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrapf(err, "%s", name)
	}
	return nil
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}
