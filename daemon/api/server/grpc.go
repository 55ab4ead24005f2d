package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/flyq/jolt-verifier-canister/internal/observability"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "jolt.verifier.v1.Verifier"

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 with the
// verifier reported as SERVING.
func NewGRPCServer(logger *observability.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func loggingInterceptor(logger *observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.RequestServed("", "grpc", info.FullMethod, int(status.Code(err)), time.Since(start))
		return resp, err
	}
}

// ServeGRPC serves srv on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, addr string, srv *grpc.Server, hs *health.Server) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()
	if err := srv.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ServeHTTP serves handler on addr until ctx is cancelled.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lis, handler)
}

// ServeListener serves handler on lis until ctx is cancelled. Request
// contexts derive from ctx, so long-lived streams end when ctx does instead
// of holding Shutdown open.
func ServeListener(ctx context.Context, lis net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObservabilityHandler serves /metrics and /health.
func ObservabilityHandler(metrics *observability.Metrics, hc *observability.HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /health", hc.Handler())
	return mux
}
