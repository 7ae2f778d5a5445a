// Package grpc exposes the standard gRPC health protocol so orchestrators and
// load balancers can check the ledger the same way they check other services.
package grpc

import (
	"context"
	"time"

	"carbon-ledger-backend/internal/api/grpc/interceptor"
	"carbon-ledger-backend/internal/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall "" status.
const ServiceName = "carbon.ledger.v1.Ledger"

// ReadyFunc reports whether the backing stores can serve requests.
type ReadyFunc func(ctx context.Context) error

// NewServer builds a gRPC server carrying only the health and reflection
// services. Both start as NOT_SERVING until the first check passes.
func NewServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(interceptor.NewLoggingInterceptor().Unary()),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// Register reflection service for grpcurl
	reflection.Register(s)
	return s, hs
}

// Check runs ready once and publishes the result on hs.
func Check(ctx context.Context, hs *health.Server, ready ReadyFunc) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if ready != nil {
		if err := ready(ctx); err != nil {
			logger.WarnContext(ctx, "Readiness check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Watch checks every interval until ctx ends, then marks the server as
// shutting down so clients drain before the listener closes.
func Watch(ctx context.Context, hs *health.Server, ready ReadyFunc, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	Check(ctx, hs, ready)
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			Check(checkCtx, hs, ready)
			cancel()
		}
	}
}
