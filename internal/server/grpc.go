package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside the overall status.
const ServiceName = "billtrends.v1.Analysis"

// NewGRPCServer returns a server exposing the standard health service and reflection.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, hs
}

// WatchHealth flips the health status with the database probe every interval until ctx ends.
func WatchHealth(ctx context.Context, hs *health.Server, db HealthChecker, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
		status := healthpb.HealthCheckResponse_SERVING
		if err := db.HealthCheck(ctx, 2*time.Second, log); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			log.Warn("grpc.health.changed", "status", status.String())
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
}
