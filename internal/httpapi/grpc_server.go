package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"carestream.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth serves the standard gRPC health protocol, reporting the same
// readiness as /readyz under both the overall ("") and the service name.
type GRPCHealth struct {
	srv   *health.Server
	ready readinessChecker
	log   zerolog.Logger
}

// NewGRPCHealth starts in NOT_SERVING until the first Refresh.
func NewGRPCHealth(r readinessChecker, log zerolog.Logger) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), ready: r, log: log.With().Str("component", "grpc-health").Logger()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewGRPCServer returns a gRPC server exposing h.
func NewGRPCServer(h *GRPCHealth, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

func (h *GRPCHealth) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(serviceName, st)
}

// Refresh evaluates readiness once.
func (h *GRPCHealth) Refresh(ctx context.Context) error {
	if err := h.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx ends, then reports NOT_SERVING to
// all watchers.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			h.log.Warn().Err(err).Msg("not ready")
		}
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
