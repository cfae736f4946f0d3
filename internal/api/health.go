package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/version"
)

// GeneratorService is the gRPC health service name tracking the upstream
// scene generator.
const GeneratorService = "splat.report.Generator"

// HealthReporter receives serving status changes. *health.Server satisfies it.
type HealthReporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

type healthResponse struct {
	Status    string `json:"status"`
	Generator bool   `json:"generator"`
	Version   string `json:"version"`
}

// handleHealth reports liveness and whether the configured generator
// answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	up := httputil.Ping(r.Context(), s.cfg.HTTPClient, s.cfg.GeneratorURL, s.cfg.HealthTimeout)
	if s.cfg.Health != nil {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if up {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.cfg.Health.SetServingStatus(GeneratorService, status)
	}
	httputil.WriteJSONOK(w, healthResponse{Status: "ok", Generator: up, Version: version.Version})
}

// HealthServer exposes grpc.health.v1 for orchestrators.
type HealthServer struct {
	health *health.Server
	grpc   *grpc.Server
}

// NewHealthServer returns a health server reporting the process as serving.
func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{health: hs, grpc: gs}
}

// SetServingStatus updates the status of service.
func (h *HealthServer) SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus(service, status)
}

// Serve answers health checks on lis until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[grpc] health service listening on %s", lis.Addr())
		errCh <- h.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	h.health.Shutdown()
	h.grpc.GracefulStop()
	log.Printf("[grpc] health service stopped")
	return nil
}
