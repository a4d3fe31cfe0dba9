package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name clients pass to grpc.health.v1.Health/Check.
const ServiceName = "cart.v1.CartService"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer mirrors store reachability into the standard gRPC health service.
type HealthServer struct {
	log      *slog.Logger
	hs       *health.Server
	pinger   Pinger
	interval time.Duration
}

func NewHealthServer(log *slog.Logger, pinger Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthServer{
		log:      log,
		hs:       health.NewServer(),
		pinger:   pinger,
		interval: interval,
	}
}

// Watch refreshes the serving status until ctx is done, then reports NOT_SERVING.
func (h *HealthServer) Watch(ctx context.Context) {
	h.refresh(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.hs.Shutdown()
			return
		case <-t.C:
			h.refresh(ctx)
		}
	}
}

func (h *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("store unreachable, reporting not serving", "err", err)
	}
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(ServiceName, status)
}

func Run(addr string, srv *HealthServer) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, srv.hs)
	go func() {
		_ = gs.Serve(lis)
	}()
	return gs, nil
}
