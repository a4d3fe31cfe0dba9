package application

import (
	"context"
	"time"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

type Health struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

func (h Health) Up() bool { return h.Status == StatusUp }

// Health pings the store and reports whether it is reachable.
func (s *Service) Health(ctx context.Context) Health {
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("store health check failed", "err", err)
		return Health{
			Status: StatusDown,
			Details: map[string]any{
				"redis":     "Unavailable",
				"error":     err.Error(),
				"timestamp": time.Now().UnixMilli(),
			},
		}
	}
	return Health{
		Status: StatusUp,
		Details: map[string]any{
			"redis":     "Available",
			"timestamp": time.Now().UnixMilli(),
		},
	}
}
