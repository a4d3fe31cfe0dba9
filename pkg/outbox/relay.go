package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	// Recover hands back events a previous run of relayID locked but never settled.
	Recover(ctx context.Context, relayID string) (int, error)
	LockBatch(ctx context.Context, relayID string, batchSize int) ([]Event, error)
	MarkSent(ctx context.Context, relayID string, ids []string) error
	MarkFailed(ctx context.Context, relayID string, id string, errMsg string) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string) *Relay {
	return &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if n, err := r.store.Recover(ctx, r.relayID); err != nil {
		r.log.Error("relay recover error", "relay_id", r.relayID, "err", err)
	} else if n > 0 {
		r.log.Info("relay recovered in-flight events", "relay_id", r.relayID, "count", n)
	}

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize)
	if err != nil {
		r.log.Error("relay lock batch error", "err", err)
		return
	}
	if len(events) == 0 {
		return
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if err := r.store.MarkFailed(ctx, r.relayID, e.ID, err.Error()); err != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", err)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, r.relayID, ids); err != nil {
			r.log.Error("relay mark sent error", "err", err)
		}
	}
}
