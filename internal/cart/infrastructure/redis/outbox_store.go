package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmehra2102/cart-service/pkg/outbox"
)

const (
	DefaultOutboxKey = "cart-outbox"
	maxDispatchTries = 5
)

// OutboxStore serves the outbox list filled by Store. Events are consumed
// from the tail and parked on a per-relay processing list until settled, so a
// crashed relay can give them back with Recover.
type OutboxStore struct {
	log     *slog.Logger
	rdb     *goredis.Client
	listKey string

	mu       sync.Mutex
	inflight map[string][]byte
}

func NewOutboxStore(log *slog.Logger, rdb *goredis.Client, listKey string) *OutboxStore {
	if listKey == "" {
		listKey = DefaultOutboxKey
	}
	return &OutboxStore{
		log:      log,
		rdb:      rdb,
		listKey:  listKey,
		inflight: make(map[string][]byte),
	}
}

func (s *OutboxStore) processingKey(relayID string) string {
	return s.listKey + ":processing:" + relayID
}

func (s *OutboxStore) deadKey() string {
	return s.listKey + ":dead"
}

func (s *OutboxStore) Recover(ctx context.Context, relayID string) (int, error) {
	s.mu.Lock()
	clear(s.inflight)
	s.mu.Unlock()

	n := 0
	for {
		err := s.rdb.LMove(ctx, s.processingKey(relayID), s.listKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, classify("outbox recover", err)
		}
		n++
	}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int) ([]outbox.Event, error) {
	proc := s.processingKey(relayID)
	events := make([]outbox.Event, 0, batchSize)

	for len(events) < batchSize {
		raw, err := s.rdb.LMove(ctx, s.listKey, proc, "RIGHT", "LEFT").Bytes()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return events, classify("outbox lock", err)
		}

		var ev outbox.Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.ID == "" {
			s.log.Error("outbox event undecodable, moving to dead list", "err", err)
			if _, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.LRem(ctx, proc, 1, raw)
				p.LPush(ctx, s.deadKey(), raw)
				return nil
			}); err != nil {
				return events, classify("outbox dead-letter", err)
			}
			continue
		}
		ev.Status = outbox.StatusInProgress
		ev.RelayID = relayID

		s.mu.Lock()
		s.inflight[ev.ID] = raw
		s.mu.Unlock()
		events = append(events, ev)
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, relayID string, ids []string) error {
	proc := s.processingKey(relayID)
	raws := s.take(ids)
	if len(raws) == 0 {
		return errors.New("no in-flight events to mark sent")
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, raw := range raws {
			p.LRem(ctx, proc, 1, raw)
		}
		return nil
	})
	if err != nil {
		return classify("outbox mark sent", err)
	}
	return nil
}

// MarkFailed puts the event back at the consuming end of the outbox, or on the
// dead list once it has failed maxDispatchTries times.
func (s *OutboxStore) MarkFailed(ctx context.Context, relayID string, id string, errMsg string) error {
	raws := s.take([]string{id})
	if len(raws) == 0 {
		return fmt.Errorf("outbox event %s is not in flight", id)
	}
	raw := raws[0]

	var ev outbox.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	ev.RetryCount++
	ev.LastError = &errMsg
	ev.Status = outbox.StatusPending
	if ev.RetryCount >= maxDispatchTries {
		ev.Status = outbox.StatusFailed
	}
	updated, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, s.processingKey(relayID), 1, raw)
		if ev.Status == outbox.StatusFailed {
			p.LPush(ctx, s.deadKey(), updated)
		} else {
			p.RPush(ctx, s.listKey, updated)
		}
		return nil
	})
	if err != nil {
		return classify("outbox mark failed", err)
	}
	if ev.Status == outbox.StatusFailed {
		s.log.Error("outbox event dead-lettered", "event_id", id, "retries", ev.RetryCount, "err", errMsg)
	}
	return nil
}

func (s *OutboxStore) take(ids []string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	raws := make([][]byte, 0, len(ids))
	for _, id := range ids {
		if raw, ok := s.inflight[id]; ok {
			raws = append(raws, raw)
			delete(s.inflight, id)
		}
	}
	return raws
}
