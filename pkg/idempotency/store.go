package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
)

// DefaultPendingTTL bounds how long a claim whose owner died blocks retries.
const DefaultPendingTTL = 30 * time.Second

// Entry is what is stored under an idempotency key.
type Entry struct {
	State    State           `json:"state"`
	Response json.RawMessage `json:"response,omitempty"`
}

type Store struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	pending := DefaultPendingTTL
	if ttl > 0 && ttl < pending {
		pending = ttl
	}
	return &Store{rdb: rdb, ttl: ttl, pendingTTL: pending}
}

func (s *Store) Key(parts ...string) string {
	return "idem:" + strings.Join(parts, ":")
}

// Begin claims key as pending. If the key is already held, the existing entry
// is returned with claimed set to false.
func (s *Store) Begin(ctx context.Context, key string) (entry Entry, claimed bool, err error) {
	pending, err := json.Marshal(Entry{State: StatePending})
	if err != nil {
		return Entry{}, false, err
	}
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, key, pending, s.pendingTTL).Result()
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return Entry{State: StatePending}, true, nil
		}
		existing, found, err := s.Lookup(ctx, key)
		if err != nil {
			return Entry{}, false, err
		}
		if found {
			return existing, false, nil
		}
		// expired between SETNX and GET; try to claim again
	}
	return Entry{State: StatePending}, false, nil
}

// Lookup returns the entry under key, if any.
func (s *Store) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("idempotency entry %s: %w", key, err)
	}
	return e, true, nil
}

// Complete marks key done and keeps response for replays until the TTL expires.
func (s *Store) Complete(ctx context.Context, key string, response []byte) error {
	raw, err := json.Marshal(Entry{State: StateDone, Response: response})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, s.ttl).Err()
}

// Forget releases a claim so a failed operation can be retried under the same key.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
