package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	"github.com/dmehra2102/cart-service/internal/cart/domain"
	"github.com/dmehra2102/cart-service/pkg/outbox"
	"github.com/dmehra2102/cart-service/pkg/tracing"
)

const (
	DefaultKeyPrefix = "cart:"
	DefaultTimeout   = 2 * time.Second

	// unconditional puts retry this often when a watched key keeps changing
	putRetries = 16
	scanCount  = 100
)

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires carts that have not been written for ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOutbox appends a CartUpdated event to the given list in the same
// MULTI/EXEC as every cart write.
func WithOutbox(listKey string) Option {
	return func(s *Store) { s.outboxKey = listKey }
}

// Store keeps each cart as one JSON value under prefix+customerID.
type Store struct {
	log       *slog.Logger
	rdb       *goredis.Client
	prefix    string
	ttl       time.Duration
	timeout   time.Duration
	outboxKey string
}

func NewStore(log *slog.Logger, rdb *goredis.Client, opts ...Option) *Store {
	s := &Store{
		log:     log,
		rdb:     rdb,
		prefix:  DefaultKeyPrefix,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(customerID string) string {
	return s.prefix + customerID
}

func (s *Store) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.rdb.Get(ctx, s.key(customerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", application.ErrNotFound, customerID)
	}
	if err != nil {
		return nil, classify("get", err)
	}
	return decode(customerID, raw)
}

// List walks the key space with SCAN, so it never blocks the server the way
// KEYS would. Keys evicted between SCAN and GET are skipped.
func (s *Store) List(ctx context.Context) iter.Seq2[*domain.Cart, error] {
	return func(yield func(*domain.Cart, error) bool) {
		it := s.rdb.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
		for it.Next(ctx) {
			cart, err := s.Get(ctx, strings.TrimPrefix(it.Val(), s.prefix))
			if errors.Is(err, application.ErrNotFound) {
				continue
			}
			if !yield(cart, err) || err != nil {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, classify("scan", err))
		}
	}
}

func (s *Store) Put(ctx context.Context, cart *domain.Cart) error {
	for attempt := 0; attempt < putRetries; attempt++ {
		err := s.write(ctx, cart, nil)
		if !errors.Is(err, goredis.TxFailedErr) {
			return s.result("put", cart, err)
		}
	}
	return fmt.Errorf("%w: put %s: key kept changing", application.ErrStoreUnavailable, cart.CustomerID)
}

func (s *Store) PutIfVersion(ctx context.Context, cart *domain.Cart, expected int64) error {
	err := s.write(ctx, cart, func(current int64) error {
		if current != expected {
			return fmt.Errorf("%w: %s expected version %d, stored %d", application.ErrVersionConflict, cart.CustomerID, expected, current)
		}
		return nil
	})
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: %s changed during write", application.ErrVersionConflict, cart.CustomerID)
	}
	return s.result("put-if-version", cart, err)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// write stores cart under WATCH with version current+1. check may veto the
// write after the current version has been read.
func (s *Store) write(ctx context.Context, cart *domain.Cart, check func(current int64) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.key(cart.CustomerID)
	var next int64
	txf := func(tx *goredis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}

		next = current + 1
		snapshot := cart.Clone()
		snapshot.Version = next
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		var event []byte
		if s.outboxKey != "" {
			if event, err = newOutboxEvent(ctx, snapshot); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, raw, s.ttl)
			if event != nil {
				p.LPush(ctx, s.outboxKey, event)
			}
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		return err
	}
	cart.Version = next
	return nil
}

func (s *Store) result(op string, cart *domain.Cart, err error) error {
	switch {
	case err == nil:
		s.log.Debug("cart stored", "customer_id", cart.CustomerID, "version", cart.Version, "op", op)
		return nil
	case errors.Is(err, application.ErrVersionConflict):
		return err
	default:
		return classify(op, err)
	}
}

func storedVersion(ctx context.Context, tx *goredis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: version of %s: %v", application.ErrCorruptCart, key, err)
	}
	return v.Version, nil
}

func newOutboxEvent(ctx context.Context, c *domain.Cart) ([]byte, error) {
	payload, err := json.Marshal(domain.NewCartUpdated(c))
	if err != nil {
		return nil, err
	}
	return json.Marshal(outbox.Event{
		ID:            uuid.NewString(),
		AggregateType: "cart",
		AggregateID:   c.CustomerID,
		Type:          domain.EventCartUpdated,
		Payload:       payload,
		Traceparent:   tracing.Traceparent(ctx),
		CreatedAt:     time.Now().UTC(),
		Status:        outbox.StatusPending,
	})
}

func decode(customerID string, raw []byte) (*domain.Cart, error) {
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		// %v, not %w: stored data errors must never read as ErrInvalidArgument
		return nil, fmt.Errorf("%w: cart %s: %v", application.ErrCorruptCart, customerID, err)
	}
	return &c, nil
}

// classify reports timeouts, canceled calls and broken or refused connections
// as the store being unavailable. Redis error replies and decode failures are
// returned as plain errors.
func classify(op string, err error) error {
	var (
		reply  goredis.Error
		netErr net.Error
	)
	switch {
	case errors.As(err, &reply):
		return fmt.Errorf("redis %s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, goredis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: redis %s: %w", application.ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("redis %s: %w", op, err)
	}
}
