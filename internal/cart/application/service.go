package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/cart-service/internal/cart/domain"
)

var (
	ErrNotFound         = errors.New("cart not found")
	ErrStoreUnavailable = errors.New("cart store unavailable")
	ErrVersionConflict  = errors.New("cart version conflict")
	ErrLostUpdate       = errors.New("cart update lost to concurrent writers")
	// ErrCorruptCart means a stored value could not be decoded.
	ErrCorruptCart      = errors.New("stored cart is unreadable")
)

const (
	DefaultMaxAttempts = 8
	DefaultBackoff     = 5 * time.Millisecond
	maxBackoff         = 250 * time.Millisecond
)

// Mutation is a named change to a cart. Apply must be safe to call more than
// once on fresh copies of the cart, since conflicting writes re-run it.
type Mutation struct {
	Name  string
	Apply func(c *domain.Cart) error
}

func AddItem(item domain.CartItem) Mutation {
	return Mutation{Name: OpAddItem, Apply: func(c *domain.Cart) error { return c.AddItem(item) }}
}

func RemoveItem(productID string) Mutation {
	return Mutation{Name: OpRemoveItem, Apply: func(c *domain.Cart) error { return c.RemoveItem(productID) }}
}

func UpdateItemQuantity(productID string, quantity int) Mutation {
	return Mutation{Name: OpUpdateQuantity, Apply: func(c *domain.Cart) error { return c.UpdateItemQuantity(productID, quantity) }}
}

func Clear() Mutation {
	return Mutation{Name: OpClear, Apply: func(c *domain.Cart) error {
		c.Clear()
		return nil
	}}
}

// CartPayload is an inbound create/replace request. There is no total field:
// totals are always computed server side.
type CartPayload struct {
	CustomerID string            `json:"customerId"`
	Items      []domain.CartItem `json:"items"`
	Currency   string            `json:"currency"`
}

type Option func(*Service)

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// Service is the store gateway: every cart mutation is a read-modify-write
// cycle against the shared store, guarded by the cart version.
type Service struct {
	log         *slog.Logger
	store       CartStore
	locks       *keyedMutex
	tracer      trace.Tracer
	maxAttempts int
	backoff     time.Duration

	meterProvider metric.MeterProvider
	metrics       instruments
}

func NewService(log *slog.Logger, store CartStore, opts ...Option) *Service {
	s := &Service{
		log:         log,
		store:       store,
		locks:       newKeyedMutex(),
		tracer:      otel.Tracer("cart-gateway"),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	s.metrics = newInstruments(s.meterProvider, log)
	return s
}

// Get returns ErrNotFound when the customer has no cart. It never creates one.
func (s *Service) Get(ctx context.Context, customerID string) (*domain.Cart, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is empty", domain.ErrInvalidArgument)
	}
	ctx, span := s.tracer.Start(ctx, "GetCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()
	start := time.Now()

	cart, err := s.store.Get(ctx, customerID)
	s.metrics.observe(ctx, OpGet, start, err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		recordErr(span, err)
	}
	return cart, err
}

func (s *Service) List(ctx context.Context) iter.Seq2[*domain.Cart, error] {
	return func(yield func(*domain.Cart, error) bool) {
		start := time.Now()
		var failed error
		defer func() { s.metrics.observe(ctx, OpList, start, failed) }()
		for c, err := range s.store.List(ctx) {
			if err != nil {
				failed = err
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

func (s *Service) Put(ctx context.Context, cart *domain.Cart) error {
	if cart == nil || strings.TrimSpace(cart.CustomerID) == "" {
		return fmt.Errorf("%w: cart without customer id", domain.ErrInvalidArgument)
	}
	ctx, span := s.tracer.Start(ctx, "PutCart", trace.WithAttributes(attribute.String("customer.id", cart.CustomerID)))
	defer span.End()
	start := time.Now()

	err := s.store.Put(ctx, cart)
	s.metrics.observe(ctx, OpPut, start, err)
	if err != nil {
		recordErr(span, err)
		return err
	}
	return nil
}

// CreateOrReplace stores the payload as the customer's whole cart, last
// writer wins. Any client supplied total is ignored.
func (s *Service) CreateOrReplace(ctx context.Context, p CartPayload) (*domain.Cart, error) {
	if strings.TrimSpace(p.CustomerID) == "" {
		s.log.Warn("create cart rejected: customer id is missing")
		return nil, fmt.Errorf("%w: customer id is missing", domain.ErrInvalidArgument)
	}
	cart, err := domain.FromItems(p.CustomerID, p.Currency, p.Items)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ctx, cart); err != nil {
		return nil, err
	}
	s.log.Info("cart replaced", "customer_id", cart.CustomerID, "items", len(cart.Items()), "total", cart.Total().String(), "version", cart.Version)
	return cart, nil
}

// ApplyMutation loads the customer's cart (a new one if absent), applies fn and
// writes it back only if nobody else wrote in between. On conflict the whole
// cycle is retried up to the configured number of attempts, after which
// ErrLostUpdate is returned. Validation errors from fn are returned as is and
// nothing is written.
func (s *Service) ApplyMutation(ctx context.Context, customerID string, fn Mutation) (*domain.Cart, error) {
	op := fn.Name
	if op == "" {
		op = OpMutate
	}
	start := time.Now()
	cart, err := s.applyMutation(ctx, op, customerID, fn)
	s.metrics.observe(ctx, op, start, err)
	return cart, err
}

func (s *Service) applyMutation(ctx context.Context, op, customerID string, fn Mutation) (*domain.Cart, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is empty", domain.ErrInvalidArgument)
	}
	ctx, span := s.tracer.Start(ctx, "ApplyMutation", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("cart.operation", op),
	))
	defer span.End()

	unlock := s.locks.Lock(customerID)
	defer unlock()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		cart, err := s.store.Get(ctx, customerID)
		switch {
		case errors.Is(err, ErrNotFound):
			cart, err = domain.New(customerID)
			if err != nil {
				return nil, err
			}
		case err != nil:
			recordErr(span, err)
			return nil, err
		}

		expected := cart.Version
		if err := fn.Apply(cart); err != nil {
			return nil, err
		}

		err = s.store.PutIfVersion(ctx, cart, expected)
		if err == nil {
			span.SetAttributes(attribute.Int("cart.attempts", attempt), attribute.Int64("cart.version", cart.Version))
			return cart, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			recordErr(span, err)
			return nil, err
		}

		s.metrics.conflict(ctx, op)
		s.log.Warn("cart write conflict, retrying", "customer_id", customerID, "attempt", attempt, "expected_version", expected)
		if err := s.sleep(ctx, attempt); err != nil {
			recordErr(span, err)
			return nil, fmt.Errorf("%w: %w", ErrLostUpdate, err)
		}
	}

	err := fmt.Errorf("%w: customer %s after %d attempts", ErrLostUpdate, customerID, s.maxAttempts)
	s.log.Error("cart mutation abandoned", "customer_id", customerID, "err", err)
	recordErr(span, err)
	return nil, err
}

func (s *Service) sleep(ctx context.Context, attempt int) error {
	if s.backoff == 0 {
		return ctx.Err()
	}
	d := s.backoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	d = d/2 + rand.N(d/2+1)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
