package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	"github.com/dmehra2102/cart-service/internal/cart/domain"
	"github.com/dmehra2102/cart-service/pkg/idempotency"
)

type fakeCarts struct {
	mu        sync.Mutex
	cleared   []string
	err       error
	failFirst int
	calls     int
}

func (f *fakeCarts) ApplyMutation(ctx context.Context, customerID string, fn application.Mutation) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failFirst > 0 {
		f.failFirst--
		return nil, application.ErrStoreUnavailable
	}
	c, err := domain.New(customerID)
	if err != nil {
		return nil, err
	}
	_ = c.AddItem(domain.CartItem{ProductID: "P1", Price: 100, Quantity: 1})
	if err := fn.Apply(c); err != nil {
		return nil, err
	}
	if !c.IsEmpty() {
		return nil, errors.New("mutation did not clear the cart")
	}
	f.cleared = append(f.cleared, customerID)
	return c, nil
}

func newTestConsumer(t *testing.T, carts CartMutator) *Consumer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Consumer{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		carts:   carts,
		idem:    idempotency.NewStore(rdb, time.Minute),
		tracer:  otel.Tracer("test"),
		backoff: time.Millisecond,
	}
}

func orderMsg(offset int64, eventType, value string) kafka.Message {
	return kafka.Message{
		Topic:     "order.events",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(value),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
	}
}

func TestHandleOrderCreatedClearsCart(t *testing.T) {
	carts := &fakeCarts{}
	c := newTestConsumer(t, carts)
	ctx := context.Background()

	msg := orderMsg(7, "OrderCreated", `{"OrderID":"o-1","Customer":"C1","TotalCents":500}`)
	if err := c.handle(ctx, msg); err != nil {
		t.Fatal(err)
	}
	// redelivery of the same offset is skipped
	if err := c.handle(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if len(carts.cleared) != 1 || carts.cleared[0] != "C1" {
		t.Fatalf("cleared = %v", carts.cleared)
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	carts := &fakeCarts{}
	c := newTestConsumer(t, carts)

	for i, msg := range []kafka.Message{
		orderMsg(1, "PaymentProcessed", `{"OrderID":"o-1"}`),
		orderMsg(2, "OrderCreated", `not json`),
		orderMsg(3, "OrderCreated", `{"OrderID":"o-2"}`),
	} {
		if err := c.handle(context.Background(), msg); err != nil {
			t.Fatalf("msg %d: %v", i, err)
		}
	}
	if len(carts.cleared) != 0 {
		t.Fatalf("cleared = %v", carts.cleared)
	}
}

func TestHandleStoreFailureAllowsRedelivery(t *testing.T) {
	carts := &fakeCarts{err: application.ErrStoreUnavailable}
	c := newTestConsumer(t, carts)
	ctx := context.Background()
	msg := orderMsg(9, "OrderCreated", `{"OrderID":"o-3","Customer":"C3"}`)

	if err := c.handle(ctx, msg); !errors.Is(err, application.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	carts.err = nil
	if err := c.handle(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if len(carts.cleared) != 1 {
		t.Fatalf("redelivered message was not processed: %v", carts.cleared)
	}
}

type fakeReader struct {
	msgs      []kafka.Message
	committed chan int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed <- m.Offset
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestRunRetriesFailedMessageBeforeCommittingLater(t *testing.T) {
	carts := &fakeCarts{failFirst: 2}
	c := newTestConsumer(t, carts)
	reader := &fakeReader{
		msgs: []kafka.Message{
			orderMsg(5, "OrderCreated", `{"OrderID":"o-5","Customer":"C5"}`),
			orderMsg(6, "OrderCreated", `{"OrderID":"o-6","Customer":"C6"}`),
			orderMsg(7, "OrderCreated", `{"OrderID":"o-7","Customer":"   "}`),
		},
		committed: make(chan int64, 3),
	}
	c.reader = reader

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, want := range []int64{5, 6, 7} {
		select {
		case got := <-reader.committed:
			if got != want {
				t.Fatalf("committed offset %d, want %d", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("offset %d never committed", want)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if !reader.closed {
		t.Fatal("reader not closed")
	}

	carts.mu.Lock()
	defer carts.mu.Unlock()
	if len(carts.cleared) != 2 || carts.cleared[0] != "C5" || carts.cleared[1] != "C6" {
		t.Fatalf("cleared = %v", carts.cleared)
	}
	// two failures and one success for C5, one each for C6 and the rejected id
	if carts.calls != 5 {
		t.Fatalf("apply called %d times, want 5", carts.calls)
	}
}

func TestRunStopsRetryingOnCancel(t *testing.T) {
	carts := &fakeCarts{err: application.ErrStoreUnavailable}
	c := newTestConsumer(t, carts)
	reader := &fakeReader{
		msgs:      []kafka.Message{orderMsg(1, "OrderCreated", `{"OrderID":"o-1","Customer":"C1"}`)},
		committed: make(chan int64, 1),
	}
	c.reader = reader

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run returned %v", err)
	}
	if len(reader.committed) != 0 {
		t.Fatal("failed message was committed")
	}
}
