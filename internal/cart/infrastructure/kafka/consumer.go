package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	"github.com/dmehra2102/cart-service/internal/cart/domain"
	"github.com/dmehra2102/cart-service/pkg/idempotency"
	"github.com/dmehra2102/cart-service/pkg/tracing"
)

const eventOrderCreated = "OrderCreated"

type CartMutator interface {
	ApplyMutation(ctx context.Context, customerID string, fn application.Mutation) (*domain.Cart, error)
}

type Deduper interface {
	Key(parts ...string) string
	Lookup(ctx context.Context, key string) (idempotency.Entry, bool, error)
	Complete(ctx context.Context, key string, response []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	retryBackoff    = 200 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

// orderCreated is the subset of the order service's event this consumer needs.
type orderCreated struct {
	OrderID  string `json:"OrderID"`
	Customer string `json:"Customer"`
}

// Consumer empties a customer's cart once their order has been created.
type Consumer struct {
	log     *slog.Logger
	reader  messageReader
	carts   CartMutator
	idem    Deduper
	tracer  trace.Tracer
	backoff time.Duration
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, carts CartMutator, idem Deduper) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:     log,
		reader:  r,
		carts:   carts,
		idem:    idem,
		tracer:  otel.Tracer("cart-order-consumer"),
		backoff: retryBackoff,
	}
}

// Run processes messages in order. A failed message is retried until it
// succeeds or ctx ends; committing a later offset would skip it for good.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}
		c.log.Error("order event not processed, retrying", "offset", msg.Offset, "partition", msg.Partition, "attempt", attempt, "err", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}
	}
}

// handle returns an error only for failures worth redelivering.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	if eventType := headerValue(msg.Headers, "event_type"); eventType != eventOrderCreated {
		return nil
	}

	key := c.idem.Key("kafka", msg.Topic, strconv.Itoa(msg.Partition), strconv.FormatInt(msg.Offset, 10))
	entry, found, err := c.idem.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if found && entry.State == idempotency.StateDone {
		c.log.Info("duplicate message skipped", "key", key)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeOrderCreated")
	defer span.End()

	var ev orderCreated
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.Customer == "" {
		c.log.Error("order event unusable", "err", err, "offset", msg.Offset)
		return nil
	}
	span.SetAttributes(attribute.String("customer.id", ev.Customer), attribute.String("order.id", ev.OrderID))

	_, err = c.carts.ApplyMutation(msgCtx, ev.Customer, application.Clear())
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, application.ErrCorruptCart):
		// retrying cannot succeed and would stall the partition
		c.log.Error("order event rejected", "customer_id", ev.Customer, "offset", msg.Offset, "err", err)
		return nil
	case err != nil:
		return err
	}
	if err := c.idem.Complete(ctx, key, nil); err != nil {
		// the cart is already cleared; a redelivery clears it again
		c.log.Warn("idempotency completion failed", "key", key, "err", err)
	}
	c.log.Info("cart cleared after order", "customer_id", ev.Customer, "order_id", ev.OrderID)
	return nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
