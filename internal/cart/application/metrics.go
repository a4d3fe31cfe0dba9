package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/dmehra2102/cart-service/internal/cart/domain"
)

// Operation names recorded on the gateway's metrics.
const (
	OpGet            = "get_cart"
	OpList           = "list_carts"
	OpPut            = "put_cart"
	OpAddItem        = "add_item"
	OpRemoveItem     = "remove_item"
	OpUpdateQuantity = "update_quantity"
	OpClear          = "clear_cart"
	OpMutate         = "mutate"
)

type instruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	conflicts  metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, log *slog.Logger) instruments {
	meter := mp.Meter("cart-gateway")
	fallback := noop.NewMeterProvider().Meter("cart-gateway")

	ops, err := meter.Int64Counter("cart.operations",
		metric.WithDescription("Cart operations by name and outcome"))
	if err != nil {
		log.Warn("cart.operations counter unavailable", "err", err)
		ops, _ = fallback.Int64Counter("cart.operations")
	}
	dur, err := meter.Float64Histogram("cart.operation.duration",
		metric.WithDescription("Time taken by cart operations"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("cart.operation.duration histogram unavailable", "err", err)
		dur, _ = fallback.Float64Histogram("cart.operation.duration")
	}
	conflicts, err := meter.Int64Counter("cart.write.conflicts",
		metric.WithDescription("Conditional cart writes rejected because the cart changed underneath"))
	if err != nil {
		log.Warn("cart.write.conflicts counter unavailable", "err", err)
		conflicts, _ = fallback.Int64Counter("cart.write.conflicts")
	}
	return instruments{operations: ops, duration: dur, conflicts: conflicts}
}

func (m instruments) observe(ctx context.Context, op string, start time.Time, err error) {
	opAttr := attribute.String("operation", op)
	m.operations.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("outcome", outcome(err))))
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(opAttr))
}

func (m instruments) conflict(ctx context.Context, op string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLostUpdate):
		return "lost_update"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrCorruptCart):
		return "corrupt"
	default:
		return "error"
	}
}
