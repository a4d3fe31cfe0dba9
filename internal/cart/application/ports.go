package application

import (
	"context"
	"iter"

	"github.com/dmehra2102/cart-service/internal/cart/domain"
)

// CartStore is the shared key-value store holding one serialized cart per
// customer. Implementations report transport failures as ErrStoreUnavailable
// and a missing key as ErrNotFound.
type CartStore interface {
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	// List yields every stored cart in no particular order. It is not a
	// point-in-time snapshot across keys.
	List(ctx context.Context) iter.Seq2[*domain.Cart, error]
	// Put overwrites unconditionally and sets cart.Version to the stored version.
	Put(ctx context.Context, cart *domain.Cart) error
	// PutIfVersion writes only if the stored version still equals expected
	// (0 meaning "absent"), otherwise it returns ErrVersionConflict.
	PutIfVersion(ctx context.Context, cart *domain.Cart, expected int64) error
	Ping(ctx context.Context) error
}
