package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

var ErrInvalidArgument = errors.New("invalid argument")

const DefaultCurrency = "USD"

// MaxQuantity caps a single line.
const MaxQuantity = 1_000_000

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

type CartItem struct {
	ProductID string `json:"productId"`
	Price     Money  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Cart is the aggregate root for one customer's cart. Items and total are
// only reachable through the mutation methods so the total can never go stale.
type Cart struct {
	CustomerID  string
	Currency    string
	LastUpdated time.Time
	// Version is the optimistic-concurrency token assigned by the store.
	// Zero means the cart has never been persisted.
	Version int64

	items []CartItem
	total Money
}

func New(customerID string) (*Cart, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is empty", ErrInvalidArgument)
	}
	return &Cart{
		CustomerID:  customerID,
		Currency:    DefaultCurrency,
		LastUpdated: now(),
		items:       []CartItem{},
	}, nil
}

// FromItems builds a cart from a client payload. Duplicate product ids are
// merged with AddItem semantics and the total is always computed here.
func FromItems(customerID, currency string, items []CartItem) (*Cart, error) {
	c, err := New(customerID)
	if err != nil {
		return nil, err
	}
	if currency = strings.TrimSpace(currency); currency != "" {
		c.Currency = currency
	}
	for _, item := range items {
		if err := c.AddItem(item); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cart) Items() []CartItem {
	return slices.Clone(c.items)
}

func (c *Cart) Total() Money {
	return c.total
}

func (c *Cart) Clone() *Cart {
	cp := *c
	cp.items = slices.Clone(c.items)
	if cp.items == nil {
		cp.items = []CartItem{}
	}
	return &cp
}

func (c *Cart) AddItem(item CartItem) error {
	if item == (CartItem{}) {
		return fmt.Errorf("%w: item is empty", ErrInvalidArgument)
	}
	if err := validateItem(item); err != nil {
		return err
	}

	items := slices.Clone(c.items)
	if i := indexOf(items, item.ProductID); i >= 0 {
		// price stays as first inserted
		merged := items[i].Quantity + item.Quantity
		if merged > MaxQuantity {
			return fmt.Errorf("%w: quantity of %s would be %d, limit is %d", ErrInvalidArgument, item.ProductID, merged, MaxQuantity)
		}
		items[i].Quantity = merged
	} else {
		items = append(items, item)
	}
	return c.commit(items)
}

func (c *Cart) RemoveItem(productID string) error {
	if blank(productID) {
		return fmt.Errorf("%w: product id is empty", ErrInvalidArgument)
	}
	items := slices.DeleteFunc(slices.Clone(c.items), func(it CartItem) bool {
		return it.ProductID == productID
	})
	return c.commit(items)
}

// UpdateItemQuantity sets the quantity of an existing line. A quantity of zero
// or less removes the line; an unknown product id is ignored.
func (c *Cart) UpdateItemQuantity(productID string, quantity int) error {
	if blank(productID) {
		return fmt.Errorf("%w: product id is empty", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return c.RemoveItem(productID)
	}
	if quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds limit %d", ErrInvalidArgument, quantity, MaxQuantity)
	}
	i := indexOf(c.items, productID)
	if i < 0 {
		return nil
	}
	items := slices.Clone(c.items)
	items[i].Quantity = quantity
	return c.commit(items)
}

func (c *Cart) Clear() {
	c.items = []CartItem{}
	c.total = 0
	c.touch()
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func indexOf(items []CartItem, productID string) int {
	return slices.IndexFunc(items, func(it CartItem) bool {
		return it.ProductID == productID
	})
}

// commit installs items only if their total is representable; on error the
// cart is left as it was.
func (c *Cart) commit(items []CartItem) error {
	total, err := sumTotal(items)
	if err != nil {
		return err
	}
	c.items = items
	c.total = total
	c.touch()
	return nil
}

func sumTotal(items []CartItem) (Money, error) {
	var total Money
	for _, it := range items {
		line, err := it.Price.Times(it.Quantity)
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-line {
			return 0, fmt.Errorf("%w: cart total overflows", ErrInvalidArgument)
		}
		total += line
	}
	return total, nil
}

// touch never moves LastUpdated backwards, even if the wall clock does.
func (c *Cart) touch() {
	t := now()
	if t.Before(c.LastUpdated) {
		t = c.LastUpdated
	}
	c.LastUpdated = t
}

func validateItem(item CartItem) error {
	switch {
	case blank(item.ProductID):
		return fmt.Errorf("%w: product id is empty", ErrInvalidArgument)
	case item.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, item.Quantity)
	case item.Quantity > MaxQuantity:
		return fmt.Errorf("%w: quantity %d exceeds limit %d", ErrInvalidArgument, item.Quantity, MaxQuantity)
	case item.Price < 0:
		return fmt.Errorf("%w: price must not be negative, got %s", ErrInvalidArgument, item.Price)
	}
	return nil
}

func blank(id string) bool {
	return strings.TrimSpace(id) == ""
}
