package domain

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func fixedClock(t *testing.T, start time.Time) func(d time.Duration) {
	t.Helper()
	cur := start
	prev := now
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = prev })
	return func(d time.Duration) { cur = cur.Add(d) }
}

func mustNew(t *testing.T, id string) *Cart {
	t.Helper()
	c, err := New(id)
	if err != nil {
		t.Fatalf("New(%q): %v", id, err)
	}
	return c
}

func sumItems(c *Cart) Money {
	var total Money
	for _, it := range c.Items() {
		total += it.Price * Money(it.Quantity)
	}
	return total
}

func TestNew(t *testing.T) {
	t.Run("empty customer id -> invalid", func(t *testing.T) {
		_, err := New("")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		fixedClock(t, start)

		c := mustNew(t, "C1")
		if c.Currency != "USD" || c.Total() != 0 || !c.IsEmpty() || c.Version != 0 {
			t.Fatalf("unexpected new cart: %+v", c)
		}
		if !c.LastUpdated.Equal(start) {
			t.Fatalf("lastUpdated = %v, want %v", c.LastUpdated, start)
		}
	})
}

func TestAddItemMergesAndKeepsFirstPrice(t *testing.T) {
	c := mustNew(t, "C1")

	if err := c.AddItem(CartItem{ProductID: "P1", Price: 1000, Quantity: 2}); err != nil {
		t.Fatal(err)
	}
	if c.Total() != 2000 || c.ItemCount() != 2 {
		t.Fatalf("got total=%s count=%d", c.Total(), c.ItemCount())
	}

	if err := c.AddItem(CartItem{ProductID: "P1", Price: 99900, Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	items := c.Items()
	if len(items) != 1 {
		t.Fatalf("expected one line, got %d", len(items))
	}
	if items[0].Quantity != 3 || items[0].Price != 1000 {
		t.Fatalf("got %+v", items[0])
	}
	if c.Total() != 3000 {
		t.Fatalf("total = %s, want 30.00", c.Total())
	}
}

func TestAddItemValidation(t *testing.T) {
	cases := map[string]CartItem{
		"zero item":         {},
		"empty product id":  {Price: 100, Quantity: 1},
		"zero quantity":     {ProductID: "P1", Price: 100},
		"negative quantity": {ProductID: "P1", Price: 100, Quantity: -2},
		"negative price":    {ProductID: "P1", Price: -1, Quantity: 1},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			c := mustNew(t, "C1")
			if err := c.AddItem(item); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if !c.IsEmpty() {
				t.Fatal("rejected item must not be added")
			}
		})
	}
}

func TestTotalMatchesItemsAfterRandomOps(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	products := []string{"P1", "P2", "P3", "P4"}
	c := mustNew(t, "C1")

	for i := 0; i < 500; i++ {
		p := products[r.IntN(len(products))]
		var err error
		switch r.IntN(3) {
		case 0:
			err = c.AddItem(CartItem{ProductID: p, Price: Money(r.IntN(10_000)), Quantity: 1 + r.IntN(5)})
		case 1:
			err = c.RemoveItem(p)
		case 2:
			err = c.UpdateItemQuantity(p, r.IntN(6)-1)
		}
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		if got, want := c.Total(), sumItems(c); got != want {
			t.Fatalf("op %d: total %s, recomputed %s", i, got, want)
		}
		seen := map[string]bool{}
		count := 0
		for _, it := range c.Items() {
			if seen[it.ProductID] {
				t.Fatalf("op %d: duplicate product %s", i, it.ProductID)
			}
			seen[it.ProductID] = true
			count += it.Quantity
		}
		if c.ItemCount() != count {
			t.Fatalf("op %d: itemCount %d, want %d", i, c.ItemCount(), count)
		}
		if c.IsEmpty() != (len(c.Items()) == 0) {
			t.Fatalf("op %d: IsEmpty mismatch", i)
		}
	}
}

func TestRemoveItem(t *testing.T) {
	t.Run("removes line and recomputes", func(t *testing.T) {
		c := mustNew(t, "C1")
		_ = c.AddItem(CartItem{ProductID: "P1", Price: 500, Quantity: 2})
		_ = c.AddItem(CartItem{ProductID: "P2", Price: 300, Quantity: 1})

		if err := c.RemoveItem("P2"); err != nil {
			t.Fatal(err)
		}
		items := c.Items()
		if len(items) != 1 || items[0].ProductID != "P1" {
			t.Fatalf("got %+v", items)
		}
		if c.Total() != 1000 {
			t.Fatalf("total = %s, want 10.00", c.Total())
		}
	})

	t.Run("absent product is a no-op", func(t *testing.T) {
		c := mustNew(t, "C1")
		_ = c.AddItem(CartItem{ProductID: "P1", Price: 500, Quantity: 2})
		if err := c.RemoveItem("nope"); err != nil {
			t.Fatal(err)
		}
		if c.ItemCount() != 2 {
			t.Fatalf("itemCount = %d", c.ItemCount())
		}
	})

	t.Run("empty product id -> invalid", func(t *testing.T) {
		c := mustNew(t, "C1")
		if err := c.RemoveItem(""); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("remove then re-add matches never removing", func(t *testing.T) {
		a := mustNew(t, "C1")
		b := mustNew(t, "C1")
		p1 := CartItem{ProductID: "P1", Price: 250, Quantity: 4}
		p2 := CartItem{ProductID: "P2", Price: 199, Quantity: 1}
		for _, c := range []*Cart{a, b} {
			_ = c.AddItem(p1)
			_ = c.AddItem(p2)
		}
		_ = b.RemoveItem("P2")
		_ = b.AddItem(p2)

		if a.Total() != b.Total() || a.ItemCount() != b.ItemCount() {
			t.Fatalf("carts differ: %s/%d vs %s/%d", a.Total(), a.ItemCount(), b.Total(), b.ItemCount())
		}
		ai, bi := a.Items(), b.Items()
		for i := range ai {
			if ai[i] != bi[i] {
				t.Fatalf("line %d: %+v vs %+v", i, ai[i], bi[i])
			}
		}
	})
}

func TestUpdateItemQuantity(t *testing.T) {
	seed := func(t *testing.T) *Cart {
		c := mustNew(t, "C1")
		_ = c.AddItem(CartItem{ProductID: "P1", Price: 500, Quantity: 2})
		_ = c.AddItem(CartItem{ProductID: "P2", Price: 300, Quantity: 1})
		return c
	}

	t.Run("sets quantity", func(t *testing.T) {
		c := seed(t)
		if err := c.UpdateItemQuantity("P2", 5); err != nil {
			t.Fatal(err)
		}
		if c.Total() != 2500 || c.ItemCount() != 7 {
			t.Fatalf("got total=%s count=%d", c.Total(), c.ItemCount())
		}
	})

	t.Run("zero behaves like remove", func(t *testing.T) {
		a, b := seed(t), seed(t)
		_ = a.UpdateItemQuantity("P1", 0)
		_ = b.RemoveItem("P1")
		if a.Total() != b.Total() || len(a.Items()) != len(b.Items()) || a.Items()[0] != b.Items()[0] {
			t.Fatalf("update(0) %+v != remove %+v", a.Items(), b.Items())
		}
	})

	t.Run("negative behaves like remove", func(t *testing.T) {
		c := seed(t)
		_ = c.UpdateItemQuantity("P1", -3)
		if len(c.Items()) != 1 || c.Total() != 300 {
			t.Fatalf("got %+v", c.Items())
		}
	})

	t.Run("absent product is ignored", func(t *testing.T) {
		c := seed(t)
		before := c.LastUpdated
		if err := c.UpdateItemQuantity("P9", 4); err != nil {
			t.Fatal(err)
		}
		if len(c.Items()) != 2 || !c.LastUpdated.Equal(before) {
			t.Fatalf("absent update must not change the cart")
		}
	})

	t.Run("empty product id -> invalid", func(t *testing.T) {
		c := seed(t)
		if err := c.UpdateItemQuantity("", 1); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestClear(t *testing.T) {
	c := mustNew(t, "C1")
	_ = c.AddItem(CartItem{ProductID: "P1", Price: 500, Quantity: 2})
	c.Clear()
	if !c.IsEmpty() || c.Total() != 0 || c.ItemCount() != 0 {
		t.Fatalf("cart not cleared: %+v", c.Items())
	}
	if c.CustomerID != "C1" {
		t.Fatal("clear must keep the customer id")
	}
}

func TestLastUpdatedNeverMovesBackwards(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	advance := fixedClock(t, start)

	c := mustNew(t, "C1")
	advance(time.Minute)
	_ = c.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: 1})
	if !c.LastUpdated.Equal(start.Add(time.Minute)) {
		t.Fatalf("lastUpdated = %v", c.LastUpdated)
	}

	advance(-time.Hour)
	_ = c.RemoveItem("P1")
	if !c.LastUpdated.Equal(start.Add(time.Minute)) {
		t.Fatalf("lastUpdated moved backwards to %v", c.LastUpdated)
	}
}

func TestFromItems(t *testing.T) {
	t.Run("merges duplicates and computes total", func(t *testing.T) {
		c, err := FromItems("C1", "", []CartItem{
			{ProductID: "P1", Price: 100, Quantity: 1},
			{ProductID: "P2", Price: 250, Quantity: 2},
			{ProductID: "P1", Price: 900, Quantity: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Items()) != 2 || c.Total() != 800 || c.Currency != "USD" {
			t.Fatalf("got %+v total=%s", c.Items(), c.Total())
		}
	})

	t.Run("missing customer id -> invalid", func(t *testing.T) {
		_, err := FromItems("", "USD", nil)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestCloneIsIndependent(t *testing.T) {
	c := mustNew(t, "C1")
	_ = c.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: 1})
	cp := c.Clone()
	_ = cp.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: 1})

	if c.ItemCount() != 1 || cp.ItemCount() != 2 {
		t.Fatalf("clone shares state: %d / %d", c.ItemCount(), cp.ItemCount())
	}
}

func TestArithmeticLimits(t *testing.T) {
	t.Run("merge beyond max quantity is rejected", func(t *testing.T) {
		c := mustNew(t, "C1")
		if err := c.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: MaxQuantity}); err != nil {
			t.Fatal(err)
		}
		before := c.LastUpdated
		if err := c.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: 1}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		items := c.Items()
		if items[0].Quantity != MaxQuantity || c.Total() != Money(100*MaxQuantity) || !c.LastUpdated.Equal(before) {
			t.Fatalf("cart changed by rejected add: %+v total=%s", items, c.Total())
		}
	})

	t.Run("huge quantity is rejected", func(t *testing.T) {
		c := mustNew(t, "C1")
		for _, q := range []int{math.MaxInt, MaxQuantity + 1} {
			if err := c.AddItem(CartItem{ProductID: "P1", Price: 1, Quantity: q}); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("qty %d: expected ErrInvalidArgument, got %v", q, err)
			}
		}
		if !c.IsEmpty() {
			t.Fatal("rejected items were added")
		}
	})

	t.Run("line total overflow is rejected", func(t *testing.T) {
		c := mustNew(t, "C1")
		err := c.AddItem(CartItem{ProductID: "P1", Price: math.MaxInt64 / 2, Quantity: 3})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if !c.IsEmpty() || c.Total() != 0 {
			t.Fatal("cart changed by rejected add")
		}
	})

	t.Run("cart total overflow is rejected", func(t *testing.T) {
		c := mustNew(t, "C1")
		if err := c.AddItem(CartItem{ProductID: "P1", Price: math.MaxInt64 - 10, Quantity: 1}); err != nil {
			t.Fatal(err)
		}
		if err := c.AddItem(CartItem{ProductID: "P2", Price: 11, Quantity: 1}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if len(c.Items()) != 1 || c.Total() != math.MaxInt64-10 {
			t.Fatalf("cart changed by rejected add: %+v", c.Items())
		}
	})

	t.Run("update quantity overflow is rejected", func(t *testing.T) {
		c := mustNew(t, "C1")
		_ = c.AddItem(CartItem{ProductID: "P1", Price: math.MaxInt64 / 4, Quantity: 1})
		if err := c.UpdateItemQuantity("P1", 5); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if err := c.UpdateItemQuantity("P1", MaxQuantity+1); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if c.Items()[0].Quantity != 1 {
			t.Fatalf("quantity = %d, want 1", c.Items()[0].Quantity)
		}
	})

	t.Run("times", func(t *testing.T) {
		if m, err := Money(250).Times(4); err != nil || m != 1000 {
			t.Fatalf("got %d, %v", m, err)
		}
		if _, err := Money(1_000_000_00).Times(1 << 40); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestBlankProductIDs(t *testing.T) {
	c := mustNew(t, "C1")
	_ = c.AddItem(CartItem{ProductID: "P1", Price: 100, Quantity: 1})

	for _, id := range []string{"", "   ", "\t"} {
		if err := c.AddItem(CartItem{ProductID: id, Price: 1, Quantity: 1}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("add %q: expected ErrInvalidArgument, got %v", id, err)
		}
		if err := c.RemoveItem(id); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("remove %q: expected ErrInvalidArgument, got %v", id, err)
		}
		if err := c.UpdateItemQuantity(id, 2); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("update %q: expected ErrInvalidArgument, got %v", id, err)
		}
	}
	if len(c.Items()) != 1 {
		t.Fatalf("items = %+v", c.Items())
	}
}
