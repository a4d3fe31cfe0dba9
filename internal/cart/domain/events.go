package domain

import "time"

const EventCartUpdated = "CartUpdated"

// CartUpdated is published after every accepted write of a cart.
type CartUpdated struct {
	CustomerID string     `json:"customerId"`
	Version    int64      `json:"version"`
	Items      []CartItem `json:"items"`
	Total      Money      `json:"total"`
	ItemCount  int        `json:"itemCount"`
	Currency   string     `json:"currency"`
	OccurredAt time.Time  `json:"occurredAt"`
}

func NewCartUpdated(c *Cart) CartUpdated {
	return CartUpdated{
		CustomerID: c.CustomerID,
		Version:    c.Version,
		Items:      c.Items(),
		Total:      c.Total(),
		ItemCount:  c.ItemCount(),
		Currency:   c.Currency,
		OccurredAt: c.LastUpdated,
	}
}
