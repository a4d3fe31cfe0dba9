package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// cartJSON is the stored and wire shape of a cart. lastUpdated is epoch
// milliseconds so values written by older clients still decode.
type cartJSON struct {
	CustomerID  string     `json:"customerId"`
	Items       []CartItem `json:"items"`
	Total       Money      `json:"total"`
	Currency    string     `json:"currency"`
	LastUpdated int64      `json:"lastUpdated"`
	Version     int64      `json:"version"`
}

func (c Cart) MarshalJSON() ([]byte, error) {
	items := c.items
	if items == nil {
		items = []CartItem{}
	}
	var lastUpdated int64
	if !c.LastUpdated.IsZero() {
		lastUpdated = c.LastUpdated.UnixMilli()
	}
	return json.Marshal(cartJSON{
		CustomerID:  c.CustomerID,
		Items:       items,
		Total:       c.total,
		Currency:    c.Currency,
		LastUpdated: lastUpdated,
		Version:     c.Version,
	})
}

// UnmarshalJSON validates the decoded items and recomputes the total; the
// encoded total is never trusted.
func (c *Cart) UnmarshalJSON(b []byte) error {
	var raw struct {
		cartJSON
		Total json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	restored, err := New(raw.CustomerID)
	if err != nil {
		return err
	}
	for _, item := range raw.Items {
		if err := restored.AddItem(item); err != nil {
			return fmt.Errorf("cart %s: %w", raw.CustomerID, err)
		}
	}
	if raw.Currency != "" {
		restored.Currency = raw.Currency
	}
	restored.LastUpdated = time.Time{}
	if raw.LastUpdated != 0 {
		restored.LastUpdated = time.UnixMilli(raw.LastUpdated).UTC()
	}
	restored.Version = raw.Version

	*c = *restored
	return nil
}
