package core

import (
	"time"
)

// Offer is a price proposal inside a commerce session. Offers are immutable
// once created: a counter-offer is always a new Offer with a fresh id, prices
// are never edited in place. The Signature field is a pass-through
// placeholder; the engine neither produces nor verifies signatures.
type Offer struct {
	OfferID   string         `json:"offer_id"`
	Price     float64        `json:"price"`
	ItemID    string         `json:"item_id"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

// OfferOptions holds the optional fields of a new offer.
type OfferOptions struct {
	Message  string
	Metadata map[string]any
	From     string
	To       string
}

// NewOffer creates an offer with a generated id and the current UTC time.
func NewOffer(price float64, itemID string, optFns ...func(o *OfferOptions)) Offer {
	opts := OfferOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return Offer{
		OfferID:   NewID("offer"),
		Price:     price,
		ItemID:    itemID,
		Message:   opts.Message,
		Timestamp: time.Now().UTC(),
		Metadata:  opts.Metadata,
		From:      opts.From,
		To:        opts.To,
	}
}

// ToMap converts the offer to its wire/event representation.
func (o Offer) ToMap() map[string]any {
	m := map[string]any{
		"offer_id":  o.OfferID,
		"price":     o.Price,
		"item_id":   o.ItemID,
		"timestamp": o.Timestamp.Format(time.RFC3339Nano),
	}
	if o.Message != "" {
		m["message"] = o.Message
	}
	if len(o.Metadata) > 0 {
		m["metadata"] = o.Metadata
	}
	if o.From != "" {
		m["from"] = o.From
	}
	if o.To != "" {
		m["to"] = o.To
	}
	if o.Signature != "" {
		m["signature"] = o.Signature
	}
	return m
}

// OfferFromMap reconstructs an offer from its wire/event representation.
// The boolean is false when the map lacks the mandatory offer_id.
func OfferFromMap(m map[string]any) (Offer, bool) {
	id, ok := m["offer_id"].(string)
	if !ok || id == "" {
		return Offer{}, false
	}

	o := Offer{OfferID: id}
	switch v := m["price"].(type) {
	case float64:
		o.Price = v
	case int:
		o.Price = float64(v)
	}
	if v, ok := m["item_id"].(string); ok {
		o.ItemID = v
	}
	if v, ok := m["message"].(string); ok {
		o.Message = v
	}
	if v, ok := m["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			o.Timestamp = ts
		}
	} else if v, ok := m["timestamp"].(time.Time); ok {
		o.Timestamp = v
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	if v, ok := m["metadata"].(map[string]any); ok {
		o.Metadata = v
	}
	if v, ok := m["from"].(string); ok {
		o.From = v
	}
	if v, ok := m["to"].(string); ok {
		o.To = v
	}
	if v, ok := m["signature"].(string); ok {
		o.Signature = v
	}
	return o, true
}
