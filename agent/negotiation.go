package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/shaketlabs/shaket/state"
)

// BuyerOptions configures a rule-based negotiation buyer.
type BuyerOptions struct {
	// TargetPrice is the buyer's opening offer.
	TargetPrice float64
	// MaxPrice is the highest price the buyer will accept.
	MaxPrice float64
	// Concession is the fraction of the gap to the counterparty's last
	// offer the buyer concedes each round.
	Concession float64
}

// Buyer is a rule-based negotiation agent for the buyer role. It opens at
// its target price, accepts any offer at or below its maximum, and
// otherwise counters by conceding a fraction of the gap.
type Buyer struct {
	opts BuyerOptions
}

// NewBuyer creates a rule-based buyer agent.
func NewBuyer(optFns ...func(o *BuyerOptions)) *Buyer {
	opts := BuyerOptions{
		TargetPrice: 70,
		MaxPrice:    100,
		Concession:  1.0 / 3.0,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Buyer{opts: opts}
}

// DecideNextAction implements the Agent interface.
func (b *Buyer) DecideNextAction(_ context.Context, _ string, st state.SessionState) (Action, error) {
	ns, ok := st.(*state.NegotiationState)
	if !ok {
		return nil, fmt.Errorf("agent: buyer requires a negotiation session, got %s", st.Base().Type())
	}

	last := ns.LastOfferReceived()
	if last == nil {
		return SendOffer{
			Price:   b.opts.TargetPrice,
			Message: fmt.Sprintf("How about $%.2f?", b.opts.TargetPrice),
		}, nil
	}

	if last.Price <= b.opts.MaxPrice {
		return AcceptOffer{OfferID: last.OfferID, Message: "Deal!"}, nil
	}

	ourLast := b.opts.TargetPrice
	if sent := ns.LastOfferSent(); sent != nil {
		ourLast = sent.Price
	}

	gap := last.Price - ourLast
	counter := roundCents(ourLast + gap*b.opts.Concession)
	counter = math.Min(counter, b.opts.MaxPrice)

	return SendOffer{
		Price:   counter,
		Message: fmt.Sprintf("I can do $%.2f", counter),
	}, nil
}

// SellerOptions configures a rule-based negotiation seller.
type SellerOptions struct {
	// TargetPrice is the seller's anchor when countering a first offer.
	TargetPrice float64
	// MinPrice is the lowest price the seller will accept.
	MinPrice float64
	// Concession is the fraction of the gap to the counterparty's last
	// offer the seller concedes each round.
	Concession float64
}

// Seller is a rule-based negotiation agent for the seller role. Before any
// offer arrives it sends a discovery message; afterwards it accepts any
// offer at or above its minimum and counters otherwise.
type Seller struct {
	opts SellerOptions
}

// NewSeller creates a rule-based seller agent.
func NewSeller(optFns ...func(o *SellerOptions)) *Seller {
	opts := SellerOptions{
		TargetPrice: 85,
		MinPrice:    65,
		Concession:  0.5,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Seller{opts: opts}
}

// DecideNextAction implements the Agent interface.
func (s *Seller) DecideNextAction(_ context.Context, _ string, st state.SessionState) (Action, error) {
	ns, ok := st.(*state.NegotiationState)
	if !ok {
		return nil, fmt.Errorf("agent: seller requires a negotiation session, got %s", st.Base().Type())
	}

	last := ns.LastOfferReceived()
	if last == nil {
		return SendDiscovery{
			Message:       "What's your budget?",
			DiscoveryData: map[string]any{"offering": "complete_package"},
		}, nil
	}

	if last.Price >= s.opts.MinPrice {
		return AcceptOffer{OfferID: last.OfferID, Message: "Sold!"}, nil
	}

	ourLast := s.opts.TargetPrice
	if sent := ns.LastOfferSent(); sent != nil {
		ourLast = sent.Price
	}

	gap := last.Price - ourLast
	counter := roundCents(ourLast + gap*s.opts.Concession)
	counter = math.Max(counter, s.opts.MinPrice)

	return SendOffer{
		Price:   counter,
		Message: fmt.Sprintf("Best I can do is $%.2f", counter),
	}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
