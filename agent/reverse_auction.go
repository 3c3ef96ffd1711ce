package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/shaketlabs/shaket/state"
)

// AuctionBuyer is a rule-based agent for the buyer side of a reverse
// auction. After each bidding round it broadcasts market feedback so
// sellers can adjust their next bid.
type AuctionBuyer struct{}

// NewAuctionBuyer creates a rule-based reverse auction buyer agent.
func NewAuctionBuyer() *AuctionBuyer {
	return &AuctionBuyer{}
}

// DecideNextAction implements the Agent interface.
func (b *AuctionBuyer) DecideNextAction(_ context.Context, _ string, st state.SessionState) (Action, error) {
	ras, ok := st.(*state.ReverseAuctionState)
	if !ok {
		return nil, fmt.Errorf("agent: auction buyer requires a reverse auction session, got %s", st.Base().Type())
	}

	round := ras.CurrentRound()
	offers := ras.OffersForRound(round)
	if len(offers) == 0 {
		return SendDiscovery{
			Message:       "Waiting for offers",
			DiscoveryData: map[string]any{"round": round},
		}, nil
	}

	minPrice := offers[0].Price
	maxPrice := offers[0].Price
	sum := 0.0
	for _, o := range offers {
		minPrice = math.Min(minPrice, o.Price)
		maxPrice = math.Max(maxPrice, o.Price)
		sum += o.Price
	}

	return SendDiscovery{
		Message: fmt.Sprintf("Round %d market info. Lowest offer: $%.2f", round, minPrice),
		DiscoveryData: map[string]any{
			"round":      round,
			"min_offer":  minPrice,
			"max_offer":  maxPrice,
			"avg_offer":  sum / float64(len(offers)),
			"num_offers": len(offers),
		},
	}, nil
}

// PricingStrategy selects how an AuctionSeller undercuts the market.
type PricingStrategy string

const (
	// StrategyAggressive undercuts hard in every round.
	StrategyAggressive PricingStrategy = "aggressive"
	// StrategyConservative protects margin with small undercuts.
	StrategyConservative PricingStrategy = "conservative"
	// StrategyLastMinute holds back early and bids hard in the final round.
	StrategyLastMinute PricingStrategy = "last_minute"
	// StrategyBalanced applies a moderate randomized undercut.
	StrategyBalanced PricingStrategy = "balanced"
)

// AuctionSellerOptions configures a rule-based reverse auction seller.
type AuctionSellerOptions struct {
	// SellerID identifies this seller in offer metadata.
	SellerID string
	// InitialPrice is the seller's first bid.
	InitialPrice float64
	// MinPrice is the price floor the seller will not bid below.
	MinPrice float64
	// Aggressiveness is the base undercut amount in currency units.
	Aggressiveness float64
	// Strategy selects the undercut profile.
	Strategy PricingStrategy
	// Rand supplies randomness for undercut jitter. Defaults to the
	// shared global source.
	Rand *rand.Rand
}

// AuctionSeller is a rule-based agent for the seller side of a reverse
// auction. It bids its current price each round and undercuts the market's
// lowest offer, as reported in buyer discovery messages, according to its
// pricing strategy.
type AuctionSeller struct {
	opts         AuctionSellerOptions
	currentPrice float64
}

// NewAuctionSeller creates a rule-based reverse auction seller agent.
func NewAuctionSeller(initialPrice, minPrice float64, optFns ...func(o *AuctionSellerOptions)) *AuctionSeller {
	opts := AuctionSellerOptions{
		InitialPrice:   initialPrice,
		MinPrice:       minPrice,
		Aggressiveness: 2.0,
		Strategy:       StrategyBalanced,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &AuctionSeller{opts: opts, currentPrice: opts.InitialPrice}
}

// CurrentPrice returns the seller's current bid level.
func (s *AuctionSeller) CurrentPrice() float64 { return s.currentPrice }

// DecideNextAction implements the Agent interface.
func (s *AuctionSeller) DecideNextAction(_ context.Context, _ string, st state.SessionState) (Action, error) {
	round := 1
	totalRounds := 1
	var marketMin float64
	haveMarket := false

	switch v := st.(type) {
	case *state.ReverseAuctionState:
		round = v.CurrentRound()
		totalRounds = v.TotalRounds()
	case *state.NegotiationState:
		round = v.CurrentRound()
	}

	// Market feedback arrives as buyer discovery messages; the latest one
	// wins.
	for _, msg := range st.Base().DiscoveryMessages() {
		data := msg.Data
		if r, ok := intFromAny(data["round"]); ok {
			round = r
		} else if r, ok := intFromAny(data["round_number"]); ok {
			round = r
		}
		if tr, ok := intFromAny(data["total_rounds"]); ok {
			totalRounds = tr
		}
		if min, ok := floatFromAny(data["min_offer"]); ok {
			marketMin = min
			haveMarket = true
		}
	}

	if haveMarket {
		undercut := s.undercutAmount(round, totalRounds)
		next := math.Max(marketMin-undercut, s.opts.MinPrice)
		if next < s.currentPrice {
			s.currentPrice = roundCents(next)
		}
	}

	metadata := map[string]any{}
	if s.opts.SellerID != "" {
		metadata["seller_id"] = s.opts.SellerID
	}

	return SendOffer{
		Price:    s.currentPrice,
		Message:  fmt.Sprintf("%s offer for round %d", s.opts.SellerID, round),
		Metadata: metadata,
	}, nil
}

func (s *AuctionSeller) undercutAmount(round, totalRounds int) float64 {
	finalRound := round == totalRounds

	switch s.opts.Strategy {
	case StrategyAggressive:
		return s.opts.Aggressiveness + s.uniform(2)
	case StrategyConservative:
		return s.opts.Aggressiveness*0.5 + s.uniform(1)
	case StrategyLastMinute:
		if finalRound {
			return s.opts.Aggressiveness*2.0 + s.uniform(3)
		}
		return s.opts.Aggressiveness*0.3 + s.uniform(1)
	default:
		return s.opts.Aggressiveness + s.uniform(3)
	}
}

func (s *AuctionSeller) uniform(max float64) float64 {
	if s.opts.Rand != nil {
		return s.opts.Rand.Float64() * max
	}
	return rand.Float64() * max
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func floatFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
