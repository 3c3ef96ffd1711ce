package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/state"
)

func newNegotiationSession(t *testing.T, role core.Role) (*state.Store, state.SessionState) {
	t.Helper()

	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	st, err := store.CreateSession("sess-1", "ctx-1", core.SessionTypeNegotiation, role, item)
	require.NoError(t, err)

	return store, st
}

func TestBuyerOpensAtTargetPrice(t *testing.T) {
	_, st := newNegotiationSession(t, core.RoleBuyer)
	buyer := NewBuyer(func(o *BuyerOptions) {
		o.TargetPrice = 70
		o.MaxPrice = 80
	})

	action, err := buyer.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	offer, ok := action.(SendOffer)
	require.True(t, ok)
	assert.Equal(t, 70.0, offer.Price)
}

func TestBuyerAcceptsWithinBudget(t *testing.T) {
	store, st := newNegotiationSession(t, core.RoleBuyer)

	received := core.NewOffer(78, "item-1")
	_, err := store.EmitEvent("sess-1", state.EventOfferReceived, map[string]any{"offer": received})
	require.NoError(t, err)

	buyer := NewBuyer(func(o *BuyerOptions) {
		o.TargetPrice = 70
		o.MaxPrice = 80
	})

	action, err := buyer.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	accept, ok := action.(AcceptOffer)
	require.True(t, ok)
	assert.Equal(t, received.OfferID, accept.OfferID)
}

func TestBuyerCountersTowardCounterparty(t *testing.T) {
	store, st := newNegotiationSession(t, core.RoleBuyer)

	sent := core.NewOffer(70, "item-1")
	_, err := store.EmitEvent("sess-1", state.EventOfferSent, map[string]any{"offer": sent})
	require.NoError(t, err)

	received := core.NewOffer(100, "item-1")
	_, err = store.EmitEvent("sess-1", state.EventOfferReceived, map[string]any{"offer": received})
	require.NoError(t, err)

	buyer := NewBuyer(func(o *BuyerOptions) {
		o.TargetPrice = 70
		o.MaxPrice = 80
	})

	action, err := buyer.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	offer, ok := action.(SendOffer)
	require.True(t, ok)
	assert.Equal(t, 80.0, offer.Price, "one third of the gap capped at max price")
}

func TestSellerSendsDiscoveryBeforeFirstOffer(t *testing.T) {
	_, st := newNegotiationSession(t, core.RoleSeller)
	seller := NewSeller()

	action, err := seller.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	_, ok := action.(SendDiscovery)
	assert.True(t, ok)
}

func TestSellerAcceptsAboveMinimum(t *testing.T) {
	store, st := newNegotiationSession(t, core.RoleSeller)

	received := core.NewOffer(79, "item-1")
	_, err := store.EmitEvent("sess-1", state.EventOfferReceived, map[string]any{"offer": received})
	require.NoError(t, err)

	seller := NewSeller(func(o *SellerOptions) {
		o.TargetPrice = 95
		o.MinPrice = 78
	})

	action, err := seller.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	accept, ok := action.(AcceptOffer)
	require.True(t, ok)
	assert.Equal(t, received.OfferID, accept.OfferID)
}

func TestSellerCountersBelowMinimum(t *testing.T) {
	store, st := newNegotiationSession(t, core.RoleSeller)

	received := core.NewOffer(60, "item-1")
	_, err := store.EmitEvent("sess-1", state.EventOfferReceived, map[string]any{"offer": received})
	require.NoError(t, err)

	seller := NewSeller(func(o *SellerOptions) {
		o.TargetPrice = 90
		o.MinPrice = 75
	})

	action, err := seller.DecideNextAction(context.Background(), "sess-1", st)
	require.NoError(t, err)

	offer, ok := action.(SendOffer)
	require.True(t, ok)
	assert.Equal(t, 75.0, offer.Price, "halfway counter clamped to min price")
}

func TestAgentRejectsWrongSessionType(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	st, err := store.CreateSession("sess-ra", "ctx-ra", core.SessionTypeReverseAuction, core.RoleBuyer, item)
	require.NoError(t, err)

	_, err = NewBuyer().DecideNextAction(context.Background(), "sess-ra", st)
	assert.Error(t, err)
}

func TestActionFromToolCall(t *testing.T) {
	t.Run("send_offer", func(t *testing.T) {
		action, err := ActionFromToolCall("send_offer", []byte(`{"price": 75.5, "message": "final"}`))
		require.NoError(t, err)

		offer, ok := action.(SendOffer)
		require.True(t, ok)
		assert.Equal(t, 75.5, offer.Price)
		assert.Equal(t, "final", offer.Message)
	})

	t.Run("accept", func(t *testing.T) {
		action, err := ActionFromToolCall("accept", []byte(`{"offer_id": "offer-abc"}`))
		require.NoError(t, err)

		accept, ok := action.(AcceptOffer)
		require.True(t, ok)
		assert.Equal(t, "offer-abc", accept.OfferID)
	})

	t.Run("send_discovery", func(t *testing.T) {
		action, err := ActionFromToolCall("send_discovery", []byte(`{"message": "specs?", "discovery_data": {"topic": "terms"}}`))
		require.NoError(t, err)

		disc, ok := action.(SendDiscovery)
		require.True(t, ok)
		assert.Equal(t, "specs?", disc.Message)
		assert.Equal(t, "terms", disc.DiscoveryData["topic"])
	})

	t.Run("missing price", func(t *testing.T) {
		_, err := ActionFromToolCall("send_offer", []byte(`{"message": "no price"}`))
		assert.Error(t, err)
	})

	t.Run("missing offer id", func(t *testing.T) {
		_, err := ActionFromToolCall("accept", []byte(`{}`))
		assert.Error(t, err)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := ActionFromToolCall("walk_away", []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestToolDefinitionsCoverAllActions(t *testing.T) {
	defs := ToolDefinitions()
	require.Len(t, defs, 3)

	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.Parameters["type"])
	}

	assert.True(t, names["send_offer"])
	assert.True(t, names["accept"])
	assert.True(t, names["send_discovery"])
}

func TestAuctionSellerUndercutsMarket(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	st, err := store.CreateSession("sess-ra", "ctx-ra", core.SessionTypeReverseAuction, core.RoleSeller, item,
		func(o *state.SessionOptions) { o.TotalRounds = 3 })
	require.NoError(t, err)

	seller := NewAuctionSeller(90, 60, func(o *AuctionSellerOptions) {
		o.SellerID = "seller-a"
		o.Strategy = StrategyConservative
	})

	// First bid goes out at the initial price.
	action, err := seller.DecideNextAction(context.Background(), "sess-ra", st)
	require.NoError(t, err)

	offer, ok := action.(SendOffer)
	require.True(t, ok)
	assert.Equal(t, 90.0, offer.Price)
	assert.Equal(t, "seller-a", offer.Metadata["seller_id"])

	// Market feedback reports a lower competing bid.
	_, err = store.EmitEvent("sess-ra", state.EventDiscoveryReceived, map[string]any{
		"discovery_data": map[string]any{"round": 2, "min_offer": 80.0},
	})
	require.NoError(t, err)

	action, err = seller.DecideNextAction(context.Background(), "sess-ra", st)
	require.NoError(t, err)

	offer, ok = action.(SendOffer)
	require.True(t, ok)
	assert.Less(t, offer.Price, 80.0)
	assert.GreaterOrEqual(t, offer.Price, 60.0)
}

func TestAuctionSellerRespectsFloor(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	st, err := store.CreateSession("sess-ra", "ctx-ra", core.SessionTypeReverseAuction, core.RoleSeller, item)
	require.NoError(t, err)

	seller := NewAuctionSeller(90, 85)

	_, err = store.EmitEvent("sess-ra", state.EventDiscoveryReceived, map[string]any{
		"discovery_data": map[string]any{"round": 1, "min_offer": 70.0},
	})
	require.NoError(t, err)

	action, err := seller.DecideNextAction(context.Background(), "sess-ra", st)
	require.NoError(t, err)

	offer, ok := action.(SendOffer)
	require.True(t, ok)
	assert.Equal(t, 85.0, offer.Price)
}

func TestAuctionBuyerSummarizesMarket(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	st, err := store.CreateSession("sess-ra", "ctx-ra", core.SessionTypeReverseAuction, core.RoleBuyer, item,
		func(o *state.SessionOptions) { o.TotalRounds = 2 })
	require.NoError(t, err)

	_, err = store.EmitEvent("sess-ra", state.EventBiddingRoundStarted, map[string]any{"round_number": 1})
	require.NoError(t, err)

	for _, price := range []float64{90, 85, 95} {
		offer := core.NewOffer(price, "item-1")
		_, err = store.EmitEvent("sess-ra", state.EventOfferReceived, map[string]any{
			"offer": offer,
			"round": 1,
		})
		require.NoError(t, err)
	}

	buyer := NewAuctionBuyer()
	action, err := buyer.DecideNextAction(context.Background(), "sess-ra", st)
	require.NoError(t, err)

	disc, ok := action.(SendDiscovery)
	require.True(t, ok)
	assert.Equal(t, 85.0, disc.DiscoveryData["min_offer"])
	assert.Equal(t, 95.0, disc.DiscoveryData["max_offer"])
	assert.Equal(t, 90.0, disc.DiscoveryData["avg_offer"])
	assert.Equal(t, 3, disc.DiscoveryData["num_offers"])
}
