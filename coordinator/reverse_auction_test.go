package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// sellerScript replies to each bid request with a fixed price per round, or
// an error when the seller is down.
type sellerScript struct {
	pricesByRound map[int]float64
	err           error
}

// auctionMessenger fans bid requests out to scripted sellers keyed by
// context id, counting solicitations per context.
type auctionMessenger struct {
	mu      sync.Mutex
	sellers map[string]*sellerScript
	calls   map[string]int
}

func (m *auctionMessenger) callCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.calls))
	for k, v := range m.calls {
		out[k] = v
	}
	return out
}

func (m *auctionMessenger) SendOffer(context.Context, string, core.Offer, string) ([]protocol.ParsedMessage, error) {
	return nil, nil
}

func (m *auctionMessenger) AcceptOffer(context.Context, string, string, string, string) ([]protocol.ParsedMessage, error) {
	return nil, nil
}

func (m *auctionMessenger) SendDiscovery(_ context.Context, _ string, data map[string]any, contextID string) ([]protocol.ParsedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[contextID]++

	seller, ok := m.sellers[contextID]
	if !ok {
		return nil, nil
	}
	if seller.err != nil {
		return nil, seller.err
	}

	round, _ := data["round_number"].(int)
	price, ok := seller.pricesByRound[round]
	if !ok {
		return nil, nil
	}

	return []protocol.ParsedMessage{offerReply(price, contextID)}, nil
}

func newAuction(t *testing.T, totalRounds int, sellerContexts []string) *state.Store {
	t.Helper()

	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	_, err := store.CreateSession("sess-ra", "ctx-buyer", core.SessionTypeReverseAuction, core.RoleBuyer, item,
		func(o *state.SessionOptions) {
			o.TotalRounds = totalRounds
			o.RoundDuration = time.Millisecond
			o.ExpectedParticipants = len(sellerContexts)
		})
	require.NoError(t, err)

	for i, contextID := range sellerContexts {
		_, err := store.EmitEvent("sess-ra", state.EventCounterpartyJoined, map[string]any{
			"context_id": contextID,
			"endpoint":   fmt.Sprintf("http://localhost:900%d", i),
		})
		require.NoError(t, err)
		store.AddContextMapping(contextID, "sess-ra")
	}

	return store
}

func TestReverseAuctionCollectsAllOffers(t *testing.T) {
	store := newAuction(t, 2, []string{"ctx-s1", "ctx-s2", "ctx-s3"})

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{1: 90, 2: 80}},
		"ctx-s2": {pricesByRound: map[int]float64{1: 85, 2: 83}},
		"ctx-s3": {pricesByRound: map[int]float64{1: 95}},
	}}

	coord := NewReverseAuctionCoordinator(store, messenger)
	result, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, result.Status)
	assert.Equal(t, 5, result.Data["total_offers"])
	assert.Equal(t, true, result.Data["success"])
	assert.Equal(t, 2, result.Data["rounds"])

	priceRange, ok := result.Data["price_range"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 80.0, priceRange["min"])
	assert.Equal(t, 95.0, priceRange["max"])

	st, err := store.GetSession("sess-ra")
	require.NoError(t, err)
	ras := st.(*state.ReverseAuctionState)
	assert.Len(t, ras.OffersForRound(1), 3)
	assert.Len(t, ras.OffersForRound(2), 2)
	assert.Equal(t, state.StatusCompleted, ras.Base().Status())
}

func TestReverseAuctionSolicitsEachSellerOncePerRound(t *testing.T) {
	// Session wired the way the facade wires it: one seller's context doubles
	// as the session's primary context and is also a registered counterparty.
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	_, err := store.CreateSession("sess-ra", "ctx-s1", core.SessionTypeReverseAuction, core.RoleBuyer, item,
		func(o *state.SessionOptions) {
			o.TotalRounds = 2
			o.RoundDuration = time.Millisecond
			o.ExpectedParticipants = 3
		})
	require.NoError(t, err)

	for i, contextID := range []string{"ctx-s1", "ctx-s2", "ctx-s3"} {
		_, err := store.EmitEvent("sess-ra", state.EventCounterpartyJoined, map[string]any{
			"context_id": contextID,
			"endpoint":   fmt.Sprintf("http://localhost:900%d", i),
		})
		require.NoError(t, err)
		store.AddContextMapping(contextID, "sess-ra")
	}

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{1: 90, 2: 85}},
		"ctx-s2": {pricesByRound: map[int]float64{1: 86, 2: 83}},
		"ctx-s3": {pricesByRound: map[int]float64{1: 95, 2: 88}},
	}}

	coord := NewReverseAuctionCoordinator(store, messenger)
	result, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	assert.Equal(t, 6, result.Data["total_offers"], "each seller bids once per round")
	assert.Equal(t, map[string]int{"ctx-s1": 2, "ctx-s2": 2, "ctx-s3": 2}, messenger.callCounts())

	st, err := store.GetSession("sess-ra")
	require.NoError(t, err)
	ras := st.(*state.ReverseAuctionState)
	assert.Len(t, ras.OffersForRound(1), 3)
	assert.Len(t, ras.OffersForRound(2), 3)
}

func TestReverseAuctionLogsOutboundBroadcasts(t *testing.T) {
	store := newAuction(t, 2, []string{"ctx-s1", "ctx-s2"})

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{1: 90, 2: 84}},
		"ctx-s2": {err: errors.New("connection refused")},
	}}

	coord := NewReverseAuctionCoordinator(store, messenger)
	_, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	// One broadcast record per round, carrying the payload.
	broadcasts, err := store.GetEvents("sess-ra", func(o *state.EventFilter) { o.Type = state.EventDiscoveryMessage })
	require.NoError(t, err)
	require.Len(t, broadcasts, 2)
	data, ok := broadcasts[0].Data["discovery_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, data["round_number"])

	// One solicitation record per seller actually reached; the failing
	// seller leaves no send record.
	sent, err := store.GetEvents("sess-ra", func(o *state.EventFilter) { o.Type = state.EventDiscoverySent })
	require.NoError(t, err)
	require.Len(t, sent, 2)
	for _, ev := range sent {
		assert.Equal(t, "ctx-s1", ev.ContextID)
	}
}

func TestReverseAuctionIsolatesSellerFailures(t *testing.T) {
	store := newAuction(t, 1, []string{"ctx-s1", "ctx-s2", "ctx-s3"})

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{1: 90}},
		"ctx-s2": {err: errors.New("connection refused")},
		"ctx-s3": {pricesByRound: map[int]float64{1: 88}},
	}}

	coord := NewReverseAuctionCoordinator(store, messenger)
	result, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Data["total_offers"], "failing seller loses only its own bid")
	assert.Equal(t, true, result.Data["success"])
}

func TestReverseAuctionNoOffers(t *testing.T) {
	store := newAuction(t, 2, []string{"ctx-s1"})

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{}},
	}}

	coord := NewReverseAuctionCoordinator(store, messenger)
	result, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, result.Status)
	assert.Equal(t, "No offers received", result.Message)
	assert.Equal(t, 0, result.Data["total_offers"])
	assert.Equal(t, false, result.Data["success"])
	assert.NotContains(t, result.Data, "price_range")
}

func TestReverseAuctionMarketFeedback(t *testing.T) {
	store := newAuction(t, 2, []string{"ctx-s1", "ctx-s2"})

	var mu sync.Mutex
	requests := map[int]map[string]any{}

	messenger := &auctionMessenger{sellers: map[string]*sellerScript{
		"ctx-s1": {pricesByRound: map[int]float64{1: 90, 2: 84}},
		"ctx-s2": {pricesByRound: map[int]float64{1: 86, 2: 82}},
	}}

	recorder := &scriptedMessenger{
		onDiscovery: func(data map[string]any, contextID string) ([]protocol.ParsedMessage, error) {
			mu.Lock()
			if round, ok := data["round_number"].(int); ok {
				requests[round] = data
			}
			mu.Unlock()
			return messenger.SendDiscovery(context.Background(), "sess-ra", data, contextID)
		},
	}

	coord := NewReverseAuctionCoordinator(store, recorder)
	_, err := coord.Start(context.Background(), "sess-ra")
	require.NoError(t, err)

	// Round 1 has no market history; round 2 summarizes round 1.
	require.Contains(t, requests, 1)
	assert.NotContains(t, requests[1], "min_offer")

	require.Contains(t, requests, 2)
	assert.Equal(t, 86.0, requests[2]["min_offer"])
	assert.Equal(t, 90.0, requests[2]["max_offer"])
	assert.Equal(t, 2, requests[2]["num_offers"])
}

func TestReverseAuctionCancelledByParticipant(t *testing.T) {
	store := newAuction(t, 3, []string{"ctx-s1"})

	_, err := store.EmitEvent("sess-ra", state.EventReverseAuctionStarted, nil)
	require.NoError(t, err)

	coord := NewReverseAuctionCoordinator(store, &auctionMessenger{})

	cancel := protocol.ParsedMessage{
		Type:      protocol.MessageTypeAction,
		ContextID: "ctx-s1",
		Action:    protocol.ActionCancel,
	}
	result, err := coord.HandleMessage("sess-ra", &cancel)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, state.StatusCancelled, result.Status)

	st, err := store.GetSession("sess-ra")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, st.Base().Status())
}

func TestReverseAuctionRequiresMessenger(t *testing.T) {
	store := newAuction(t, 1, nil)

	_, err := NewReverseAuctionCoordinator(store, nil).Start(context.Background(), "sess-ra")
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestReverseAuctionRejectsNegotiationSession(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	_, err := store.CreateSession("sess-1", "ctx-1", core.SessionTypeNegotiation, core.RoleBuyer, item)
	require.NoError(t, err)

	coord := NewReverseAuctionCoordinator(store, &auctionMessenger{})
	_, err = coord.Start(context.Background(), "sess-1")
	assert.Error(t, err)
}
