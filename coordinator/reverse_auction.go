package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// ReverseAuctionOptions configure a ReverseAuctionCoordinator.
type ReverseAuctionOptions struct {
	Logger logging.Logger
	// Agent optionally shapes the per-round discovery broadcast. Without
	// one the coordinator sends a market summary of the previous round.
	Agent agent.Agent
}

// ReverseAuctionCoordinator runs multi-party reverse auctions. Each round it
// broadcasts a bid request to every counterparty in parallel, collects the
// offers they reply with, and moves on. It collects all offers without
// selecting a winner.
type ReverseAuctionCoordinator struct {
	store     *state.Store
	messenger Messenger
	agent     agent.Agent
	logger    logging.Logger
}

// NewReverseAuctionCoordinator creates a reverse auction coordinator. The
// store is required; the messenger is required for Start.
func NewReverseAuctionCoordinator(store *state.Store, messenger Messenger, optFns ...func(o *ReverseAuctionOptions)) *ReverseAuctionCoordinator {
	opts := ReverseAuctionOptions{
		Logger: logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ReverseAuctionCoordinator{
		store:     store,
		messenger: messenger,
		agent:     opts.Agent,
		logger:    opts.Logger,
	}
}

// Start executes all bidding rounds and blocks until the auction completes.
func (c *ReverseAuctionCoordinator) Start(ctx context.Context, sessionID string, optFns ...func(o *StartOptions)) (*Result, error) {
	if c.messenger == nil {
		return nil, fmt.Errorf("%w: messenger is required to start reverse auction", ErrMissingDependency)
	}

	opts := StartOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ras, ok := st.(*state.ReverseAuctionState)
	if !ok {
		return nil, fmt.Errorf("coordinator: session %s is not a reverse auction", sessionID)
	}

	if _, err := c.store.EmitEvent(sessionID, state.EventReverseAuctionStarted, map[string]any{
		"total_rounds":          ras.TotalRounds(),
		"round_duration":        ras.RoundDuration().Seconds(),
		"expected_participants": ras.ExpectedParticipants(),
	}, state.WithEmitContext(ras.Base().ContextID())); err != nil {
		return nil, err
	}

	c.logger.Info("started reverse auction",
		"session_id", sessionID,
		"rounds", ras.TotalRounds(),
		"participants", ras.ExpectedParticipants())

	totalRounds := ras.TotalRounds()
	for round := 1; round <= totalRounds; round++ {
		if ras.Base().Status() != state.StatusActive {
			break
		}

		c.logger.Info("bidding round started", "session_id", sessionID, "round", round, "total_rounds", totalRounds)

		if _, err := c.store.EmitEvent(sessionID, state.EventBiddingRoundStarted, map[string]any{
			"round_number":   round,
			"round_duration": ras.RoundDuration().Seconds(),
		}); err != nil {
			return nil, err
		}

		c.requestOffers(ctx, sessionID, ras, round)

		if err := sleepContext(ctx, ras.RoundDuration()); err != nil {
			return c.completeSession(sessionID, state.StatusCancelled, "Cancelled by caller")
		}

		roundOffers := ras.OffersForRound(round)

		c.logger.Info("bidding round ended", "session_id", sessionID, "round", round, "offers", len(roundOffers))

		if _, err := c.store.EmitEvent(sessionID, state.EventBiddingRoundEnded, map[string]any{
			"round_number":    round,
			"offers_received": len(roundOffers),
		}); err != nil {
			return nil, err
		}

		if len(roundOffers) == 0 && round == totalRounds {
			c.logger.Warn("no offers received in final round", "session_id", sessionID)
			break
		}
	}

	if len(ras.AllOffers()) == 0 {
		return c.completeSession(sessionID, state.StatusCompleted, "No offers received")
	}
	return c.completeSession(sessionID, state.StatusCompleted, "Reverse auction complete - all offers collected")
}

// requestOffers broadcasts the round's bid request to every counterparty in
// parallel, each exactly once. A failing counterparty only loses its own
// bid; the round proceeds with whoever replied.
func (c *ReverseAuctionCoordinator) requestOffers(ctx context.Context, sessionID string, ras *state.ReverseAuctionState, round int) {
	discoveryData := c.buildRoundRequest(ctx, sessionID, ras, round)

	if _, err := c.store.EmitEvent(sessionID, state.EventDiscoveryMessage, map[string]any{
		"discovery_data": discoveryData,
		"round":          round,
	}); err != nil {
		c.logger.Error("failed to record round broadcast", "session_id", sessionID, "error", err)
	}

	var wg sync.WaitGroup
	for contextID := range ras.Base().Counterparties() {
		wg.Add(1)
		go func(contextID string) {
			defer wg.Done()

			replies, err := c.messenger.SendDiscovery(ctx, sessionID, discoveryData, contextID)
			if err != nil {
				c.logger.Error("bid request failed",
					"session_id", sessionID,
					"context_id", contextID,
					"round", round,
					"error", err)
				return
			}

			if _, err := c.store.EmitEvent(sessionID, state.EventDiscoverySent, map[string]any{
				"round": round,
			}, state.WithEmitContext(contextID)); err != nil {
				c.logger.Error("failed to record bid request", "session_id", sessionID, "error", err)
			}

			for i := range replies {
				if replies[i].Type != protocol.MessageTypeOffer {
					continue
				}
				c.recordOffer(sessionID, &replies[i], round)
			}
		}(contextID)
	}
	wg.Wait()
}

// buildRoundRequest composes the discovery payload for a bidding round. It
// carries the previous round's market summary so sellers can price
// competitively; a configured agent may replace the broadcast entirely.
func (c *ReverseAuctionCoordinator) buildRoundRequest(ctx context.Context, sessionID string, ras *state.ReverseAuctionState, round int) map[string]any {
	data := map[string]any{
		"type":         "round_started",
		"round_number": round,
		"total_rounds": ras.TotalRounds(),
		"message":      fmt.Sprintf("Round %d started - please submit your offer.", round),
	}

	if round > 1 {
		if prev := ras.OffersForRound(round - 1); len(prev) > 0 {
			minPrice := prev[0].Price
			maxPrice := prev[0].Price
			sum := 0.0
			for _, o := range prev {
				if o.Price < minPrice {
					minPrice = o.Price
				}
				if o.Price > maxPrice {
					maxPrice = o.Price
				}
				sum += o.Price
			}
			avg := sum / float64(len(prev))

			data["min_offer"] = minPrice
			data["max_offer"] = maxPrice
			data["avg_offer"] = avg
			data["num_offers"] = len(prev)
			data["message"] = fmt.Sprintf(
				"Round %d started - please submit your offer.\n\n"+
					"Previous round (Round %d) market info:\n"+
					"- %d offers received\n"+
					"- Lowest offer: $%.2f\n"+
					"- Highest offer: $%.2f\n"+
					"- Average offer: $%.2f\n\n"+
					"Adjust your price to be more competitive if needed.",
				round, round-1, len(prev), minPrice, maxPrice, avg)
		}
	}

	if c.agent == nil {
		return data
	}

	action, err := c.agent.DecideNextAction(ctx, sessionID, ras)
	if err != nil {
		c.logger.Warn("auction agent failed, using default broadcast", "session_id", sessionID, "error", err)
		return data
	}
	if disc, ok := action.(agent.SendDiscovery); ok {
		for k, v := range disc.DiscoveryData {
			data[k] = v
		}
		if disc.Message != "" {
			data["message"] = disc.Message
		}
	}
	return data
}

// recordOffer folds a seller's bid into state, stamped with the round it was
// solicited for.
func (c *ReverseAuctionCoordinator) recordOffer(sessionID string, msg *protocol.ParsedMessage, round int) {
	if msg.OfferData == nil {
		return
	}
	offer, ok := core.OfferFromMap(msg.OfferData)
	if !ok {
		c.logger.Warn("discarding malformed offer", "session_id", sessionID)
		return
	}

	c.logger.Debug("offer received", "session_id", sessionID, "price", offer.Price, "round", round)

	_, err := c.store.EmitEvent(sessionID, state.EventOfferReceived, map[string]any{
		"offer": offer,
		"round": round,
	}, state.WithEmitContext(msg.ContextID))
	if err != nil {
		c.logger.Error("failed to record offer", "session_id", sessionID, "error", err)
	}
}

// HandleMessage folds one inbound message into auction state. Offers pushed
// outside a broadcast reply are attributed to the current round.
func (c *ReverseAuctionCoordinator) HandleMessage(sessionID string, msg *protocol.ParsedMessage) (*Result, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if st.Base().Status() != state.StatusActive {
		return nil, nil
	}

	switch msg.Type {
	case protocol.MessageTypeDiscovery:
		_, err := c.store.EmitEvent(sessionID, state.EventDiscoveryReceived, map[string]any{
			"discovery_data": msg.DiscoveryData,
		}, state.WithEmitContext(msg.ContextID))
		return nil, err

	case protocol.MessageTypeOffer:
		round := 0
		if ras, ok := st.(*state.ReverseAuctionState); ok {
			round = ras.CurrentRound()
		}
		c.recordOffer(sessionID, msg, round)
		return nil, nil

	case protocol.MessageTypeAction:
		if msg.Action == protocol.ActionCancel {
			c.logger.Info("reverse auction cancelled", "session_id", sessionID)
			if _, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
				"reason": "Cancelled by participant",
			}, state.WithEmitContext(msg.ContextID)); err != nil {
				return nil, err
			}
			return c.completeSession(sessionID, state.StatusCancelled, "Cancelled by participant")
		}
	}

	return nil, nil
}

// completeSession closes out the auction and builds the collected-offer
// result. All offers are reported; winner selection is left to the caller.
func (c *ReverseAuctionCoordinator) completeSession(sessionID string, status state.Status, reason string) (*Result, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ras, ok := st.(*state.ReverseAuctionState)
	if !ok {
		return nil, fmt.Errorf("coordinator: session %s is not a reverse auction", sessionID)
	}

	allOffers := ras.AllOffers()
	offerMaps := make([]map[string]any, len(allOffers))
	for i, o := range allOffers {
		offerMaps[i] = o.ToMap()
	}

	switch status {
	case state.StatusCompleted:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionCompleted, map[string]any{
			"reason":       reason,
			"total_offers": len(allOffers),
			"all_offers":   offerMaps,
		}); err != nil {
			return nil, err
		}
	case state.StatusCancelled:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{"reason": reason}); err != nil {
			return nil, err
		}
	case state.StatusFailed:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionFailed, map[string]any{"reason": reason}); err != nil {
			return nil, err
		}
	}

	data := map[string]any{
		"rounds":       ras.CurrentRound(),
		"total_offers": len(allOffers),
		"all_offers":   offerMaps,
		"started_at":   ras.Base().CreatedAt().Format(time.RFC3339Nano),
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
		"success":      len(allOffers) > 0,
	}

	if len(allOffers) > 0 {
		minPrice := allOffers[0].Price
		maxPrice := allOffers[0].Price
		sum := 0.0
		for _, o := range allOffers {
			if o.Price < minPrice {
				minPrice = o.Price
			}
			if o.Price > maxPrice {
				maxPrice = o.Price
			}
			sum += o.Price
		}
		data["price_range"] = map[string]any{
			"min": minPrice,
			"max": maxPrice,
			"avg": sum / float64(len(allOffers)),
		}
	}

	c.logger.Info("reverse auction finished", "session_id", sessionID, "status", status, "reason", reason)

	return &Result{
		Status:      status,
		SessionID:   sessionID,
		SessionType: core.SessionTypeReverseAuction,
		Data:        data,
		Message:     reason,
	}, nil
}

// Status reports the current auction status for callers that poll.
func (c *ReverseAuctionCoordinator) Status(sessionID string) (map[string]any, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ras, ok := st.(*state.ReverseAuctionState)
	if !ok {
		return nil, fmt.Errorf("coordinator: session %s is not a reverse auction", sessionID)
	}

	return map[string]any{
		"session_id":      sessionID,
		"status":          string(ras.Base().Status()),
		"current_round":   ras.CurrentRound(),
		"total_rounds":    ras.TotalRounds(),
		"offers_received": len(ras.AllOffers()),
	}, nil
}

// Cancel cancels an in-flight auction.
func (c *ReverseAuctionCoordinator) Cancel(sessionID string) error {
	_, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
		"reason": "Cancelled by user",
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
