package state

import (
	"time"

	"github.com/shaketlabs/shaket/core"
)

// ReverseAuctionState is the projection of a multi-party reverse auction
// session: a fixed number of bidding rounds with offers collected per round.
//
// Invariants maintained by the fold: every offer in allOffers also sits in
// exactly one round bucket, allOffers preserves arrival order, and
// currentRound only increases.
type ReverseAuctionState struct {
	BaseState

	currentRound   int
	totalRounds    int
	roundDuration  time.Duration
	roundStartTime *time.Time

	expectedParticipants int
	actualParticipants   int

	offersByRound map[int][]core.Offer
	allOffers     []core.Offer
}

func newReverseAuctionState(base BaseState, totalRounds int, roundDuration time.Duration, expectedParticipants int) *ReverseAuctionState {
	return &ReverseAuctionState{
		BaseState:            base,
		totalRounds:          totalRounds,
		roundDuration:        roundDuration,
		expectedParticipants: expectedParticipants,
		offersByRound:        map[int][]core.Offer{},
	}
}

// Base returns the shared session fields.
func (s *ReverseAuctionState) Base() *BaseState { return &s.BaseState }

// CurrentRound returns the bidding round counter.
func (s *ReverseAuctionState) CurrentRound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRound
}

// TotalRounds returns the fixed round count set at creation.
func (s *ReverseAuctionState) TotalRounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalRounds
}

// RoundDuration returns the per-round collection window.
func (s *ReverseAuctionState) RoundDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roundDuration
}

// RoundStartTime returns when the current round opened, or nil before the
// first round.
func (s *ReverseAuctionState) RoundStartTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.roundStartTime == nil {
		return nil
	}
	t := *s.roundStartTime
	return &t
}

// ExpectedParticipants returns the participant count declared at creation.
func (s *ReverseAuctionState) ExpectedParticipants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expectedParticipants
}

// ActualParticipants returns the number of counterparties that joined.
func (s *ReverseAuctionState) ActualParticipants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actualParticipants
}

// OffersForRound returns a copy of one round's bucket in arrival order.
func (s *ReverseAuctionState) OffersForRound(round int) []core.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.offersByRound[round]
	out := make([]core.Offer, len(bucket))
	copy(out, bucket)
	return out
}

// OfferCountsByRound returns the bucket sizes keyed by round number.
func (s *ReverseAuctionState) OfferCountsByRound() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.offersByRound))
	for round, offers := range s.offersByRound {
		out[round] = len(offers)
	}
	return out
}

// AllOffers returns every collected offer in arrival order.
func (s *ReverseAuctionState) AllOffers() []core.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Offer, len(s.allOffers))
	copy(out, s.allOffers)
	return out
}

// ApplyEvent folds one event: base semantics first, then the auction
// specific ones.
func (s *ReverseAuctionState) ApplyEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyBaseLocked(ev)

	switch ev.Type {
	case EventReverseAuctionStarted:
		s.setStatusLocked(StatusActive)

	case EventCounterpartyJoined:
		s.actualParticipants = len(s.counterparties)

	case EventBiddingRoundStarted:
		s.currentRound = roundFromEventData(ev.Data, "round_number", s.currentRound+1)
		start := ev.Timestamp
		s.roundStartTime = &start
		if _, ok := s.offersByRound[s.currentRound]; !ok {
			s.offersByRound[s.currentRound] = []core.Offer{}
		}

	case EventBiddingRoundEnded:
		// Marker only; the round counter moves on BIDDING_ROUND_STARTED.

	case EventOfferReceived:
		// Offers keep arriving across rounds; receiving one never changes
		// the session status. The round number travels in the event so a
		// slow seller's reply is filed against the round it was solicited
		// for, not whatever round is current when it lands.
		if offer, ok := offerFromEventData(ev.Data, "offer"); ok {
			round := roundFromEventData(ev.Data, "round", s.currentRound)
			s.addOfferLocked(offer, round)
		}

	case EventStateUpdated:
		if updates, ok := ev.Data["updates"].(map[string]any); ok {
			s.applyAuctionUpdatesLocked(updates)
		}
	}
}

func (s *ReverseAuctionState) addOfferLocked(offer core.Offer, round int) {
	s.allOffers = append(s.allOffers, offer)
	s.offersByRound[round] = append(s.offersByRound[round], offer)
}

func (s *ReverseAuctionState) applyAuctionUpdatesLocked(updates map[string]any) {
	for field := range updates {
		switch field {
		case "current_round":
			s.currentRound = roundFromEventData(updates, field, s.currentRound)
		case "expected_participants":
			s.expectedParticipants = roundFromEventData(updates, field, s.expectedParticipants)
		case "actual_participants":
			s.actualParticipants = roundFromEventData(updates, field, s.actualParticipants)
		}
	}
}

// Snapshot renders the auction state for status reporting.
func (s *ReverseAuctionState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshotLocked()
	snap["current_round"] = s.currentRound
	snap["total_rounds"] = s.totalRounds
	snap["round_duration_seconds"] = s.roundDuration.Seconds()
	if s.roundStartTime != nil {
		snap["round_start_time"] = s.roundStartTime.Format(time.RFC3339Nano)
	}
	snap["expected_participants"] = s.expectedParticipants
	snap["actual_participants"] = s.actualParticipants
	snap["total_offers"] = len(s.allOffers)

	counts := make(map[int]int, len(s.offersByRound))
	for round, offers := range s.offersByRound {
		counts[round] = len(offers)
	}
	snap["offers_by_round"] = counts
	return snap
}
