package state

import (
	"time"

	"github.com/shaketlabs/shaket/core"
)

// NegotiationState is the projection of a bilateral negotiation session.
// Beyond the base fields it tracks rounds, the running offer history on both
// sides, and the optional timeout.
//
// Invariants maintained by the fold: lastOfferSent/lastOfferReceived always
// equal the offer of the most recently folded OFFER_SENT/OFFER_RECEIVED
// event, and the two offer maps hold every offer ever folded (never pruned).
type NegotiationState struct {
	BaseState

	currentRound int
	maxRounds    int // 0 = unlimited

	timeout   time.Duration // 0 = no timeout
	timeoutAt *time.Time

	lastOfferSent     *core.Offer
	lastOfferReceived *core.Offer
	offersSent        map[string]core.Offer
	offersReceived    map[string]core.Offer
}

func newNegotiationState(base BaseState, maxRounds int, timeout time.Duration) *NegotiationState {
	return &NegotiationState{
		BaseState:      base,
		maxRounds:      maxRounds,
		timeout:        timeout,
		offersSent:     map[string]core.Offer{},
		offersReceived: map[string]core.Offer{},
	}
}

// Base returns the shared session fields.
func (s *NegotiationState) Base() *BaseState { return &s.BaseState }

// CurrentRound returns the negotiation round counter.
func (s *NegotiationState) CurrentRound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRound
}

// MaxRounds returns the round budget, 0 meaning unlimited.
func (s *NegotiationState) MaxRounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRounds
}

// Timeout returns the configured session timeout, 0 meaning none.
func (s *NegotiationState) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// TimeoutAt returns the deadline once a timeout watcher has been armed.
func (s *NegotiationState) TimeoutAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.timeoutAt == nil {
		return nil
	}
	t := *s.timeoutAt
	return &t
}

// LastOfferSent returns the most recent offer this side sent, or nil.
func (s *NegotiationState) LastOfferSent() *core.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastOfferSent == nil {
		return nil
	}
	o := *s.lastOfferSent
	return &o
}

// LastOfferReceived returns the most recent counterparty offer, or nil.
func (s *NegotiationState) LastOfferReceived() *core.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastOfferReceived == nil {
		return nil
	}
	o := *s.lastOfferReceived
	return &o
}

// OfferSent looks up a sent offer by id.
func (s *NegotiationState) OfferSent(offerID string) (core.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offersSent[offerID]
	return o, ok
}

// OfferReceived looks up a received offer by id.
func (s *NegotiationState) OfferReceived(offerID string) (core.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offersReceived[offerID]
	return o, ok
}

// OffersSentCount returns the number of offers sent so far.
func (s *NegotiationState) OffersSentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offersSent)
}

// OffersReceivedCount returns the number of offers received so far.
func (s *NegotiationState) OffersReceivedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offersReceived)
}

// AllOffers returns sent plus received offers. Order is unspecified.
func (s *NegotiationState) AllOffers() []core.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Offer, 0, len(s.offersSent)+len(s.offersReceived))
	for _, o := range s.offersSent {
		out = append(out, o)
	}
	for _, o := range s.offersReceived {
		out = append(out, o)
	}
	return out
}

// ApplyEvent folds one event: base semantics first, then the negotiation
// specific ones.
func (s *NegotiationState) ApplyEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyBaseLocked(ev)

	switch ev.Type {
	case EventNegotiationRoundStarted:
		s.currentRound = roundFromEventData(ev.Data, "round_number", s.currentRound+1)

	case EventOfferSent:
		if offer, ok := offerFromEventData(ev.Data, "offer"); ok {
			s.offersSent[offer.OfferID] = offer
			s.lastOfferSent = &offer
		}

	case EventOfferReceived:
		if offer, ok := offerFromEventData(ev.Data, "offer"); ok {
			s.offersReceived[offer.OfferID] = offer
			s.lastOfferReceived = &offer
		}

	case EventOfferAccepted:
		// An acceptance from either side closes the deal.
		s.setStatusLocked(StatusCompleted)

	case EventTimeoutWarning:
		if deadline, ok := ev.Data["timeout_at"].(time.Time); ok {
			s.timeoutAt = &deadline
		}

	case EventStateUpdated:
		if updates, ok := ev.Data["updates"].(map[string]any); ok {
			s.applyNegotiationUpdatesLocked(updates)
		}
	}
}

func (s *NegotiationState) applyNegotiationUpdatesLocked(updates map[string]any) {
	for field, value := range updates {
		switch field {
		case "current_round":
			s.currentRound = roundFromEventData(updates, field, s.currentRound)
		case "max_rounds":
			s.maxRounds = roundFromEventData(updates, field, s.maxRounds)
		case "timeout_seconds":
			if secs, ok := value.(float64); ok {
				s.timeout = time.Duration(secs * float64(time.Second))
			}
		}
	}
}

// Snapshot renders the negotiation state for status reporting.
func (s *NegotiationState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshotLocked()
	snap["current_round"] = s.currentRound
	snap["max_rounds"] = s.maxRounds
	snap["timeout_seconds"] = s.timeout.Seconds()
	if s.timeoutAt != nil {
		snap["timeout_at"] = s.timeoutAt.Format(time.RFC3339Nano)
	}
	if s.lastOfferSent != nil {
		snap["last_offer_sent"] = s.lastOfferSent.ToMap()
	}
	if s.lastOfferReceived != nil {
		snap["last_offer_received"] = s.lastOfferReceived.ToMap()
	}
	snap["offers_sent_count"] = len(s.offersSent)
	snap["offers_received_count"] = len(s.offersReceived)
	return snap
}
