package state

import (
	"time"

	"github.com/shaketlabs/shaket/core"
)

// EventType enumerates the significant business facts a session can record.
// The enumeration is closed: coordinators and servers emit only these types,
// and the fold functions recognize no others.
type EventType string

const (
	// Lifecycle events.
	EventSessionCreated   EventType = "session_created"
	EventSessionStarted   EventType = "session_started"
	EventSessionCompleted EventType = "session_completed"
	EventSessionCancelled EventType = "session_cancelled"
	EventSessionFailed    EventType = "session_failed"

	// Participant events.
	EventCounterpartyJoined EventType = "counterparty_joined"
	EventCounterpartyLeft   EventType = "counterparty_left"

	// Offer events. These are the audit-critical ones: final-price recovery
	// depends on every offer movement being logged.
	EventOfferSent     EventType = "offer_sent"
	EventOfferReceived EventType = "offer_received"
	EventOfferAccepted EventType = "offer_accepted"
	EventOfferRejected EventType = "offer_rejected"

	// Discovery events.
	EventDiscoveryMessage  EventType = "discovery_message"
	EventDiscoverySent     EventType = "discovery_sent"
	EventDiscoveryReceived EventType = "discovery_received"

	// Reverse auction events.
	EventReverseAuctionStarted EventType = "reverse_auction_started"
	EventBiddingRoundStarted   EventType = "bidding_round_started"
	EventBiddingRoundEnded     EventType = "bidding_round_ended"

	// Negotiation events.
	EventNegotiationRoundStarted EventType = "negotiation_round_started"

	// Timeout events.
	EventTimeoutWarning EventType = "timeout_warning"
	EventTimeoutReached EventType = "timeout_reached"

	// Generic state update escape hatch for known-field changes that have no
	// dedicated event type.
	EventStateUpdated EventType = "state_updated"
)

// Event is an immutable fact recorded against a session. Events are
// session-scoped and optionally attributed to the transport context of the
// participant that triggered them. After emission an event is never mutated
// or deleted except through whole-session deletion.
type Event struct {
	EventID   string         `json:"event_id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	ContextID string         `json:"context_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event with a generated id and the current UTC time.
// Store.EmitEvent is the sanctioned caller; tests use it for replay setups.
func NewEvent(sessionID string, eventType EventType, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventID:   core.NewID("evt"),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
