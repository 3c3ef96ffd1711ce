package coordinator

import (
	"context"
	"time"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// Messenger delivers outbound session traffic to counterparties and returns
// the messages they sent back in reply. contextID selects the counterparty;
// an empty contextID targets the session's default counterparty.
//
// The messenger package provides an HTTP implementation.
type Messenger interface {
	// SendOffer delivers an offer and returns the counterparty's reply
	// messages.
	SendOffer(ctx context.Context, sessionID string, offer core.Offer, contextID string) ([]protocol.ParsedMessage, error)

	// AcceptOffer notifies the counterparty that their offer was accepted.
	AcceptOffer(ctx context.Context, sessionID, offerID, message, contextID string) ([]protocol.ParsedMessage, error)

	// SendDiscovery delivers an informational message.
	SendDiscovery(ctx context.Context, sessionID string, discoveryData map[string]any, contextID string) ([]protocol.ParsedMessage, error)
}

// Result is the outcome of a completed session program.
type Result struct {
	Status      state.Status
	SessionID   string
	SessionType core.SessionType
	Data        map[string]any
	Message     string
}

// StartOptions configure a coordinator run.
type StartOptions struct {
	// MaxIterations bounds the negotiation loop regardless of session
	// conditions. Defaults to 100.
	MaxIterations int
	// Timeout fails the session if it is still active when the duration
	// elapses. Zero uses the timeout the session was created with.
	Timeout time.Duration
}

// WithTimeout sets the session timeout for a coordinator run.
func WithTimeout(d time.Duration) func(o *StartOptions) {
	return func(o *StartOptions) { o.Timeout = d }
}

// WithMaxIterations bounds the negotiation loop.
func WithMaxIterations(n int) func(o *StartOptions) {
	return func(o *StartOptions) { o.MaxIterations = n }
}
