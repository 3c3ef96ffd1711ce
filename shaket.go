// Package shaket provides a high-level façade for agent-to-agent commerce
// sessions: 1-on-1 price negotiations and multi-party reverse auctions,
// both built on an event-sourced session store. Most applications interact
// with this package by:
//  1. Creating a Client via New() (optionally supplying a shared store,
//     connection registry, or structured logger)
//  2. Starting a session against one or more peer endpoints with
//     StartNegotiation or StartReverseAuction, which block until the
//     session resolves
//  3. Inspecting the returned Result and, when needed, the session's full
//     event log via Events()
//
// The reactive side lives in the server package; the same agent
// implementations work on both sides.
package shaket

import (
	"context"
	"fmt"
	"time"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/coordinator"
	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/messenger"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// Options configure the Client.
type Options struct {
	// Store holds session state and event logs. Defaults to a fresh
	// in-memory store.
	Store *state.Store
	// Registry is the peer address book. Defaults to a fresh registry
	// with a shared HTTP client.
	Registry *messenger.ConnectionRegistry
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Client is the proactive session peer: it initiates sessions with remote
// agents and runs their coordination loops.
type Client struct {
	store     *state.Store
	registry  *messenger.ConnectionRegistry
	messenger *messenger.SessionMessenger
	logger    logging.Logger
}

// New creates a new Client with optional overrides. Any unset dependency is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Client {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = state.NewStore(func(o *state.StoreOptions) {
			o.Logger = opts.Logger
		})
	}
	if opts.Registry == nil {
		opts.Registry = messenger.NewConnectionRegistry()
	}

	return &Client{
		store:    opts.Store,
		registry: opts.Registry,
		messenger: messenger.NewSessionMessenger(opts.Store, opts.Registry, func(o *messenger.Options) {
			o.Logger = opts.Logger
		}),
		logger: opts.Logger,
	}
}

// Store returns the client's session store.
func (c *Client) Store() *state.Store { return c.store }

// NegotiationConfig configures StartNegotiation.
type NegotiationConfig struct {
	// MaxRounds fails the negotiation when reached without agreement.
	// Zero means unlimited.
	MaxRounds int
	// Timeout fails the session when it is still active after the
	// duration. Zero disables the watchdog.
	Timeout time.Duration
}

// StartNegotiation initiates a 1-on-1 negotiation with the peer at
// endpoint and blocks until it completes, fails, or is cancelled. The agent
// decides every move; role is this client's side of the deal.
func (c *Client) StartNegotiation(ctx context.Context, endpoint string, item core.Item, role core.Role, ag agent.Agent, optFns ...func(o *NegotiationConfig)) (*coordinator.Result, error) {
	cfg := NegotiationConfig{}
	for _, fn := range optFns {
		fn(&cfg)
	}

	sessionID := core.NewID("neg")

	contextID, err := c.initSession(ctx, endpoint, item, role, core.SessionTypeNegotiation, nil)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.CreateSession(sessionID, contextID, core.SessionTypeNegotiation, role, item,
		func(o *state.SessionOptions) {
			o.MaxRounds = cfg.MaxRounds
			o.Timeout = cfg.Timeout
		}); err != nil {
		return nil, err
	}

	if err := c.joinCounterparty(ctx, sessionID, contextID, endpoint); err != nil {
		return nil, err
	}

	c.logger.Info("starting negotiation", "session_id", sessionID, "endpoint", endpoint)

	coord := coordinator.NewNegotiationCoordinator(c.store, ag, c.messenger, func(o *coordinator.NegotiationOptions) {
		o.Logger = c.logger
	})
	return coord.Start(ctx, sessionID, coordinator.WithTimeout(cfg.Timeout))
}

// AuctionConfig configures StartReverseAuction.
type AuctionConfig struct {
	// Rounds is the number of bidding rounds. Defaults to 1.
	Rounds int
	// RoundDuration is how long each round stays open. Defaults to 60s.
	RoundDuration time.Duration
	// Agent optionally shapes the per-round broadcast to sellers.
	Agent agent.Agent
}

// StartReverseAuction initiates a reverse auction against all the seller
// endpoints and blocks until every round has run. All collected offers are
// returned in the result; winner selection is left to the caller.
func (c *Client) StartReverseAuction(ctx context.Context, endpoints []string, item core.Item, optFns ...func(o *AuctionConfig)) (*coordinator.Result, error) {
	cfg := AuctionConfig{
		Rounds:        1,
		RoundDuration: 60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&cfg)
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("shaket: reverse auction needs at least one seller endpoint")
	}

	sessionID := core.NewID("reverse-auction")

	sessionConfig := map[string]any{
		"rounds":         cfg.Rounds,
		"round_duration": cfg.RoundDuration.Seconds(),
	}

	// Init each seller first so every round can address them by context.
	contexts := make(map[string]string, len(endpoints))
	for _, endpoint := range endpoints {
		contextID, err := c.initSession(ctx, endpoint, item, core.RoleBuyer, core.SessionTypeReverseAuction, sessionConfig)
		if err != nil {
			c.logger.Warn("seller init failed, excluding from auction", "endpoint", endpoint, "error", err)
			continue
		}
		contexts[contextID] = endpoint
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("shaket: no sellers reachable for reverse auction")
	}

	var primaryContext string
	for contextID := range contexts {
		primaryContext = contextID
		break
	}

	if _, err := c.store.CreateSession(sessionID, primaryContext, core.SessionTypeReverseAuction, core.RoleBuyer, item,
		func(o *state.SessionOptions) {
			o.TotalRounds = cfg.Rounds
			o.RoundDuration = cfg.RoundDuration
			o.ExpectedParticipants = len(contexts)
		}); err != nil {
		return nil, err
	}

	for contextID, endpoint := range contexts {
		if err := c.joinCounterparty(ctx, sessionID, contextID, endpoint); err != nil {
			return nil, err
		}
	}

	c.logger.Info("starting reverse auction",
		"session_id", sessionID,
		"sellers", len(contexts),
		"rounds", cfg.Rounds)

	coord := coordinator.NewReverseAuctionCoordinator(c.store, c.messenger, func(o *coordinator.ReverseAuctionOptions) {
		o.Logger = c.logger
		o.Agent = cfg.Agent
	})
	return coord.Start(ctx, sessionID)
}

// initSession sends the init handshake to a peer and returns the context id
// it assigned for the session.
func (c *Client) initSession(ctx context.Context, endpoint string, item core.Item, role core.Role, sessionType core.SessionType, sessionConfig map[string]any) (string, error) {
	conn := c.registry.Add(endpoint)

	actionData := map[string]any{
		"session_type": string(sessionType),
		"item":         item.ToMap(),
		"role":         string(role),
	}
	if sessionConfig != nil {
		actionData["session_config"] = sessionConfig
	}

	replies, err := conn.SendMessage(ctx, protocol.NewActionMessage(protocol.ActionInit, actionData, ""))
	if err != nil {
		return "", fmt.Errorf("shaket: init with %s: %w", endpoint, err)
	}

	for i := range replies {
		if replies[i].Type != protocol.MessageTypeAction || replies[i].Action != protocol.ActionAck {
			continue
		}
		if contextID, ok := replies[i].ActionData["context_id"].(string); ok && contextID != "" {
			return contextID, nil
		}
	}

	return "", fmt.Errorf("shaket: peer %s did not acknowledge init", endpoint)
}

// joinCounterparty records the peer in session state and indexes its
// context for inbound routing.
func (c *Client) joinCounterparty(ctx context.Context, sessionID, contextID, endpoint string) error {
	data := map[string]any{
		"context_id": contextID,
		"endpoint":   endpoint,
	}
	if card, err := c.registry.Add(endpoint).FetchAgentCard(ctx); err == nil {
		if name, ok := card["name"].(string); ok && name != "" {
			data["name"] = name
		}
	}

	if _, err := c.store.EmitEvent(sessionID, state.EventCounterpartyJoined, data,
		state.WithEmitContext(contextID)); err != nil {
		return err
	}

	c.store.AddContextMapping(contextID, sessionID)
	return nil
}

// SessionStatus reports the current status snapshot of a session.
func (c *Client) SessionStatus(sessionID string) (map[string]any, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return st.Snapshot(), nil
}

// CancelSession cancels an in-flight session.
func (c *Client) CancelSession(sessionID string) error {
	_, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
		"reason": "Cancelled by user",
	})
	return err
}

// Events returns a session's event log, optionally filtered.
func (c *Client) Events(sessionID string, optFns ...func(o *state.EventFilter)) ([]state.Event, error) {
	return c.store.GetEvents(sessionID, optFns...)
}

// CleanupOldSessions removes terminal sessions older than maxAge and
// returns how many were removed.
func (c *Client) CleanupOldSessions(maxAge time.Duration) int {
	return c.store.CleanupOldSessions(maxAge)
}
