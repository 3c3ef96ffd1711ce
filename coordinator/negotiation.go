package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// ErrMissingDependency is returned when a coordinator is started without a
// store, agent, or messenger it needs.
var ErrMissingDependency = errors.New("coordinator: missing dependency")

const defaultMaxIterations = 100

// agentDecisionLogger is the optional capability of loggers that record
// per-consultation details, such as logging.ShaketLogger.
type agentDecisionLogger interface {
	LogAgentDecision(action string, round int, dur time.Duration, err error)
}

// NegotiationOptions configure a NegotiationCoordinator.
type NegotiationOptions struct {
	Logger logging.Logger
}

// NegotiationCoordinator runs 1-on-1 negotiation sessions. It drives the
// agent/messenger loop on the proactive side and folds counterparty
// messages into session state on both sides.
type NegotiationCoordinator struct {
	store     *state.Store
	agent     agent.Agent
	messenger Messenger
	logger    logging.Logger
}

// NewNegotiationCoordinator creates a negotiation coordinator. The store is
// required; agent and messenger are required only for Start.
func NewNegotiationCoordinator(store *state.Store, ag agent.Agent, messenger Messenger, optFns ...func(o *NegotiationOptions)) *NegotiationCoordinator {
	opts := NegotiationOptions{
		Logger: logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &NegotiationCoordinator{
		store:     store,
		agent:     ag,
		messenger: messenger,
		logger:    opts.Logger,
	}
}

// Start runs the negotiation loop until the session reaches a terminal
// status or the iteration bound is hit. It blocks for the duration of the
// negotiation.
func (c *NegotiationCoordinator) Start(ctx context.Context, sessionID string, optFns ...func(o *StartOptions)) (*Result, error) {
	if c.agent == nil {
		return nil, fmt.Errorf("%w: agent is required to start negotiation", ErrMissingDependency)
	}
	if c.messenger == nil {
		return nil, fmt.Errorf("%w: messenger is required to start negotiation", ErrMissingDependency)
	}

	opts := StartOptions{MaxIterations: defaultMaxIterations}
	for _, fn := range optFns {
		fn(&opts)
	}

	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.EmitEvent(sessionID, state.EventSessionStarted, map[string]any{}); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		if ns, ok := st.(*state.NegotiationState); ok {
			timeout = ns.Timeout()
		}
	}
	if timeout > 0 {
		go c.monitorTimeout(ctx, sessionID, timeout)
	}

	c.logger.Info("starting negotiation loop", "session_id", sessionID)

	for i := 0; i < opts.MaxIterations; i++ {
		st, err = c.store.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		if st.Base().Status() != state.StatusActive {
			c.logger.Info("session no longer active", "session_id", sessionID, "status", st.Base().Status())
			break
		}

		start := time.Now()
		action, err := c.agent.DecideNextAction(ctx, sessionID, st)
		if dl, ok := c.logger.(agentDecisionLogger); ok {
			name := ""
			if action != nil {
				name = action.ActionName()
			}
			round := 0
			if ns, isNeg := st.(*state.NegotiationState); isNeg {
				round = ns.CurrentRound()
			}
			dl.LogAgentDecision(name, round, time.Since(start), err)
		}
		if err != nil {
			c.logger.Error("agent decision failed", "session_id", sessionID, "error", err)
			return c.completeSession(sessionID, state.StatusFailed, fmt.Sprintf("Error: %v", err))
		}

		result, err := c.executeAction(ctx, sessionID, st, action)
		if err != nil {
			c.logger.Error("action execution failed", "session_id", sessionID, "error", err)
			return c.completeSession(sessionID, state.StatusFailed, fmt.Sprintf("Error: %v", err))
		}
		if result != nil {
			return result, nil
		}
	}

	// Loop exhausted without a terminal decision; report the session as it
	// stands.
	st, err = c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return c.completeSession(sessionID, st.Base().Status(), "Negotiation loop completed")
}

// executeAction performs one agent action and processes any reply messages.
// A non-nil Result means the session reached a terminal outcome.
func (c *NegotiationCoordinator) executeAction(ctx context.Context, sessionID string, st state.SessionState, action agent.Action) (*Result, error) {
	switch a := action.(type) {
	case agent.SendOffer:
		offer := core.NewOffer(a.Price, st.Base().Item().ID, func(o *core.OfferOptions) {
			o.Message = a.Message
			o.Metadata = a.Metadata
		})

		c.logger.Info("sending offer", "session_id", sessionID, "price", offer.Price)

		if _, err := c.store.EmitEvent(sessionID, state.EventOfferSent, map[string]any{"offer": offer}); err != nil {
			return nil, err
		}

		replies, err := c.messenger.SendOffer(ctx, sessionID, offer, "")
		if err != nil {
			return nil, err
		}
		return c.processReplies(sessionID, replies)

	case agent.AcceptOffer:
		c.logger.Info("accepting offer", "session_id", sessionID, "offer_id", a.OfferID)

		if _, err := c.store.EmitEvent(sessionID, state.EventOfferAccepted, map[string]any{
			"action_data": map[string]any{
				"offer_id": a.OfferID,
				"message":  a.Message,
			},
		}); err != nil {
			return nil, err
		}

		replies, err := c.messenger.AcceptOffer(ctx, sessionID, a.OfferID, a.Message, "")
		if err != nil {
			return nil, err
		}
		if result, err := c.processReplies(sessionID, replies); err != nil || result != nil {
			return result, err
		}

		return c.completeSession(sessionID, state.StatusCompleted, "Offer accepted")

	case agent.SendDiscovery:
		c.logger.Info("sending discovery", "session_id", sessionID, "message", a.Message)

		data := map[string]any{}
		for k, v := range a.DiscoveryData {
			data[k] = v
		}
		if a.Message != "" {
			data["message"] = a.Message
		}

		replies, err := c.messenger.SendDiscovery(ctx, sessionID, data, "")
		if err != nil {
			return nil, err
		}
		return c.processReplies(sessionID, replies)

	default:
		return nil, fmt.Errorf("coordinator: unknown action type %T", action)
	}
}

func (c *NegotiationCoordinator) processReplies(sessionID string, replies []protocol.ParsedMessage) (*Result, error) {
	for i := range replies {
		result, err := c.HandleMessage(sessionID, &replies[i])
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// HandleMessage folds one inbound message into session state. It returns a
// non-nil Result when the message terminates the session.
func (c *NegotiationCoordinator) HandleMessage(sessionID string, msg *protocol.ParsedMessage) (*Result, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if st.Base().Status() != state.StatusActive {
		c.logger.Debug("ignoring message for inactive session", "session_id", sessionID, "status", st.Base().Status())
		return nil, nil
	}

	switch msg.Type {
	case protocol.MessageTypeDiscovery:
		c.logger.Info("discovery message received", "session_id", sessionID)
		_, err := c.store.EmitEvent(sessionID, state.EventDiscoveryReceived, map[string]any{
			"discovery_data": msg.DiscoveryData,
		}, state.WithEmitContext(msg.ContextID))
		return nil, err

	case protocol.MessageTypeOffer:
		return c.handleOffer(sessionID, st, msg)

	case protocol.MessageTypeAction:
		return c.handleAction(sessionID, msg)
	}

	return nil, nil
}

func (c *NegotiationCoordinator) handleOffer(sessionID string, st state.SessionState, msg *protocol.ParsedMessage) (*Result, error) {
	if msg.OfferData == nil {
		return nil, nil
	}
	offer, ok := core.OfferFromMap(msg.OfferData)
	if !ok {
		c.logger.Warn("discarding malformed offer", "session_id", sessionID)
		return nil, nil
	}

	c.logger.Info("offer received", "session_id", sessionID, "price", offer.Price)

	if _, err := c.store.EmitEvent(sessionID, state.EventOfferReceived, map[string]any{"offer": offer},
		state.WithEmitContext(msg.ContextID)); err != nil {
		return nil, err
	}

	ns, isNegotiation := st.(*state.NegotiationState)
	if !isNegotiation {
		return nil, nil
	}

	if _, err := c.store.EmitEvent(sessionID, state.EventNegotiationRoundStarted, map[string]any{
		"round_number": ns.CurrentRound() + 1,
	}); err != nil {
		return nil, err
	}

	// The budget check reads the counter after the advance so the session
	// fails on the offer that opens round max_rounds, not one round later.
	if max := ns.MaxRounds(); max > 0 && ns.CurrentRound() >= max {
		return c.completeSession(sessionID, state.StatusFailed, "Maximum rounds reached without agreement")
	}

	return nil, nil
}

func (c *NegotiationCoordinator) handleAction(sessionID string, msg *protocol.ParsedMessage) (*Result, error) {
	c.logger.Info("action received", "session_id", sessionID, "action", msg.Action)

	switch msg.Action {
	case protocol.ActionAccept:
		if _, err := c.store.EmitEvent(sessionID, state.EventOfferAccepted, map[string]any{
			"action_data": msg.ActionData,
		}, state.WithEmitContext(msg.ContextID)); err != nil {
			return nil, err
		}
		return c.completeSession(sessionID, state.StatusCompleted, "Offer accepted")

	case protocol.ActionCancel:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
			"reason": "Cancelled by counterparty",
		}, state.WithEmitContext(msg.ContextID)); err != nil {
			return nil, err
		}
		return c.completeSession(sessionID, state.StatusCancelled, "Cancelled by counterparty")
	}

	return nil, nil
}

// completeSession closes out the session and builds the final Result. For a
// completed negotiation the final price is resolved from the accepted offer.
func (c *NegotiationCoordinator) completeSession(sessionID string, status state.Status, reason string) (*Result, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	switch status {
	case state.StatusCompleted:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionCompleted, map[string]any{"reason": reason}); err != nil {
			return nil, err
		}
	case state.StatusFailed:
		if _, err := c.store.EmitEvent(sessionID, state.EventSessionFailed, map[string]any{"reason": reason}); err != nil {
			return nil, err
		}
	}

	ns, _ := st.(*state.NegotiationState)

	data := map[string]any{
		"started_at":   st.Base().CreatedAt().Format(time.RFC3339Nano),
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
		"agreed":       false,
	}
	if ns != nil {
		data["rounds"] = ns.CurrentRound()
		if last := ns.LastOfferReceived(); last != nil {
			data["last_offer"] = last.ToMap()
		}
	}

	if status == state.StatusCompleted && ns != nil {
		finalPrice, err := c.resolveFinalPrice(sessionID, ns)
		if err != nil {
			return nil, err
		}
		data["final_price"] = finalPrice
		data["agreed"] = true
	}

	c.logger.Info("negotiation finished", "session_id", sessionID, "status", status, "reason", reason)

	return &Result{
		Status:      status,
		SessionID:   sessionID,
		SessionType: core.SessionTypeNegotiation,
		Data:        data,
		Message:     reason,
	}, nil
}

// resolveFinalPrice finds the accepted offer by scanning the event log
// backwards for the latest OFFER_ACCEPTED event and looking its offer id up
// in the session's sent and received offers.
func (c *NegotiationCoordinator) resolveFinalPrice(sessionID string, ns *state.NegotiationState) (float64, error) {
	events, err := c.store.GetEvents(sessionID)
	if err != nil {
		return 0, err
	}

	var acceptedOfferID string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != state.EventOfferAccepted {
			continue
		}
		if actionData, ok := events[i].Data["action_data"].(map[string]any); ok {
			acceptedOfferID, _ = actionData["offer_id"].(string)
		}
		break
	}

	if acceptedOfferID == "" {
		return 0, fmt.Errorf("coordinator: session %s completed but no accepted offer recorded", sessionID)
	}

	if offer, ok := ns.OfferSent(acceptedOfferID); ok {
		return offer.Price, nil
	}
	if offer, ok := ns.OfferReceived(acceptedOfferID); ok {
		return offer.Price, nil
	}

	return 0, fmt.Errorf("coordinator: accepted offer %s not found in session %s", acceptedOfferID, sessionID)
}

// monitorTimeout fails the session if it is still active when the timeout
// elapses.
func (c *NegotiationCoordinator) monitorTimeout(ctx context.Context, sessionID string, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	st, err := c.store.GetSession(sessionID)
	if err != nil || st.Base().Status() != state.StatusActive {
		return
	}

	c.logger.Warn("session timed out", "session_id", sessionID, "timeout", timeout)

	if _, err := c.store.EmitEvent(sessionID, state.EventTimeoutReached, map[string]any{
		"timeout_seconds": timeout.Seconds(),
	}); err != nil {
		return
	}
	_, _ = c.store.EmitEvent(sessionID, state.EventSessionFailed, map[string]any{
		"reason": "Timeout reached",
	})
}

// Status reports the current session status for callers that poll.
func (c *NegotiationCoordinator) Status(sessionID string) (map[string]any, error) {
	st, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	status := map[string]any{
		"session_id": sessionID,
		"status":     string(st.Base().Status()),
	}
	if ns, ok := st.(*state.NegotiationState); ok {
		status["current_round"] = ns.CurrentRound()
		status["max_rounds"] = ns.MaxRounds()
		if last := ns.LastOfferReceived(); last != nil {
			status["last_offer"] = last.ToMap()
		}
	}
	return status, nil
}

// Cancel cancels an in-flight session.
func (c *NegotiationCoordinator) Cancel(sessionID string) error {
	_, err := c.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
		"reason": "Cancelled by coordinator",
	})
	return err
}
