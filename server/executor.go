package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	parsed, err := protocol.ParseMessage(raw)
	if err != nil {
		s.logger.Warn("rejecting unparseable message", "error", err)
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}

	reply, err := s.Execute(r.Context(), parsed)
	if err != nil {
		s.logger.Error("message handling failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out, err := reply.Marshal()
	if err != nil {
		http.Error(w, "failed to encode reply", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// Execute processes one inbound message and produces the reply envelope.
// The flow mirrors the proactive side in reverse: fold the message into
// state, let the agent decide, perform its action locally, and answer with
// the resulting messages.
func (s *Server) Execute(ctx context.Context, parsed *protocol.ParsedMessage) (protocol.Reply, error) {
	// Init bootstraps a session before any state exists.
	if parsed.Type == protocol.MessageTypeAction && parsed.Action == protocol.ActionInit {
		return s.handleInit(parsed)
	}

	st, err := s.store.GetSessionByContext(parsed.ContextID)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("server: no session for context %s", parsed.ContextID)
	}
	sessionID := st.Base().SessionID()

	s.updateStateFromMessage(sessionID, parsed)

	// A valid accept ends the session without consulting the agent.
	if parsed.Type == protocol.MessageTypeAction && parsed.Action == protocol.ActionAccept {
		if reply, ok := s.handleAccept(sessionID, st, parsed); ok {
			return reply, nil
		}
	}

	// Once the message drives the session terminal there is nothing left
	// for the agent to decide.
	if status := st.Base().Status(); status.IsTerminal() {
		return protocol.NewReply(protocol.NewActionMessage(protocol.ActionAck, map[string]any{
			"status": string(status),
		}, parsed.ContextID)), nil
	}

	ag := s.agentForSession(st)
	if ag == nil {
		s.logger.Warn("no agent configured", "session_type", st.Base().Type())
		return protocol.NewReply(protocol.NewActionMessage(protocol.ActionAck, map[string]any{
			"status":  "ignored",
			"message": fmt.Sprintf("No agent configured for %s", st.Base().Type()),
		}, parsed.ContextID)), nil
	}

	action, err := ag.DecideNextAction(ctx, sessionID, st)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("server: agent failed to decide action: %w", err)
	}

	return s.executeAction(sessionID, st, action, parsed.ContextID)
}

// handleInit creates the local session for a peer-initiated exchange. The
// server takes the opposite role and hands the context id back in the ack
// so the peer can address this session.
func (s *Server) handleInit(parsed *protocol.ParsedMessage) (protocol.Reply, error) {
	actionData := parsed.ActionData
	if actionData == nil {
		actionData = map[string]any{}
	}

	contextID := parsed.ContextID
	if contextID == "" {
		contextID = core.NewID("ctx")
	}

	sessionType := core.SessionTypeNegotiation
	if raw, ok := actionData["session_type"].(string); ok && raw != "" {
		sessionType = core.SessionType(raw)
	}

	itemData, _ := actionData["item"].(map[string]any)
	item := core.ItemFromMap(itemData)
	if item.ID == "" {
		item.ID = "unknown"
	}
	if item.Name == "" {
		item.Name = "Unknown Item"
	}

	// Take the opposite side of whatever the initiator plays.
	theirRole, _ := actionData["role"].(string)
	ourRole := core.RoleSeller
	if theirRole == string(core.RoleSeller) {
		ourRole = core.RoleBuyer
	}

	sessionOpts := func(o *state.SessionOptions) {
		config, _ := actionData["session_config"].(map[string]any)
		if config == nil {
			return
		}
		if rounds, ok := numberFromAny(config["rounds"]); ok {
			o.TotalRounds = rounds
		}
		if maxRounds, ok := numberFromAny(config["max_rounds"]); ok {
			o.MaxRounds = maxRounds
		}
	}

	_, err := s.store.CreateSession(contextID, contextID, sessionType, ourRole, item, sessionOpts)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("server: create session for context %s: %w", contextID, err)
	}

	if _, err := s.store.EmitEvent(contextID, state.EventSessionStarted, map[string]any{}); err != nil {
		return protocol.Reply{}, err
	}

	s.logger.Info("session initialized",
		"session_id", contextID,
		"session_type", sessionType,
		"our_role", ourRole,
		"their_role", theirRole)

	return protocol.NewReply(protocol.NewActionMessage(protocol.ActionAck, map[string]any{
		"context_id":   contextID,
		"status":       "initialized",
		"session_type": string(sessionType),
		"item":         item.Name,
		"role":         theirRole,
		"our_role":     string(ourRole),
		"message":      fmt.Sprintf("Session initialized. Ready to %s!", sessionType),
	}, contextID)), nil
}

// updateStateFromMessage folds the inbound message into session state
// before the agent sees it.
func (s *Server) updateStateFromMessage(sessionID string, parsed *protocol.ParsedMessage) {
	switch parsed.Type {
	case protocol.MessageTypeOffer:
		if parsed.OfferData == nil {
			return
		}
		offer, ok := core.OfferFromMap(parsed.OfferData)
		if !ok {
			s.logger.Warn("discarding malformed offer", "session_id", sessionID)
			return
		}
		_, _ = s.store.EmitEvent(sessionID, state.EventOfferReceived, map[string]any{"offer": offer},
			state.WithEmitContext(parsed.ContextID))
		s.logger.Info("offer received", "session_id", sessionID, "price", offer.Price)

	case protocol.MessageTypeAction:
		switch parsed.Action {
		case protocol.ActionAccept:
			_, _ = s.store.EmitEvent(sessionID, state.EventOfferAccepted, map[string]any{
				"action_data": parsed.ActionData,
			}, state.WithEmitContext(parsed.ContextID))
		case protocol.ActionCancel:
			reason := "Cancelled by counterparty"
			if r, ok := parsed.ActionData["reason"].(string); ok && r != "" {
				reason = r
			}
			_, _ = s.store.EmitEvent(sessionID, state.EventSessionCancelled, map[string]any{
				"reason": reason,
			}, state.WithEmitContext(parsed.ContextID))
			s.logger.Info("session cancelled", "session_id", sessionID)
		}

	case protocol.MessageTypeDiscovery:
		_, _ = s.store.EmitEvent(sessionID, state.EventDiscoveryReceived, map[string]any{
			"discovery_data": parsed.DiscoveryData,
		}, state.WithEmitContext(parsed.ContextID))
	}
}

// handleAccept validates that the accepted offer is the one we last sent
// and completes the session. false means validation failed and the normal
// agent flow should run instead.
func (s *Server) handleAccept(sessionID string, st state.SessionState, parsed *protocol.ParsedMessage) (protocol.Reply, bool) {
	ns, ok := st.(*state.NegotiationState)
	if !ok {
		return protocol.Reply{}, false
	}

	offerID, _ := parsed.ActionData["offer_id"].(string)
	if offerID == "" {
		s.logger.Warn("accept without offer_id", "session_id", sessionID)
		return protocol.Reply{}, false
	}

	lastSent := ns.LastOfferSent()
	if lastSent == nil || lastSent.OfferID != offerID {
		s.logger.Warn("accept for unknown offer", "session_id", sessionID, "offer_id", offerID)
		return protocol.Reply{}, false
	}

	_, _ = s.store.EmitEvent(sessionID, state.EventSessionCompleted, map[string]any{
		"reason":            "Offer accepted by counterparty",
		"final_price":       lastSent.Price,
		"accepted_offer_id": offerID,
	})

	s.logger.Info("offer accepted by counterparty",
		"session_id", sessionID,
		"offer_id", offerID,
		"final_price", lastSent.Price)

	return protocol.NewReply(protocol.NewActionMessage(protocol.ActionAck, map[string]any{
		"status":      "completed",
		"message":     "Offer accepted. Deal complete!",
		"offer_id":    offerID,
		"final_price": lastSent.Price,
	}, parsed.ContextID)), true
}

func (s *Server) agentForSession(st state.SessionState) agent.Agent {
	switch st.Base().Type() {
	case core.SessionTypeNegotiation:
		return s.opts.NegotiationAgent
	case core.SessionTypeReverseAuction:
		return s.opts.ReverseAuctionAgent
	}
	return nil
}

// executeAction performs the agent's decision locally and renders it as the
// reply message.
func (s *Server) executeAction(sessionID string, st state.SessionState, action agent.Action, contextID string) (protocol.Reply, error) {
	switch a := action.(type) {
	case agent.SendOffer:
		offer := core.NewOffer(a.Price, st.Base().Item().ID, func(o *core.OfferOptions) {
			o.Message = a.Message
			o.Metadata = a.Metadata
		})

		if _, err := s.store.EmitEvent(sessionID, state.EventOfferSent, map[string]any{"offer": offer},
			state.WithEmitContext(contextID)); err != nil {
			return protocol.Reply{}, err
		}

		s.logger.Info("sending offer", "session_id", sessionID, "price", offer.Price)

		return protocol.NewReply(protocol.NewOfferMessage(offer, st.Base().Type(), contextID)), nil

	case agent.AcceptOffer:
		if _, err := s.store.EmitEvent(sessionID, state.EventOfferAccepted, map[string]any{
			"action_data": map[string]any{"offer_id": a.OfferID},
		}, state.WithEmitContext(contextID)); err != nil {
			return protocol.Reply{}, err
		}
		if _, err := s.store.EmitEvent(sessionID, state.EventSessionCompleted, map[string]any{
			"reason": "Offer accepted",
		}); err != nil {
			return protocol.Reply{}, err
		}

		message := a.Message
		if message == "" {
			message = "Deal!"
		}

		s.logger.Info("accepting offer", "session_id", sessionID, "offer_id", a.OfferID)

		return protocol.NewReply(protocol.NewActionMessage(protocol.ActionAccept, map[string]any{
			"offer_id": a.OfferID,
			"message":  message,
			"status":   "completed",
		}, contextID)), nil

	case agent.SendDiscovery:
		data := map[string]any{}
		for k, v := range a.DiscoveryData {
			data[k] = v
		}
		if a.Message != "" {
			data["message"] = a.Message
		}

		s.logger.Info("sending discovery", "session_id", sessionID)

		return protocol.NewReply(protocol.NewDiscoveryMessage(data, contextID)), nil

	default:
		return protocol.Reply{}, fmt.Errorf("server: unknown action type %T", action)
	}
}

func numberFromAny(v any) (int, bool) {
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
