package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

// ErrNoCounterparty is returned when a session has no counterparty to send
// to.
var ErrNoCounterparty = errors.New("messenger: no counterparty for session")

// messageSendLogger is the optional capability of loggers that record
// per-send dispatch details, such as logging.ShaketLogger.
type messageSendLogger interface {
	LogMessageSend(messageType, contextID string, dur time.Duration, err error)
}

// Options configure a SessionMessenger.
type Options struct {
	Logger logging.Logger
}

// SessionMessenger sends protocol messages to a session's counterparties.
// The target counterparty is resolved per call: an explicit context id wins,
// then the session's primary context, then the first known counterparty.
type SessionMessenger struct {
	store    *state.Store
	registry *ConnectionRegistry
	logger   logging.Logger
}

// NewSessionMessenger creates a messenger backed by the given store and
// connection registry.
func NewSessionMessenger(store *state.Store, registry *ConnectionRegistry, optFns ...func(o *Options)) *SessionMessenger {
	opts := Options{
		Logger: logging.NewNoOpLogger(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &SessionMessenger{
		store:    store,
		registry: registry,
		logger:   opts.Logger,
	}
}

// SendOffer implements the coordinator.Messenger interface.
func (m *SessionMessenger) SendOffer(ctx context.Context, sessionID string, offer core.Offer, contextID string) ([]protocol.ParsedMessage, error) {
	st, targetContext, err := m.resolveTarget(sessionID, contextID)
	if err != nil {
		return nil, err
	}

	msg := protocol.NewOfferMessage(offer, st.Base().Type(), targetContext)

	replies, err := m.send(ctx, st, msg, targetContext)
	if err != nil {
		return nil, err
	}

	m.logger.Info("sent offer", "session_id", sessionID, "price", offer.Price, "context_id", targetContext)
	return replies, nil
}

// AcceptOffer implements the coordinator.Messenger interface.
func (m *SessionMessenger) AcceptOffer(ctx context.Context, sessionID, offerID, message, contextID string) ([]protocol.ParsedMessage, error) {
	st, targetContext, err := m.resolveTarget(sessionID, contextID)
	if err != nil {
		return nil, err
	}

	actionData := map[string]any{"offer_id": offerID}
	if message != "" {
		actionData["message"] = message
	}
	msg := protocol.NewActionMessage(protocol.ActionAccept, actionData, targetContext)

	replies, err := m.send(ctx, st, msg, targetContext)
	if err != nil {
		return nil, err
	}

	m.logger.Info("accepted offer", "session_id", sessionID, "offer_id", offerID, "context_id", targetContext)
	return replies, nil
}

// SendDiscovery implements the coordinator.Messenger interface.
func (m *SessionMessenger) SendDiscovery(ctx context.Context, sessionID string, discoveryData map[string]any, contextID string) ([]protocol.ParsedMessage, error) {
	st, targetContext, err := m.resolveTarget(sessionID, contextID)
	if err != nil {
		return nil, err
	}

	msg := protocol.NewDiscoveryMessage(discoveryData, targetContext)

	replies, err := m.send(ctx, st, msg, targetContext)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("sent discovery", "session_id", sessionID, "context_id", targetContext)
	return replies, nil
}

// resolveTarget loads the session and picks the context id to send to.
func (m *SessionMessenger) resolveTarget(sessionID, contextID string) (state.SessionState, string, error) {
	st, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, "", err
	}

	if contextID == "" {
		contextID = st.Base().ContextID()
	}
	return st, contextID, nil
}

func (m *SessionMessenger) send(ctx context.Context, st state.SessionState, msg protocol.Message, contextID string) ([]protocol.ParsedMessage, error) {
	counterparties := st.Base().Counterparties()
	if len(counterparties) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoCounterparty, st.Base().SessionID())
	}

	endpoint := ""
	if cp, ok := counterparties[contextID]; ok {
		endpoint = cp.Endpoint
	}
	if endpoint == "" {
		// Back-compat fallback for single-counterparty sessions addressed
		// by an unknown context.
		for _, contextID := range st.Base().AllContexts() {
			if cp, ok := counterparties[contextID]; ok && cp.Endpoint != "" {
				endpoint = cp.Endpoint
				break
			}
		}
		m.logger.Warn("context not found, using first counterparty",
			"session_id", st.Base().SessionID(),
			"context_id", contextID)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w %s", ErrNoCounterparty, st.Base().SessionID())
	}

	conn, ok := m.registry.Get(endpoint)
	if !ok {
		conn = m.registry.Add(endpoint)
	}

	start := time.Now()
	replies, err := conn.SendMessage(ctx, msg)
	if sl, ok := m.logger.(messageSendLogger); ok {
		sl.LogMessageSend(string(msg.Type), contextID, time.Since(start), err)
	}
	return replies, err
}
