package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
)

var (
	// ErrSessionNotFound is returned for lookups and emissions against an
	// unknown session or context id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose id is
	// already registered.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnknownSessionType is returned when no state variant is registered
	// for the requested session type.
	ErrUnknownSessionType = errors.New("unknown session type")
)

// sessionRecord pairs a session's state with its event log. The record mutex
// serializes appends and folds per session; emissions into different
// sessions never contend on it.
type sessionRecord struct {
	mu     sync.Mutex
	state  SessionState
	events []Event
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Logger logging.Logger
}

// Store is the event log and state registry: the sole mutation path for
// session state. Every state change is preceded by an event appended to the
// session's immutable log; mutating a state outside EmitEvent breaks the
// audit trail and is unsupported.
//
// The Store also owns the context index used for inbound routing: one
// context maps to exactly one session, one session may own many contexts.
// The index lives and dies with the Store and is mutated only through its
// methods.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionRecord
	contextIndex map[string]string

	logger logging.Logger
}

// NewStore constructs an empty in-memory store.
func NewStore(optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Store{
		sessions:     map[string]*sessionRecord{},
		contextIndex: map[string]string{},
		logger:       opts.Logger,
	}
}

// SessionOptions holds the session-type-specific creation parameters.
// Negotiations use MaxRounds and Timeout; reverse auctions use TotalRounds,
// RoundDuration and ExpectedParticipants.
type SessionOptions struct {
	MaxRounds            int
	Timeout              time.Duration
	TotalRounds          int
	RoundDuration        time.Duration
	ExpectedParticipants int
	Metadata             map[string]any
}

// CreateSession allocates the session-type-specific state, registers it and
// its primary context, opens the event log and emits SESSION_CREATED. The
// returned state is the live projection subsequent emissions fold into.
func (s *Store) CreateSession(sessionID, contextID string, sessionType core.SessionType, role core.Role, item core.Item, optFns ...func(o *SessionOptions)) (SessionState, error) {
	opts := SessionOptions{
		TotalRounds:   1,
		RoundDuration: 60 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	base := newBaseState(sessionID, contextID, sessionType, role, item, opts.Metadata)

	var st SessionState
	switch sessionType {
	case core.SessionTypeNegotiation:
		st = newNegotiationState(base, opts.MaxRounds, opts.Timeout)
	case core.SessionTypeReverseAuction:
		st = newReverseAuctionState(base, opts.TotalRounds, opts.RoundDuration, opts.ExpectedParticipants)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSessionType, sessionType)
	}

	s.mu.Lock()
	if _, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	s.sessions[sessionID] = &sessionRecord{state: st}
	if contextID != "" {
		s.contextIndex[contextID] = sessionID
	}
	s.mu.Unlock()

	if _, err := s.EmitEvent(sessionID, EventSessionCreated, map[string]any{
		"context_id":   contextID,
		"session_type": string(sessionType),
		"role":         string(role),
		"item_id":      item.ID,
		"item_name":    item.Name,
	}, WithEmitContext(contextID)); err != nil {
		return nil, err
	}

	s.logger.Info("session created", "session_id", sessionID, "session_type", string(sessionType), "role", string(role))

	return st, nil
}

// EmitOptions holds the optional attribution of an emitted event.
type EmitOptions struct {
	ContextID string
	Metadata  map[string]any
}

// WithEmitContext attributes the event to the participant behind the given
// transport context.
func WithEmitContext(contextID string) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.ContextID = contextID }
}

// WithEmitMetadata attaches extensibility metadata to the event.
func WithEmitMetadata(metadata map[string]any) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.Metadata = metadata }
}

// EmitEvent constructs an event with a fresh id and current timestamp,
// appends it to the session's log and folds it into the session state. This
// is the only sanctioned way to change a SessionState. Appends are
// serialized per session; concurrent emissions into different sessions do
// not block one another.
func (s *Store) EmitEvent(sessionID string, eventType EventType, data map[string]any, optFns ...func(o *EmitOptions)) (Event, error) {
	opts := EmitOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	ev := NewEvent(sessionID, eventType, data)
	ev.ContextID = opts.ContextID
	ev.Metadata = opts.Metadata

	rec.mu.Lock()
	rec.events = append(rec.events, ev)
	rec.state.ApplyEvent(ev)
	rec.mu.Unlock()

	return ev, nil
}

// GetSession returns the live state for a session id.
func (s *Store) GetSession(sessionID string) (SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return rec.state, nil
}

// GetSessionByContext resolves a transport context to its session's state.
func (s *Store) GetSessionByContext(contextID string) (SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.contextIndex[contextID]
	if !ok {
		return nil, fmt.Errorf("%w: context %s", ErrSessionNotFound, contextID)
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return rec.state, nil
}

// AddContextMapping maps an additional context to a session. Multi-party
// sessions call this as counterparties join after creation.
func (s *Store) AddContextMapping(contextID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextIndex[contextID] = sessionID
}

// ListOptions filters a session listing.
type ListOptions struct {
	Status      Status
	SessionType core.SessionType
}

// ListSessions returns a snapshot of the registered sessions, optionally
// filtered by status and type. Iteration order is unspecified.
func (s *Store) ListSessions(optFns ...func(o *ListOptions)) []SessionState {
	opts := ListOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionState, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if opts.Status != "" && rec.state.Base().Status() != opts.Status {
			continue
		}
		if opts.SessionType != "" && rec.state.Base().Type() != opts.SessionType {
			continue
		}
		out = append(out, rec.state)
	}
	return out
}

// EventFilter narrows a GetEvents read.
type EventFilter struct {
	Type      EventType
	After     time.Time
	ContextID string
}

// GetEvents returns a filtered copy of a session's immutable log in
// emission order. Used for replay and audit, e.g. recovering which offer
// was accepted.
func (s *Store) GetEvents(sessionID string, optFns ...func(o *EventFilter)) ([]Event, error) {
	filter := EventFilter{}
	for _, fn := range optFns {
		fn(&filter)
	}

	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	rec.mu.Lock()
	events := make([]Event, len(rec.events))
	copy(events, rec.events)
	rec.mu.Unlock()

	out := events[:0:0]
	for _, ev := range events {
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if !filter.After.IsZero() && !ev.Timestamp.After(filter.After) {
			continue
		}
		if filter.ContextID != "" && ev.ContextID != filter.ContextID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteSession removes a session's state, its event log, and every context
// mapping that points at it, including contexts registered after creation.
func (s *Store) DeleteSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	for ctx, sid := range s.contextIndex {
		if sid == sessionID {
			delete(s.contextIndex, ctx)
		}
	}
	delete(s.sessions, sessionID)

	s.logger.Info("session deleted", "session_id", sessionID)
}

// CleanupOldSessions deletes terminal sessions whose last update is older
// than maxAge and returns how many were removed. This is a periodic
// maintenance sweep, not an event-driven path.
func (s *Store) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.RLock()
	var stale []string
	for id, rec := range s.sessions {
		base := rec.state.Base()
		if base.Status().IsTerminal() && base.UpdatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.DeleteSession(id)
	}
	if len(stale) > 0 {
		s.logger.Info("cleaned up old sessions", "count", len(stale))
	}
	return len(stale)
}
