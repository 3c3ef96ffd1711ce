package state

import (
	"sync"
	"time"

	"github.com/shaketlabs/shaket/core"
)

// Status is a session's lifecycle position. Transitions only move forward:
// initialized -> active -> one of the terminal statuses. Terminal statuses
// are absorbing; no fold may move a session out of one.
type Status string

const (
	// StatusInitialized is the status of a freshly created session.
	StatusInitialized Status = "initialized"
	// StatusActive means the session's protocol run is in progress.
	StatusActive Status = "active"
	// StatusCompleted is the successful terminal status.
	StatusCompleted Status = "completed"
	// StatusCancelled is the terminal status after an explicit cancellation.
	StatusCancelled Status = "cancelled"
	// StatusFailed is the terminal status after an error or protocol deadlock.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Counterparty is one remote participant in a session, addressed by the
// transport context id that keys it in the session's counterparty map.
type Counterparty struct {
	Endpoint string `json:"endpoint"`
	Name     string `json:"name,omitempty"`
}

// DiscoveryMessage is a received free-form discovery payload retained on the
// state for agents to inspect.
type DiscoveryMessage struct {
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	ContextID string         `json:"context_id,omitempty"`
}

// SessionState is the mutable projection of one session's event history.
// Implementations are tagged variants sharing BaseState; each knows how to
// fold an event into itself. All reads go through accessors, which are safe
// for concurrent use with the fold.
type SessionState interface {
	// Base exposes the shared fields common to every session kind.
	Base() *BaseState
	// ApplyEvent folds one event into the state, base semantics first.
	ApplyEvent(ev Event)
	// AllOffers returns every offer the session has folded so far.
	AllOffers() []core.Offer
	// Snapshot renders the state as a serializable map for status
	// reporting and wire responses.
	Snapshot() map[string]any
}

// BaseState carries the fields shared by all session kinds. The embedded
// mutex guards the variant's fields too; variants take it in their fold and
// accessors. Fields are unexported so the only mutation path is the fold.
type BaseState struct {
	mu sync.RWMutex

	sessionID   string
	sessionType core.SessionType
	role        core.Role
	item        core.Item

	// Primary transport context. Empty for multi-party sessions, whose
	// contexts all live in the counterparty map.
	contextID string

	status    Status
	createdAt time.Time
	updatedAt time.Time

	counterparties    map[string]Counterparty
	discoveryMessages []DiscoveryMessage
	metadata          map[string]any
}

func newBaseState(sessionID, contextID string, sessionType core.SessionType, role core.Role, item core.Item, metadata map[string]any) BaseState {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return BaseState{
		sessionID:      sessionID,
		sessionType:    sessionType,
		role:           role,
		item:           item,
		contextID:      contextID,
		status:         StatusInitialized,
		createdAt:      now,
		updatedAt:      now,
		counterparties: map[string]Counterparty{},
		metadata:       metadata,
	}
}

// SessionID returns the unique session identifier.
func (b *BaseState) SessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

// Type returns the session kind.
func (b *BaseState) Type() core.SessionType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionType
}

// Role returns the local party's role.
func (b *BaseState) Role() core.Role {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.role
}

// Item returns the trade subject.
func (b *BaseState) Item() core.Item {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.item
}

// ContextID returns the primary transport context, if any.
func (b *BaseState) ContextID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.contextID
}

// Status returns the current lifecycle status.
func (b *BaseState) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// CreatedAt returns the creation time.
func (b *BaseState) CreatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.createdAt
}

// UpdatedAt returns the time of the last folded event.
func (b *BaseState) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Counterparties returns a copy of the counterparty map.
func (b *BaseState) Counterparties() map[string]Counterparty {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Counterparty, len(b.counterparties))
	for k, v := range b.counterparties {
		out[k] = v
	}
	return out
}

// Counterparty looks up one counterparty by context id.
func (b *BaseState) Counterparty(contextID string) (Counterparty, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp, ok := b.counterparties[contextID]
	return cp, ok
}

// AllContexts returns every context id currently associated with the
// session: the primary context (when set) plus all counterparty contexts.
func (b *BaseState) AllContexts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	contexts := make([]string, 0, len(b.counterparties)+1)
	if b.contextID != "" {
		contexts = append(contexts, b.contextID)
	}
	for ctx := range b.counterparties {
		contexts = append(contexts, ctx)
	}
	return contexts
}

// DiscoveryMessages returns a copy of the received discovery entries in
// arrival order.
func (b *BaseState) DiscoveryMessages() []DiscoveryMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DiscoveryMessage, len(b.discoveryMessages))
	copy(out, b.discoveryMessages)
	return out
}

// Metadata returns a copy of the extensible metadata map.
func (b *BaseState) Metadata() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.metadata))
	for k, v := range b.metadata {
		out[k] = v
	}
	return out
}

// setStatusLocked moves the status forward. A terminal status never changes:
// re-applying the same terminal event is a no-op and a conflicting terminal
// event is folded into the log but cannot move the status. Caller holds the
// write lock.
func (b *BaseState) setStatusLocked(next Status) {
	if b.status.IsTerminal() {
		return
	}
	b.status = next
}

// applyBaseLocked folds the events common to every session kind. Caller
// holds the write lock; variants call this before their own switch.
func (b *BaseState) applyBaseLocked(ev Event) {
	b.updatedAt = ev.Timestamp

	switch ev.Type {
	case EventSessionStarted:
		b.setStatusLocked(StatusActive)

	case EventSessionCompleted:
		b.setStatusLocked(StatusCompleted)

	case EventSessionCancelled:
		b.setStatusLocked(StatusCancelled)

	case EventSessionFailed:
		b.setStatusLocked(StatusFailed)

	case EventCounterpartyJoined:
		endpoint, _ := ev.Data["endpoint"].(string)
		contextID, _ := ev.Data["context_id"].(string)
		if endpoint != "" && contextID != "" {
			cp := Counterparty{Endpoint: endpoint}
			if name, ok := ev.Data["name"].(string); ok {
				cp.Name = name
			}
			b.counterparties[contextID] = cp
		}

	case EventCounterpartyLeft:
		if contextID, ok := ev.Data["context_id"].(string); ok {
			delete(b.counterparties, contextID)
		}

	case EventDiscoveryReceived:
		data, _ := ev.Data["discovery_data"].(map[string]any)
		if data == nil {
			data = map[string]any{}
		}
		b.discoveryMessages = append(b.discoveryMessages, DiscoveryMessage{
			Data:      data,
			Timestamp: ev.Timestamp,
			ContextID: ev.ContextID,
		})

	case EventStateUpdated:
		if updates, ok := ev.Data["updates"].(map[string]any); ok {
			b.applyUpdatesLocked(updates)
		}
	}
}

// applyUpdatesLocked sets base fields by name for the STATE_UPDATED escape
// hatch. Unknown names are left for the variant folds.
func (b *BaseState) applyUpdatesLocked(updates map[string]any) {
	for field, value := range updates {
		switch field {
		case "status":
			if s, ok := value.(string); ok {
				b.setStatusLocked(Status(s))
			}
		case "context_id":
			if s, ok := value.(string); ok {
				b.contextID = s
			}
		case "metadata":
			if m, ok := value.(map[string]any); ok {
				for k, v := range m {
					b.metadata[k] = v
				}
			}
		}
	}
}

// snapshotLocked renders the base fields. Caller holds at least a read lock.
func (b *BaseState) snapshotLocked() map[string]any {
	counterparties := make(map[string]Counterparty, len(b.counterparties))
	for k, v := range b.counterparties {
		counterparties[k] = v
	}
	return map[string]any{
		"session_id":     b.sessionID,
		"context_id":     b.contextID,
		"session_type":   string(b.sessionType),
		"role":           string(b.role),
		"item":           b.item.ToMap(),
		"status":         string(b.status),
		"created_at":     b.createdAt.Format(time.RFC3339Nano),
		"updated_at":     b.updatedAt.Format(time.RFC3339Nano),
		"counterparties": counterparties,
		"metadata":       b.metadata,
	}
}

// offerFromEventData extracts an offer stored under the given key. Events
// emitted in-process carry core.Offer values; events folded from the wire
// carry the map form. Both are accepted.
func offerFromEventData(data map[string]any, key string) (core.Offer, bool) {
	switch v := data[key].(type) {
	case core.Offer:
		return v, true
	case map[string]any:
		return core.OfferFromMap(v)
	default:
		return core.Offer{}, false
	}
}

// roundFromEventData reads a round number that may arrive as a Go int or a
// JSON-decoded float64. The fallback applies when the key is absent.
func roundFromEventData(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
