package core

import (
	"strings"

	"github.com/google/uuid"
)

// SessionType identifies the commerce protocol a session runs.
type SessionType string

const (
	// SessionTypeNegotiation is a bilateral offer/counter-offer session.
	SessionTypeNegotiation SessionType = "negotiation"
	// SessionTypeReverseAuction is a buyer-initiated multi-seller session.
	SessionTypeReverseAuction SessionType = "reverse_auction"
)

// Role is the local party's role in a session.
type Role string

const (
	// RoleBuyer marks the party looking to acquire the item.
	RoleBuyer Role = "buyer"
	// RoleSeller marks the party offering the item.
	RoleSeller Role = "seller"
)

// NewID generates a short unique identifier with a domain prefix, e.g.
// "offer-3f2a9c41be07". Prefixed ids make event logs and wire traces
// readable without sacrificing uniqueness.
func NewID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
