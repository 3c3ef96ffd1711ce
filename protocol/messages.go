package protocol

import (
	"encoding/json"
	"time"

	"github.com/shaketlabs/shaket/core"
)

// MessageType enumerates the message kinds of the Shaket protocol.
type MessageType string

const (
	// MessageTypeDiscovery carries free-form conversational data.
	MessageTypeDiscovery MessageType = "discovery"
	// MessageTypeOffer carries a price proposal.
	MessageTypeOffer MessageType = "offer"
	// MessageTypeAction carries a protocol action (init, accept, cancel, ack).
	MessageTypeAction MessageType = "action"
)

// ActionType enumerates the actions an action message can carry.
type ActionType string

const (
	// ActionInit initializes a commerce session on the receiving peer.
	ActionInit ActionType = "init"
	// ActionAccept accepts an offer.
	ActionAccept ActionType = "accept"
	// ActionCancel cancels a session or withdraws an offer.
	ActionCancel ActionType = "cancel"
	// ActionAck acknowledges a message without further effect.
	ActionAck ActionType = "ack"
)

// Message is the outbound wire envelope. Only the fields matching the
// message type are populated.
type Message struct {
	MessageID   string           `json:"message_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Type        MessageType      `json:"type"`
	ContextID   string           `json:"context_id,omitempty"`
	TaskID      string           `json:"task_id,omitempty"`
	SessionType core.SessionType `json:"session_type,omitempty"`

	DiscoveryData map[string]any `json:"discovery_data,omitempty"`
	Offer         map[string]any `json:"offer,omitempty"`
	Action        ActionType     `json:"action,omitempty"`
	ActionData    map[string]any `json:"action_data,omitempty"`
}

func newMessage(messageType MessageType, contextID string) Message {
	return Message{
		MessageID: core.NewID("msg"),
		Timestamp: time.Now().UTC(),
		Type:      messageType,
		ContextID: contextID,
	}
}

// NewDiscoveryMessage builds a discovery message: questions, answers, market
// summaries, or any other conversational payload.
func NewDiscoveryMessage(discoveryData map[string]any, contextID string) Message {
	msg := newMessage(MessageTypeDiscovery, contextID)
	if discoveryData == nil {
		discoveryData = map[string]any{}
	}
	msg.DiscoveryData = discoveryData
	return msg
}

// NewOfferMessage builds an offer message for the given session type.
func NewOfferMessage(offer core.Offer, sessionType core.SessionType, contextID string) Message {
	msg := newMessage(MessageTypeOffer, contextID)
	msg.SessionType = sessionType
	msg.Offer = offer.ToMap()
	return msg
}

// NewActionMessage builds an action message. For accept/cancel the action
// data names the offer_id; for init it carries the session bootstrap
// parameters (session_type, item, role, session_config).
func NewActionMessage(action ActionType, actionData map[string]any, contextID string) Message {
	msg := newMessage(MessageTypeAction, contextID)
	msg.Action = action
	if actionData == nil {
		actionData = map[string]any{}
	}
	msg.ActionData = actionData
	return msg
}

// Marshal renders the message into its JSON wire form.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Reply is the envelope a peer answers with: zero or more protocol messages
// produced while handling the inbound one.
type Reply struct {
	Messages []Message `json:"messages"`
}

// NewReply wraps messages in a reply envelope.
func NewReply(messages ...Message) Reply {
	return Reply{Messages: messages}
}

// Marshal renders the reply into its JSON wire form.
func (r Reply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
