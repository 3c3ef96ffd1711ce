package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ErrInvalidMessage is returned when a payload is not a recognizable Shaket
// protocol message.
var ErrInvalidMessage = errors.New("invalid protocol message")

// ParsedMessage is the unified inbound representation used throughout the
// framework. All incoming payloads are parsed into this form before routing;
// participant identification rides on ContextID.
type ParsedMessage struct {
	MessageID string
	Type      MessageType
	Timestamp time.Time
	ContextID string
	TaskID    string

	// Type-specific data.
	DiscoveryData map[string]any
	OfferData     map[string]any
	Action        ActionType
	ActionData    map[string]any

	// Session info carried by offer messages.
	SessionType string

	// Raw is the original payload for audit trails.
	Raw []byte
}

// ParseMessage parses a single protocol message from its JSON wire form.
// Parsing is tolerant: unknown extra fields are ignored, a missing timestamp
// defaults to now, but a missing or unknown type is an error.
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidMessage)
	}
	return parseMessageResult(gjson.ParseBytes(raw), raw)
}

func parseMessageResult(res gjson.Result, raw []byte) (*ParsedMessage, error) {
	if !res.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}

	var messageType MessageType
	switch MessageType(res.Get("type").String()) {
	case MessageTypeDiscovery:
		messageType = MessageTypeDiscovery
	case MessageTypeOffer:
		messageType = MessageTypeOffer
	case MessageTypeAction:
		messageType = MessageTypeAction
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, res.Get("type").String())
	}

	parsed := &ParsedMessage{
		MessageID: res.Get("message_id").String(),
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		ContextID: res.Get("context_id").String(),
		TaskID:    res.Get("task_id").String(),
		Raw:       raw,
	}

	if ts := res.Get("timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			parsed.Timestamp = t
		}
	}

	switch messageType {
	case MessageTypeDiscovery:
		parsed.DiscoveryData = objectMap(res.Get("discovery_data"))

	case MessageTypeOffer:
		parsed.OfferData = objectMap(res.Get("offer"))
		parsed.SessionType = res.Get("session_type").String()

	case MessageTypeAction:
		parsed.Action = ActionType(res.Get("action").String())
		parsed.ActionData = objectMap(res.Get("action_data"))
	}

	return parsed, nil
}

// ParseReply extracts every parseable protocol message from a reply payload.
// It accepts the standard {"messages": [...]} envelope as well as a bare
// single message, and silently skips parts that are not valid messages: a
// malformed part from one counterparty must not poison the rest.
func ParseReply(raw []byte) ([]ParsedMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: reply is not valid JSON", ErrInvalidMessage)
	}

	root := gjson.ParseBytes(raw)

	if msgs := root.Get("messages"); msgs.IsArray() {
		var out []ParsedMessage
		for _, part := range msgs.Array() {
			parsed, err := parseMessageResult(part, []byte(part.Raw))
			if err != nil {
				continue
			}
			out = append(out, *parsed)
		}
		return out, nil
	}

	// Bare single message.
	parsed, err := parseMessageResult(root, raw)
	if err != nil {
		return nil, nil
	}
	return []ParsedMessage{*parsed}, nil
}

// objectMap converts a gjson object into a map, returning an empty map for
// anything else so callers can index without nil checks.
func objectMap(res gjson.Result) map[string]any {
	if m, ok := res.Value().(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
