package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shaketlabs/shaket/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferMessageRoundTrip(t *testing.T) {
	offer := core.NewOffer(85.0, "item-1", func(o *core.OfferOptions) {
		o.Message = "best price"
	})
	msg := NewOfferMessage(offer, core.SessionTypeNegotiation, "ctx-1")

	raw, err := msg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeOffer, parsed.Type)
	assert.Equal(t, "ctx-1", parsed.ContextID)
	assert.Equal(t, "negotiation", parsed.SessionType)
	assert.Equal(t, msg.MessageID, parsed.MessageID)
	assert.Equal(t, 85.0, parsed.OfferData["price"])
	assert.Equal(t, offer.OfferID, parsed.OfferData["offer_id"])
	assert.Equal(t, "best price", parsed.OfferData["message"])
}

func TestDiscoveryMessageRoundTrip(t *testing.T) {
	msg := NewDiscoveryMessage(map[string]any{
		"message":      "round 2 of 3 is open",
		"round_number": 2,
		"min_offer":    84.5,
	}, "ctx-seller")

	raw, err := msg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeDiscovery, parsed.Type)
	assert.Equal(t, "round 2 of 3 is open", parsed.DiscoveryData["message"])
	assert.Equal(t, float64(2), parsed.DiscoveryData["round_number"])
	assert.Equal(t, 84.5, parsed.DiscoveryData["min_offer"])
}

func TestActionMessageRoundTrip(t *testing.T) {
	msg := NewActionMessage(ActionAccept, map[string]any{
		"offer_id": "offer-abc",
		"message":  "Deal!",
	}, "ctx-1")

	raw, err := msg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeAction, parsed.Type)
	assert.Equal(t, ActionAccept, parsed.Action)
	assert.Equal(t, "offer-abc", parsed.ActionData["offer_id"])
}

func TestParseMessageErrors(t *testing.T) {
	_, err := ParseMessage([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseMessage([]byte(`[1, 2, 3]`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseMessage([]byte(`{"type": "telemetry"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseMessage([]byte(`{"offer": {"price": 10}}`))
	assert.ErrorIs(t, err, ErrInvalidMessage, "missing type is an error")
}

func TestParseMessageTimestampDefaults(t *testing.T) {
	before := time.Now().UTC()
	parsed, err := ParseMessage([]byte(`{"type": "discovery"}`))
	require.NoError(t, err)
	assert.False(t, parsed.Timestamp.Before(before))

	// An explicit timestamp is honored, an unparsable one falls back to now.
	parsed, err = ParseMessage([]byte(`{"type": "discovery", "timestamp": "2026-01-15T10:30:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), parsed.Timestamp)

	parsed, err = ParseMessage([]byte(`{"type": "discovery", "timestamp": "yesterday"}`))
	require.NoError(t, err)
	assert.False(t, parsed.Timestamp.Before(before))
}

func TestParseMessageKeepsRaw(t *testing.T) {
	raw := []byte(`{"type": "action", "action": "ack", "vendor_extension": true}`)
	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed.Raw)
}

func TestParseMessageNonObjectData(t *testing.T) {
	// Malformed sub-payloads degrade to empty maps rather than nil.
	parsed, err := ParseMessage([]byte(`{"type": "offer", "offer": "cheap"}`))
	require.NoError(t, err)
	assert.NotNil(t, parsed.OfferData)
	assert.Empty(t, parsed.OfferData)
}

func TestParseReplyEnvelope(t *testing.T) {
	reply := NewReply(
		NewOfferMessage(core.NewOffer(80.0, "item-1"), core.SessionTypeNegotiation, "ctx-1"),
		NewDiscoveryMessage(map[string]any{"message": "thanks"}, "ctx-1"),
	)
	raw, err := reply.Marshal()
	require.NoError(t, err)

	parsed, err := ParseReply(raw)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, MessageTypeOffer, parsed[0].Type)
	assert.Equal(t, MessageTypeDiscovery, parsed[1].Type)
}

func TestParseReplyBareMessage(t *testing.T) {
	msg := NewActionMessage(ActionAck, map[string]any{"status": "ok"}, "ctx-1")
	raw, err := msg.Marshal()
	require.NoError(t, err)

	parsed, err := ParseReply(raw)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, ActionAck, parsed[0].Action)
}

func TestParseReplySkipsUnparseableParts(t *testing.T) {
	raw := []byte(`{"messages": [
		{"type": "offer", "offer": {"offer_id": "offer-1", "price": 90}},
		{"type": "telemetry"},
		42,
		{"type": "action", "action": "ack"}
	]}`)

	parsed, err := ParseReply(raw)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, MessageTypeOffer, parsed[0].Type)
	assert.Equal(t, MessageTypeAction, parsed[1].Type)
}

func TestParseReplyDegenerateInputs(t *testing.T) {
	parsed, err := ParseReply(nil)
	require.NoError(t, err)
	assert.Empty(t, parsed)

	_, err = ParseReply([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// A valid JSON object that is not a protocol message yields no messages.
	parsed, err = ParseReply([]byte(`{"status": "accepted"}`))
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestMessageWireShape(t *testing.T) {
	raw, err := NewDiscoveryMessage(map[string]any{"message": "hi"}, "ctx-1").Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "discovery", decoded["type"])
	assert.Contains(t, decoded, "message_id")
	assert.Contains(t, decoded, "timestamp")
	// Unused envelope fields stay off the wire.
	assert.NotContains(t, decoded, "offer")
	assert.NotContains(t, decoded, "action")
}
