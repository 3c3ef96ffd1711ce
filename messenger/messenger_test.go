package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaketlabs/shaket/core"
	"github.com/shaketlabs/shaket/logging"
	"github.com/shaketlabs/shaket/protocol"
	"github.com/shaketlabs/shaket/state"
)

func newSessionWithCounterparty(t *testing.T, endpoint string) *state.Store {
	t.Helper()

	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}

	_, err := store.CreateSession("sess-1", "ctx-1", core.SessionTypeNegotiation, core.RoleBuyer, item)
	require.NoError(t, err)

	_, err = store.EmitEvent("sess-1", state.EventCounterpartyJoined, map[string]any{
		"context_id": "ctx-1",
		"endpoint":   endpoint,
	})
	require.NoError(t, err)

	return store
}

func TestSendOfferRoundTrip(t *testing.T) {
	var received protocol.Message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))

		reply := protocol.NewReply(protocol.NewOfferMessage(core.NewOffer(85, "item-1"), core.SessionTypeNegotiation, "ctx-1"))
		out, err := reply.Marshal()
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	store := newSessionWithCounterparty(t, srv.URL)
	registry := NewConnectionRegistry()
	registry.Add(srv.URL)

	m := NewSessionMessenger(store, registry)

	offer := core.NewOffer(70, "item-1")
	replies, err := m.SendOffer(context.Background(), "sess-1", offer, "")
	require.NoError(t, err)

	assert.Equal(t, protocol.MessageTypeOffer, received.Type)
	assert.Equal(t, "ctx-1", received.ContextID)
	assert.Equal(t, 70.0, received.Offer["price"])

	require.Len(t, replies, 1)
	assert.Equal(t, protocol.MessageTypeOffer, replies[0].Type)
	assert.Equal(t, 85.0, replies[0].OfferData["price"])
}

func TestAcceptOfferCarriesOfferID(t *testing.T) {
	var received protocol.Message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newSessionWithCounterparty(t, srv.URL)
	registry := NewConnectionRegistry()

	m := NewSessionMessenger(store, registry)

	replies, err := m.AcceptOffer(context.Background(), "sess-1", "offer-abc", "Deal!", "")
	require.NoError(t, err)
	assert.Empty(t, replies, "empty body means no reply messages")

	assert.Equal(t, protocol.MessageTypeAction, received.Type)
	assert.Equal(t, protocol.ActionAccept, received.Action)
	assert.Equal(t, "offer-abc", received.ActionData["offer_id"])
	assert.Equal(t, "Deal!", received.ActionData["message"])
}

func TestSendDiscoveryToExplicitContext(t *testing.T) {
	hits := map[string]int{}

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits["a"]++
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits["b"]++
	}))
	defer srvB.Close()

	store := newSessionWithCounterparty(t, srvA.URL)
	_, err := store.EmitEvent("sess-1", state.EventCounterpartyJoined, map[string]any{
		"context_id": "ctx-2",
		"endpoint":   srvB.URL,
	})
	require.NoError(t, err)

	m := NewSessionMessenger(store, NewConnectionRegistry())

	_, err = m.SendDiscovery(context.Background(), "sess-1", map[string]any{"hello": true}, "ctx-2")
	require.NoError(t, err)

	assert.Equal(t, 0, hits["a"])
	assert.Equal(t, 1, hits["b"])
}

func TestSendFailsWithoutCounterparties(t *testing.T) {
	store := state.NewStore()
	item := core.Item{ID: "item-1", Name: "Power Bank"}
	_, err := store.CreateSession("sess-1", "ctx-1", core.SessionTypeNegotiation, core.RoleBuyer, item)
	require.NoError(t, err)

	m := NewSessionMessenger(store, NewConnectionRegistry())

	_, err = m.SendDiscovery(context.Background(), "sess-1", nil, "")
	assert.ErrorIs(t, err, ErrNoCounterparty)
}

func TestSendSurfacesPeerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newSessionWithCounterparty(t, srv.URL)
	m := NewSessionMessenger(store, NewConnectionRegistry())

	_, err := m.SendDiscovery(context.Background(), "sess-1", nil, "")
	assert.Error(t, err)
}

func TestRegistryDeduplicatesEndpoints(t *testing.T) {
	registry := NewConnectionRegistry()

	a := registry.Add("http://localhost:8001")
	b := registry.Add("http://localhost:8001/")
	assert.Same(t, a, b)

	got, ok := registry.Get("http://localhost:8001")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Len(t, registry.List(), 1)
}

func TestFetchAgentCard(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, agentCardPath, r.URL.Path)
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "PowerBank Seller"})
	}))
	defer srv.Close()

	registry := NewConnectionRegistry()
	conn := registry.Add(srv.URL)

	card, err := conn.FetchAgentCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PowerBank Seller", card["name"])

	// Second fetch is served from cache.
	_, err = conn.FetchAgentCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestSendRecordsDispatchDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: &buf,
	})

	store := newSessionWithCounterparty(t, srv.URL)
	m := NewSessionMessenger(store, NewConnectionRegistry(), func(o *Options) {
		o.Logger = logger
	})

	_, err := m.SendOffer(context.Background(), "sess-1", core.NewOffer(70, "item-1"), "")
	require.NoError(t, err)

	// Each dispatch leaves a structured entry with type, target and duration.
	out := buf.String()
	assert.Contains(t, out, `"msg":"message sent"`)
	assert.Contains(t, out, `"message_type":"offer"`)
	assert.Contains(t, out, `"context_id":"ctx-1"`)
	assert.Contains(t, out, `"duration"`)

	// A failing dispatch is recorded as such.
	buf.Reset()
	srv.Close()
	_, err = m.SendOffer(context.Background(), "sess-1", core.NewOffer(71, "item-1"), "")
	assert.Error(t, err)
	assert.Contains(t, buf.String(), `"msg":"message send failed"`)
}
