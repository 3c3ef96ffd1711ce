package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shaketlabs/shaket/protocol"
)

const agentCardPath = "/.well-known/agent-card.json"

// Connection is a single remote peer reachable over HTTP.
type Connection struct {
	endpoint string
	client   *http.Client

	mu   sync.Mutex
	card map[string]any
}

// Endpoint returns the peer's base URL.
func (c *Connection) Endpoint() string { return c.endpoint }

// SendMessage posts one protocol message to the peer and parses the reply
// envelope it answers with.
func (c *Connection) SendMessage(ctx context.Context, msg protocol.Message) ([]protocol.ParsedMessage, error) {
	body, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("messenger: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("messenger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messenger: send to %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("messenger: read reply from %s: %w", c.endpoint, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("messenger: peer %s returned status %d", c.endpoint, resp.StatusCode)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	return protocol.ParseReply(raw)
}

// FetchAgentCard retrieves and caches the peer's agent card.
func (c *Connection) FetchAgentCard(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.card != nil {
		return c.card, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+agentCardPath, nil)
	if err != nil {
		return nil, fmt.Errorf("messenger: build card request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messenger: fetch agent card from %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("messenger: agent card at %s returned status %d", c.endpoint, resp.StatusCode)
	}

	var card map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("messenger: decode agent card from %s: %w", c.endpoint, err)
	}

	c.card = card
	return card, nil
}

// RegistryOptions configure a ConnectionRegistry.
type RegistryOptions struct {
	// HTTPClient is shared by every connection. Defaults to a client with
	// Timeout applied.
	HTTPClient *http.Client
	// Timeout applies when no HTTPClient is given.
	Timeout time.Duration
}

// ConnectionRegistry is the address book of known peer endpoints.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	client *http.Client
	conns  map[string]*Connection
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(optFns ...func(o *RegistryOptions)) *ConnectionRegistry {
	opts := RegistryOptions{
		Timeout: 30 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &ConnectionRegistry{
		client: client,
		conns:  map[string]*Connection{},
	}
}

// Add registers an endpoint and returns its connection. Adding the same
// endpoint twice returns the existing connection.
func (r *ConnectionRegistry) Add(endpoint string) *Connection {
	endpoint = strings.TrimRight(endpoint, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[endpoint]; ok {
		return conn
	}

	conn := &Connection{endpoint: endpoint, client: r.client}
	r.conns[endpoint] = conn
	return conn
}

// Get returns the connection for an endpoint, if registered.
func (r *ConnectionRegistry) Get(endpoint string) (*Connection, bool) {
	endpoint = strings.TrimRight(endpoint, "/")

	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[endpoint]
	return conn, ok
}

// List returns all registered endpoints.
func (r *ConnectionRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]string, 0, len(r.conns))
	for endpoint := range r.conns {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}
