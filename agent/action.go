package agent

import (
	"encoding/json"
	"fmt"
)

// Action is the closed set of moves an agent can make in a session.
// Implementations are SendOffer, AcceptOffer, and SendDiscovery.
type Action interface {
	// ActionName returns the wire-level action identifier.
	ActionName() string

	isAction()
}

// SendOffer proposes a price to the counterparty, optionally with a
// human-readable message and structured terms.
type SendOffer struct {
	Price    float64
	Message  string
	Metadata map[string]any
}

// ActionName implements the Action interface.
func (SendOffer) ActionName() string { return "send_offer" }

func (SendOffer) isAction() {}

// AcceptOffer accepts a previously received offer, completing the
// negotiation with a successful deal.
type AcceptOffer struct {
	OfferID string
	Message string
}

// ActionName implements the Action interface.
func (AcceptOffer) ActionName() string { return "accept" }

func (AcceptOffer) isAction() {}

// SendDiscovery sends an informational message without making an offer.
// Use it to ask questions, share terms, or broadcast market feedback.
type SendDiscovery struct {
	Message       string
	DiscoveryData map[string]any
}

// ActionName implements the Action interface.
func (SendDiscovery) ActionName() string { return "send_discovery" }

func (SendDiscovery) isAction() {}

// ToolDefinition describes one agent action in LLM function-calling form.
// The Parameters field holds a JSON schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolDefinitions returns the function-calling schemas for all agent
// actions, in a format compatible with both the OpenAI and Anthropic APIs.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "send_offer",
			Description: "Send a price offer to the counterparty with optional message and terms",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"price": map[string]any{
						"type":        "number",
						"description": "Offer price to propose",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "Optional message to include with the offer",
					},
					"metadata": map[string]any{
						"type":        "object",
						"description": "Optional terms such as delivery or warranty details",
					},
				},
				"required": []string{"price"},
			},
		},
		{
			Name:        "accept",
			Description: "Accept the counterparty's offer and complete the negotiation",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"offer_id": map[string]any{
						"type":        "string",
						"description": "ID of the offer being accepted",
					},
					"message": map[string]any{
						"type":        "string",
						"description": "Optional acceptance message",
					},
				},
				"required": []string{"offer_id"},
			},
		},
		{
			Name:        "send_discovery",
			Description: "Send a discovery message to ask questions or share information",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "Discovery message content to send",
					},
					"discovery_data": map[string]any{
						"type":        "object",
						"description": "Optional structured discovery data",
					},
				},
				"required": []string{"message"},
			},
		},
	}
}

// ActionFromToolCall decodes an LLM tool call into an Action. The name must
// be one of the tool names returned by ToolDefinitions and args must be the
// raw JSON arguments produced by the model.
func ActionFromToolCall(name string, args []byte) (Action, error) {
	switch name {
	case "send_offer":
		var payload struct {
			Price    float64        `json:"price"`
			Message  string         `json:"message"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("agent: decode send_offer arguments: %w", err)
		}
		if payload.Price <= 0 {
			return nil, fmt.Errorf("agent: send_offer requires a positive price, got %v", payload.Price)
		}
		return SendOffer{Price: payload.Price, Message: payload.Message, Metadata: payload.Metadata}, nil
	case "accept":
		var payload struct {
			OfferID string `json:"offer_id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("agent: decode accept arguments: %w", err)
		}
		if payload.OfferID == "" {
			return nil, fmt.Errorf("agent: accept requires an offer_id")
		}
		return AcceptOffer{OfferID: payload.OfferID, Message: payload.Message}, nil
	case "send_discovery":
		var payload struct {
			Message       string         `json:"message"`
			DiscoveryData map[string]any `json:"discovery_data"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("agent: decode send_discovery arguments: %w", err)
		}
		return SendDiscovery{Message: payload.Message, DiscoveryData: payload.DiscoveryData}, nil
	default:
		return nil, fmt.Errorf("agent: unknown tool %q", name)
	}
}
