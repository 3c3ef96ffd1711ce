// Package anthropic provides an agent.Agent backed by the Anthropic Claude
// Messages API with tool use. The model sees the current session state as a
// prompt and the shared action schemas as tools; its tool_use block is
// decoded into the next action.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/state"
)

// Options configure the Anthropic agent (model id, temperature, max tokens,
// API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// SystemPrompt overrides the role-based default instruction.
	SystemPrompt string
}

// Agent decides session actions by asking a Claude model.
type Agent struct {
	client *anthropic.Client
	opts   Options
}

// NewAgent creates a new Anthropic agent using the official client.
func NewAgent(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Agent{client: &client, opts: opts}
}

// NewAgentFromClient creates a new Anthropic agent from an existing client.
func NewAgentFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Agent{client: client, opts: opts}
}

// DecideNextAction implements the agent.Agent interface.
func (a *Agent) DecideNextAction(ctx context.Context, sessionID string, st state.SessionState) (agent.Action, error) {
	system := a.opts.SystemPrompt
	if system == "" {
		system = agent.DefaultSystemPrompt(st.Base().Role())
	}

	params := anthropic.MessageNewParams{
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: anthropic.Float(a.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(agent.StatePrompt(st))),
		},
		Tools: buildTools(),
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: message for session %s: %w", sessionID, err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}

		toolBlock := block.AsToolUse()
		args := []byte("{}")
		if toolBlock.Input != nil {
			if encoded, err := json.Marshal(toolBlock.Input); err == nil {
				args = encoded
			}
		}
		return agent.ActionFromToolCall(toolBlock.Name, args)
	}

	return nil, fmt.Errorf("anthropic: model returned no tool use for session %s", sessionID)
}

func buildTools() []anthropic.ToolUnionParam {
	defs := agent.ToolDefinitions()
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if properties, ok := def.Parameters["properties"]; ok {
			inputSchema.Properties = properties
		}
		if required, ok := def.Parameters["required"].([]string); ok {
			inputSchema.Required = required
		}
		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Name)
	}
	return tools
}
