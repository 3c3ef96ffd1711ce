// Package openai provides an agent.Agent backed by the OpenAI Chat
// Completions API with function calling. The model sees the current session
// state as a prompt and the shared action schemas as tools; its tool call
// is decoded into the next action.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/shaketlabs/shaket/agent"
	"github.com/shaketlabs/shaket/state"
)

// Options configure the OpenAI agent. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without
// breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// SystemPrompt overrides the role-based default instruction.
	SystemPrompt string
}

// Agent decides session actions by asking an OpenAI chat model.
type Agent struct {
	client *openai.Client
	opts   Options
}

// NewAgent creates a new OpenAI agent using the official client, configured
// from the environment.
func NewAgent(optFns ...func(o *Options)) *Agent {
	client := openai.NewClient()
	return NewAgentFromClient(&client, optFns...)
}

// NewAgentFromClient creates a new OpenAI agent from an existing client.
func NewAgentFromClient(client *openai.Client, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
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

	params := openai.ChatCompletionNewParams{
		Model: a.opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(agent.StatePrompt(st)),
		},
		Temperature:         openai.Float(a.opts.Temperature),
		MaxCompletionTokens: openai.Int(a.opts.MaxCompletionTokens),
		Tools:               buildTools(),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion for session %s: %w", sessionID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response for session %s", sessionID)
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return nil, fmt.Errorf("openai: model returned no tool call for session %s", sessionID)
	}

	call := calls[0]
	return agent.ActionFromToolCall(call.Function.Name, []byte(call.Function.Arguments))
}

func buildTools() []openai.ChatCompletionToolParam {
	defs := agent.ToolDefinitions()
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	return tools
}
