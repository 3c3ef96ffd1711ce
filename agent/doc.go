// Package agent defines the decision-making contract for negotiation and
// reverse auction participants. An Agent inspects the current session state
// and returns the next Action to take: send an offer, accept one, or send a
// discovery message.
//
// The package ships rule-based agents suitable for testing and simple
// deployments. LLM-backed agents live in the agent/openai and
// agent/anthropic subpackages and share the tool schemas defined here.
package agent
