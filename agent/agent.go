package agent

import (
	"context"

	"github.com/shaketlabs/shaket/state"
)

// Agent decides the next move for one side of a session. Implementations
// must treat the passed state as read-only and derive their decision from
// its accessors; all mutation happens through the event log.
type Agent interface {
	// DecideNextAction returns the action to take given the current
	// session state. Returning an error aborts the coordinator loop.
	DecideNextAction(ctx context.Context, sessionID string, st state.SessionState) (Action, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, sessionID string, st state.SessionState) (Action, error)

// DecideNextAction implements the Agent interface.
func (f Func) DecideNextAction(ctx context.Context, sessionID string, st state.SessionState) (Action, error) {
	return f(ctx, sessionID, st)
}
