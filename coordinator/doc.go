// Package coordinator executes session programs on top of the event log.
//
// A coordinator owns the proactive side of a session: it asks the agent for
// the next action, performs it through a Messenger, folds the counterparty's
// replies back into state via events, and decides when the session is over.
// NegotiationCoordinator runs the 1-on-1 bargaining loop;
// ReverseAuctionCoordinator runs a fixed number of parallel bidding rounds.
//
// Coordinators never mutate state directly. Every observation, their own
// actions included, goes through Store.EmitEvent so that replaying the log
// reproduces the session exactly.
package coordinator
