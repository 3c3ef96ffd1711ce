// Package server exposes the reactive side of a session over HTTP.
//
// A Server answers peers that initiate sessions with it: an init action
// creates a local session, subsequent messages are folded into state, and
// the configured agent decides each reply. Responses travel back in the
// same HTTP exchange as a protocol reply envelope, so the server needs no
// connection back to the caller.
//
// The server also publishes an agent card at /.well-known/agent-card.json
// describing the session types and roles it supports.
package server
