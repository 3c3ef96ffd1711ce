// Package messenger delivers session traffic to remote peers over HTTP.
//
// ConnectionRegistry is the address book: it holds one Connection per known
// peer endpoint and shares a single HTTP client across them.
// SessionMessenger resolves a session's counterparty by context id through
// the state store and sends protocol messages to its endpoint, returning the
// peer's parsed reply. It implements the coordinator.Messenger interface.
package messenger
