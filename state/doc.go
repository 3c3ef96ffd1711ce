// Package state implements the event-sourced session engine: an append-only
// event log per session plus a mutable state projection derived exclusively
// by folding events.
//
// The design pairs two representations of every session:
//
//   - Events are immutable business facts (offer sent, round started,
//     session failed). They form the audit trail and the source of truth.
//   - SessionState is the derived working memory coordinators read. It is
//     mutated only through Store.EmitEvent, which appends the event and folds
//     it into the state in one serialized step.
//
// One session can own many transport contexts (multi-party auctions); one
// context always maps to exactly one session. The Store maintains that index
// for inbound message routing.
package state
