// Package protocol defines the typed messages Shaket peers exchange and the
// builders/parsers converting them to and from their JSON wire form.
//
// Three message kinds exist: discovery (free-form conversation and
// information gathering), offer (price proposals) and action (init, accept,
// cancel, ack). A reply can carry zero or more messages; ParseReply is
// tolerant of payloads produced by foreign implementations and skips parts
// it cannot understand.
package protocol
