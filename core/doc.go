// Package core defines the shared domain types of the Shaket commerce
// framework: the items agents trade, the offers they exchange, and the
// session/role enumerations every other package builds on. Types here carry
// no behavior beyond construction and conversion; all protocol and state
// semantics live in the state, coordinator and protocol packages.
package core
