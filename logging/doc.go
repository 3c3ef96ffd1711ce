// Package logging provides a tiny abstraction over slog so the rest of the
// framework can depend on a minimal interface (Logger) while letting users
// plug any structured logger. It also offers a richer ShaketLogger with
// contextual helpers (session, component) and domain specific helpers for
// message dispatch and agent decisions.
package logging
