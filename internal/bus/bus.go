// Package bus declares the contract nodi-edge consumes from the external
// key-value pub/sub store (TagBus). The bus itself is out of scope for
// this module; only the four operations the core uses are modeled here,
// plus an in-memory double used by tests.
package bus

import "context"

// Handler reacts to a published key's new value. Handlers are called on
// bus-internal goroutines; they must not block indefinitely and must
// swallow their own errors (the bus contract only propagates send errors,
// never callback errors — see spec §7, "Bus callback").
type Handler func(key string, value string)

// Bus is the narrow interface nodi-edge depends on. A production bus
// client (TagBus) is expected to implement this; internal/bus/memory.go
// provides an in-process implementation, used by tests and as the
// session cmd/nodi-edge opens (where --clean resets it).
type Bus interface {
	// Sync requests an initial snapshot of every key matching patterns;
	// implementations typically deliver these through subscribed
	// handlers before returning.
	Sync(ctx context.Context, patterns []string) error

	// Subscribe registers handler for every key matching any of
	// patterns. Patterns use the bus's own glob dialect (e.g.
	// "supervisor/_cmd/**").
	Subscribe(ctx context.Context, patterns []string, handler Handler) error

	// Publish stages a key/value write. Writes are not guaranteed
	// visible to other subscribers until Commit returns.
	Publish(ctx context.Context, key, value string) error

	// Commit flushes staged Publish calls.
	Commit(ctx context.Context) error

	// Close releases the underlying session. Safe to call multiple
	// times.
	Close() error
}
