// Package audit defines the port for the fire-and-forget audit sink.
package audit

import "context"

// Sink records structured audit events. Implementations must never block the
// caller on slow storage and must swallow their own failures: auditing is a
// byproduct, not a precondition, of the operation being audited.
type Sink interface {
	Log(ctx context.Context, event string, details map[string]any)
}

// Nop is a Sink that discards everything. Useful in tests.
type Nop struct{}

// Log implements Sink.
func (Nop) Log(context.Context, string, map[string]any) {}
