// Package notify provides the outbound alert sink. Delivery is best
// effort: implementations swallow their own failures so a broken sink can
// never affect mirroring correctness.
package notify

import "context"

// Notifier sends a plain-text operational alert. Implementations must not
// return delivery failures to the caller and must never include account
// credentials in the message.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Compile-time interface check.
var _ Notifier = Noop{}

// Noop discards all notifications. Used when no sink is configured and as
// the default in tests.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, string) {}
