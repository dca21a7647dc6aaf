package services

import "context"

// Notifier is the outbound state-changed hook. Implementations fan the
// event out to whatever transport informs the UI layer; consumers must
// tolerate duplicate and out-of-order delivery, so a best-effort publish
// is acceptable and failures are logged, never propagated to the caller.
type Notifier interface {
	ChildStateChanged(ctx context.Context, childID, tenantID, message string) error
}

// NopNotifier discards notifications. Used when AMQP is not configured
// and in tests.
type NopNotifier struct{}

func (NopNotifier) ChildStateChanged(ctx context.Context, childID, tenantID, message string) error {
	return nil
}
