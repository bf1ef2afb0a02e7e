// Package events emits domain events (sync completion, reorder alerts)
// for external notifiers. Delivery beyond emission is out of scope;
// consumers pick the events up from the broker.
package events

import "context"

// Event types published by the core.
const (
	TypeSyncCompleted = "sync.completed"
	TypeSyncFailed    = "sync.failed"
	TypeReorderAlert  = "reorder.alert"
)

type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
	Close() error
}

// Nop drops everything; the default when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, eventType, key string, payload any) error { return nil }
func (Nop) Close() error                                                          { return nil }
