package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// HistoryStore persists terminal transaction records for audit and analytics.
// In-flight records live only in the tracking store; history receives them
// once they reach a terminal status.
type HistoryStore interface {
	Insert(ctx context.Context, rec TxRecord) error
	GetByID(ctx context.Context, id string) (TxRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TxRecord, error)
	ListByFlow(ctx context.Context, flow FlowType, opts ListOpts) ([]TxRecord, error)
}

// AllowanceCache holds last-known allowance snapshots so transient RPC
// failures degrade to a stale read instead of an error surfaced to the user.
type AllowanceCache interface {
	Set(ctx context.Context, key string, amount string) error
	Get(ctx context.Context, key string) (string, error)
}

// LockManager serializes operations: at most one active flow per (account,
// flow type). Release must be safe to call after expiry.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RecordPublisher receives every tracking-store mutation. Consumers (progress
// UI, notifiers) are read-only; publishing failures must not affect the flow.
type RecordPublisher interface {
	Publish(ctx context.Context, rec TxRecord) error
}
