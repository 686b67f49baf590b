// Package store defines the persistence interface for the pool engine's
// event journal and state snapshots. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for testing).
//
// The pool itself is authoritative for reserves, shares and loans; the store
// keeps an append-only history of what happened to it.
package store

import (
	"context"
	"errors"

	"github.com/zlp/pool-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Event journal (immutable) ---

	// AppendEvent appends an immutable pool event.
	AppendEvent(ctx context.Context, event *model.Event) error

	// ListEvents returns the most recent events, newest first. limit <= 0
	// returns all of them.
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	// GetEventsByAccount returns all events raised by an account, oldest first.
	GetEventsByAccount(ctx context.Context, account string) ([]model.Event, error)

	// --- Snapshots ---

	// SaveSnapshot records the pool's aggregate state after a mutation.
	SaveSnapshot(ctx context.Context, snap *model.PoolSnapshot) error

	// LatestSnapshot returns the most recent snapshot or ErrNotFound.
	LatestSnapshot(ctx context.Context) (*model.PoolSnapshot, error)

	// ListSnapshots returns the most recent snapshots, newest first.
	ListSnapshots(ctx context.Context, limit int) ([]model.PoolSnapshot, error)
}
