package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zlp/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.AppendEvent(ctx, e); err != nil {
		return err
	}
	keys := []string{accountEventsKey(e.Account)}
	if lender := e.Data["lender"]; lender != "" {
		keys = append(keys, accountEventsKey(lender))
	}
	s.rdb.Del(ctx, keys...)
	return nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.PoolSnapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestSnapshotKey, data, s.ttl)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestSnapshot(ctx context.Context) (*model.PoolSnapshot, error) {
	data, err := s.rdb.Get(ctx, latestSnapshotKey).Bytes()
	if err == nil {
		var snap model.PoolSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestSnapshotKey, data, s.ttl)
	}
	return snap, nil
}

func (s *CachedStore) GetEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	data, err := s.rdb.Get(ctx, accountEventsKey(account)).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	// Cache miss.
	events, err := s.primary.GetEventsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, accountEventsKey(account), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, limit)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, limit int) ([]model.PoolSnapshot, error) {
	return s.primary.ListSnapshots(ctx, limit)
}

// --- Cache helpers ---

const latestSnapshotKey = "zlp:snapshot:latest"

func accountEventsKey(account string) string {
	return fmt.Sprintf("zlp:events:%s", strings.ToLower(account))
}
