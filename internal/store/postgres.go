package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zlp/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Reserve and share amounts are stored as NUMERIC so 256-bit values keep
// every digit.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	id        UUID PRIMARY KEY,
	seq       BIGSERIAL UNIQUE,
	kind      TEXT NOT NULL,
	account   TEXT NOT NULL,
	height    BIGINT NOT NULL,
	data      JSONB NOT NULL DEFAULT '{}',
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pool_events_account_idx ON pool_events (lower(account));

CREATE TABLE IF NOT EXISTS pool_snapshots (
	id                UUID PRIMARY KEY,
	seq               BIGSERIAL UNIQUE,
	height            BIGINT NOT NULL,
	phase             TEXT NOT NULL,
	collateral_supply NUMERIC NOT NULL,
	borrow_supply     NUMERIC NOT NULL,
	total_shares      NUMERIC NOT NULL,
	amm_initialized   BOOLEAN NOT NULL,
	amm_constant      NUMERIC NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL
);`

// EnsureSchema creates the journal tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pool_events (id, kind, account, height, data, timestamp)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6)`,
		e.ID, string(e.Kind), e.Account, int64(e.Height), string(data), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, account, height, data::TEXT, timestamp
		 FROM pool_events ORDER BY seq DESC
		 LIMIT NULLIF($1, -1)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, kind, account, height, data::TEXT, timestamp
		 FROM pool_events
		 WHERE lower(account) = lower($1) OR lower(data->>'lender') = lower($1)
		 ORDER BY seq`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.PoolSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_snapshots (id, height, phase, collateral_supply, borrow_supply,
		                             total_shares, amm_initialized, amm_constant, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9)`,
		snap.ID, int64(snap.Height), snap.Phase,
		snap.CollateralSupply, snap.BorrowSupply, snap.TotalShares,
		snap.AMMInitialized, snap.AMMConstant, snap.Timestamp,
	)
	return err
}

const snapshotColumns = `id::TEXT, height, phase,
		        collateral_supply::TEXT, borrow_supply::TEXT, total_shares::TEXT,
		        amm_initialized, amm_constant::TEXT, timestamp`

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.PoolSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM pool_snapshots ORDER BY seq DESC LIMIT 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, limit int) ([]model.PoolSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM pool_snapshots ORDER BY seq DESC
		 LIMIT NULLIF($1, -1)`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PoolSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kind, data string
		var height int64

		if err := rows.Scan(&e.ID, &kind, &e.Account, &height, &data, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		e.Height = uint64(height)
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanSnapshot(row scanner) (*model.PoolSnapshot, error) {
	var snap model.PoolSnapshot
	var height int64
	if err := row.Scan(&snap.ID, &height, &snap.Phase,
		&snap.CollateralSupply, &snap.BorrowSupply, &snap.TotalShares,
		&snap.AMMInitialized, &snap.AMMConstant, &snap.Timestamp); err != nil {
		return nil, err
	}
	snap.Height = uint64(height)
	return &snap, nil
}
