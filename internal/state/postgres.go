package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"lp-range-alerts/internal/config"
)

const (
	createStateTableSQL = `CREATE TABLE IF NOT EXISTS monitor_state (
        id         smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
        doc        jsonb NOT NULL,
        updated_at timestamptz NOT NULL DEFAULT now()
    );`

	selectStateSQL = `SELECT doc FROM monitor_state WHERE id = 1;`

	upsertStateSQL = `INSERT INTO monitor_state (id, doc, updated_at)
    VALUES (1, $1, now())
    ON CONFLICT (id) DO UPDATE
    SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at;`

	trySweepLockSQL = `SELECT pg_try_advisory_lock($1);`
	sweepUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PgStore keeps the state document in a single-row jsonb table, replaced
// wholesale on every save. Its advisory lock serialises sweeps across
// processes, closing the lost-update window the file backend accepts.
type PgStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPgStore wires a pgx pool into a store and ensures the schema exists.
func NewPgStore(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) (*PgStore, error) {
	s := &PgStore{
		pool:   pool,
		logger: logger.With().Str("component", "state_postgres").Logger(),
	}
	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return s, nil
}

// Load reads the stored document. A missing row or undecodable payload
// yields an empty document.
func (s *PgStore) Load(ctx context.Context) (*Document, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var raw []byte
	if err := pool.QueryRow(ctx, selectStateSQL).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("load state document: %w", err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		s.logger.Warn().Err(err).Msg("stored state document corrupt, starting empty")
		return NewDocument(), nil
	}
	return doc, nil
}

// Save replaces the stored document.
func (s *PgStore) Save(ctx context.Context, doc *Document) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}

	if _, err := pool.Exec(ctx, upsertStateSQL, raw); err != nil {
		return fmt.Errorf("save state document: %w", err)
	}
	return nil
}

// TrySweepLock attempts to take the advisory sweep lock and returns a
// release func. acquired=false means another sweep holds it.
func (s *PgStore) TrySweepLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, trySweepLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try sweep lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, sweepUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Msg("sweep lock release failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// Close releases the underlying pool resources.
func (s *PgStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PgStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var (
	_ Store       = (*PgStore)(nil)
	_ SweepLocker = (*PgStore)(nil)
)
