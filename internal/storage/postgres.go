package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pacebot/pkg/logx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS queue_snapshot (
	name       TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// Snapshots are written by one loop per queue; a few connections are plenty.
	pc.MaxConns = 4
	pc.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres snapshot store ready")
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) LoadSnapshot(ctx context.Context, name string) ([]Record, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body::text FROM queue_snapshot WHERE name = $1`, snapshotKey(name)).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(body)
}

func (s *postgresStore) SaveSnapshot(ctx context.Context, name string, recs []Record) error {
	b, err := encodeSnapshot(recs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO queue_snapshot(name, body, updated_at) VALUES($1, $2::jsonb, now())
		 ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		snapshotKey(name), string(b),
	)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
