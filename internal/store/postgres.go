package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/panel-quote/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS quotations (
	id               TEXT PRIMARY KEY,
	snapshot_version TEXT NOT NULL,
	family           TEXT NOT NULL,
	thickness_mm     INTEGER NOT NULL,
	preset           TEXT NOT NULL,
	currency         TEXT NOT NULL,
	grand_total      NUMERIC(18,4) NOT NULL,
	body             JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quotations_family ON quotations(family);
CREATE INDEX IF NOT EXISTS idx_quotations_preset ON quotations(preset);
CREATE INDEX IF NOT EXISTS idx_quotations_created_at ON quotations(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveQuote(ctx context.Context, q *model.Quotation) (*QuoteRecord, error) {
	rec, body, err := newRecord(q)
	if err != nil {
		return nil, err
	}

	// The no-op update makes RETURNING yield the stored row on conflict.
	err = s.pool.QueryRow(ctx,
		`INSERT INTO quotations (id, snapshot_version, family, thickness_mm, preset, currency, grand_total, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING created_at`,
		rec.ID, rec.SnapshotVersion, rec.Family, rec.ThicknessMM, rec.Preset, rec.Currency,
		rec.GrandTotal.String(), body, time.Now().UTC(),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert quotation %s", rec.ID)
	}
	return rec, nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*QuoteRecord, error) {
	var rec QuoteRecord
	var total string
	var body []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, snapshot_version, family, thickness_mm, preset, currency, grand_total::text, created_at, body
		 FROM quotations WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.SnapshotVersion, &rec.Family, &rec.ThicknessMM, &rec.Preset, &rec.Currency, &total, &rec.CreatedAt, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get quotation %s", id)
	}

	if rec.GrandTotal, err = decimal.NewFromString(total); err != nil {
		return nil, eris.Wrapf(err, "postgres: parse grand total of %s", id)
	}
	if err := decodeBody(&rec, body); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context, filter QuoteFilter) ([]QuoteRecord, error) {
	query := `SELECT id, snapshot_version, family, thickness_mm, preset, currency, grand_total::text, created_at
		FROM quotations WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Family != "" {
		query += fmt.Sprintf(` AND family = $%d`, argIdx)
		args = append(args, filter.Family)
		argIdx++
	}
	if filter.Preset != "" {
		query += fmt.Sprintf(` AND preset = $%d`, argIdx)
		args = append(args, filter.Preset)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotations")
	}
	defer rows.Close()

	out := []QuoteRecord{}
	for rows.Next() {
		var rec QuoteRecord
		var total string
		if err := rows.Scan(&rec.ID, &rec.SnapshotVersion, &rec.Family, &rec.ThicknessMM, &rec.Preset, &rec.Currency, &total, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quotation")
		}
		if rec.GrandTotal, err = decimal.NewFromString(total); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse grand total of %s", rec.ID)
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate quotations")
}
