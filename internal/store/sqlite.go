package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/panel-quote/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS quotations (
	id               TEXT PRIMARY KEY,
	snapshot_version TEXT NOT NULL,
	family           TEXT NOT NULL,
	thickness_mm     INTEGER NOT NULL,
	preset           TEXT NOT NULL,
	currency         TEXT NOT NULL,
	grand_total      TEXT NOT NULL,
	body             TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_quotations_family ON quotations(family);
CREATE INDEX IF NOT EXISTS idx_quotations_preset ON quotations(preset);
CREATE INDEX IF NOT EXISTS idx_quotations_created_at ON quotations(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveQuote(ctx context.Context, q *model.Quotation) (*QuoteRecord, error) {
	rec, body, err := newRecord(q)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quotations (id, snapshot_version, family, thickness_mm, preset, currency, grand_total, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.SnapshotVersion, rec.Family, rec.ThicknessMM, rec.Preset, rec.Currency,
		rec.GrandTotal.String(), string(body), time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert quotation %s", rec.ID)
	}
	return s.GetQuote(ctx, rec.ID)
}

func (s *SQLiteStore) GetQuote(ctx context.Context, id string) (*QuoteRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, snapshot_version, family, thickness_mm, preset, currency, grand_total, created_at, body
		 FROM quotations WHERE id = ?`,
		id,
	)

	var body string
	rec, err := scanRecord(row, &body)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(rec, []byte(body)); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, filter QuoteFilter) ([]QuoteRecord, error) {
	query := `SELECT id, snapshot_version, family, thickness_mm, preset, currency, grand_total, created_at
		FROM quotations WHERE 1=1`
	var args []any

	if filter.Family != "" {
		query += ` AND family = ?`
		args = append(args, filter.Family)
	}
	if filter.Preset != "" {
		query += ` AND preset = ?`
		args = append(args, filter.Preset)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotations")
	}
	defer rows.Close() //nolint:errcheck

	out := []QuoteRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate quotations")
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRecord reads the indexed columns, plus the body when body is non-nil.
func scanRecord(row scannable, body *string) (*QuoteRecord, error) {
	var rec QuoteRecord
	var total string
	dest := []any{&rec.ID, &rec.SnapshotVersion, &rec.Family, &rec.ThicknessMM, &rec.Preset, &rec.Currency, &total, &rec.CreatedAt}
	if body != nil {
		dest = append(dest, body)
	}

	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan quotation")
	}

	rec.GrandTotal, err = decimal.NewFromString(total)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse grand total of %s", rec.ID)
	}
	return &rec, nil
}
