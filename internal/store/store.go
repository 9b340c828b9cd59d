// Package store persists issued quotations.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/panel-quote/internal/model"
)

// ErrNotFound is returned when a quotation ID is unknown.
var ErrNotFound = eris.New("store: quotation not found")

// QuoteRecord is a stored quotation with its indexed columns.
type QuoteRecord struct {
	ID              string           `json:"id"`
	SnapshotVersion string           `json:"snapshot_version"`
	Family          string           `json:"product_id"`
	ThicknessMM     int              `json:"thickness_mm"`
	Preset          string           `json:"bom_preset"`
	Currency        string           `json:"currency"`
	GrandTotal      decimal.Decimal  `json:"grand_total"`
	CreatedAt       time.Time        `json:"created_at"`
	Quotation       *model.Quotation `json:"quotation,omitempty"`
}

// QuoteFilter specifies criteria for listing quotations.
type QuoteFilter struct {
	Family string `json:"product_id,omitempty"`
	Preset string `json:"bom_preset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func (f QuoteFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for issued quotations.
type Store interface {
	// SaveQuote stores a quotation. Quotation IDs are deterministic, so
	// saving the same quotation twice keeps the first record.
	SaveQuote(ctx context.Context, q *model.Quotation) (*QuoteRecord, error)
	GetQuote(ctx context.Context, id string) (*QuoteRecord, error)
	// ListQuotes returns records newest first, without the quotation body.
	ListQuotes(ctx context.Context, filter QuoteFilter) ([]QuoteRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend: "sqlite" with a file path, or
// "postgres" with a connection string.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func newRecord(q *model.Quotation) (*QuoteRecord, []byte, error) {
	if q == nil || q.ID == "" {
		return nil, nil, eris.New("store: quotation has no id")
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal quotation")
	}
	return &QuoteRecord{
		ID:              q.ID,
		SnapshotVersion: q.SnapshotVersion,
		Family:          q.Request.Family,
		ThicknessMM:     q.Request.ThicknessMM,
		Preset:          q.Request.Preset,
		Currency:        q.Currency,
		GrandTotal:      q.Totals.GrandTotal,
		Quotation:       q,
	}, body, nil
}

func decodeBody(rec *QuoteRecord, body []byte) error {
	rec.Quotation = &model.Quotation{}
	if err := json.Unmarshal(body, rec.Quotation); err != nil {
		return eris.Wrapf(err, "store: unmarshal quotation %s", rec.ID)
	}
	return nil
}
