package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/pricing"
	"github.com/sells-group/panel-quote/internal/quote"
	"github.com/sells-group/panel-quote/internal/store"
)

// initStore opens and migrates the quotation log.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initKnowledge loads every configured source into a fresh store.
func initKnowledge(ctx context.Context) (*knowledge.Store, error) {
	kb := knowledge.NewStore(cfg.Loader(), cfg.Knowledge.Sources)
	if _, err := kb.Refresh(ctx); err != nil {
		return nil, eris.Wrap(err, "load knowledge")
	}
	return kb, nil
}

// newOrchestrator builds the quote orchestrator over kb using the
// configured currency and tax.
func newOrchestrator(kb quote.SnapshotProvider) (*quote.Orchestrator, error) {
	rates, err := cfg.Rates()
	if err != nil {
		return nil, err
	}
	engine, err := pricing.NewEngine(rates)
	if err != nil {
		return nil, err
	}
	return quote.NewOrchestrator(kb, engine), nil
}
