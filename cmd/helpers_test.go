package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/panel-quote/internal/config"
	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/model"
)

// useTestConfig points the global config at the testdata sources and a
// throwaway SQLite file.
func useTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		Knowledge: config.KnowledgeConfig{
			StrictReferences: true,
			Sources: []knowledge.SourceSpec{
				{Name: "catalog", Level: 1, Kind: model.SourceCatalog, Location: filepath.Join("testdata", "catalog.yaml")},
				{Name: "web", Level: 3, Kind: model.SourceWebSnapshot, Location: filepath.Join("testdata", "web.json")},
			},
		},
		Pricing: config.PricingConfig{Currency: "UYU", TaxRate: "0.22", TaxInclusive: true, MinorUnits: -1},
		Fetch:   config.FetchConfig{TimeoutSecs: 5, MaxRetries: 1, RatePerSec: 100},
		Store:   config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "quotes.db")},
		Server:  config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		Log:     config.LogConfig{Level: "error", Format: "json"},
	}
}

// newTestAPI wires the knowledge store, orchestrator and quotation log the
// way serve does.
func newTestAPI(t *testing.T, persist bool) *api {
	t.Helper()
	useTestConfig(t)
	ctx := context.Background()

	kb, err := initKnowledge(ctx)
	require.NoError(t, err)
	orch, err := newOrchestrator(kb)
	require.NoError(t, err)

	a := &api{kb: kb, orch: orch}
	if persist {
		st, err := initStore(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() }) //nolint:errcheck
		a.quotes = st
	}
	return a
}
