package quote

import (
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func catalogSource() *model.KnowledgeSource {
	return model.NewKnowledgeSource("catalog", 1, model.SourceCatalog,
		[]model.Product{
			{
				Family: "RoofPanel",
				Name:   "Roof panel EPS",
				Kind:   model.KindRoof,
				Variants: []model.ThicknessVariant{
					{ThicknessMM: 100, UnitPrice: dp("46.07"), Unit: model.PerSquareMeter, MaxSpan: dp("5.5"), Active: true},
					{ThicknessMM: 150, UnitPrice: dp("58.30"), Unit: model.PerSquareMeter, MaxSpan: dp("7.5"), Active: true},
					{ThicknessMM: 200, UnitPrice: dp("71.90"), Unit: model.PerSquareMeter, MaxSpan: dp("9.0"), Active: true},
					{ThicknessMM: 250, UnitPrice: dp("80.00"), Unit: model.PerSquareMeter},
				},
			},
			{
				Family: "WallPanel",
				Name:   "Wall panel EPS",
				Kind:   model.KindWall,
				Variants: []model.ThicknessVariant{
					{ThicknessMM: 50, UnitPrice: dp("33.10"), Unit: model.PerSquareMeter, MaxSpan: dp("3.5"), Active: true},
				},
			},
		},
		[]model.AccessoryItem{
			{SKU: "6842", Name: "Gotero frontal", Unit: model.PerPiece, UnitPrice: dp("20.77"), PieceLength: dp("3.0")},
			{SKU: "CUMB", Name: "Cumbrera", Unit: model.PerLinearMeter, UnitPrice: dp("12.10"), PieceLength: dp("3.0")},
			{SKU: "TORN", Name: "Tornillo autoperforante", Unit: model.PerPiece, UnitPrice: dp("0.35")},
			{SKU: "SIL-W", Name: "Silicona blanca", Unit: model.PerPiece, UnitPrice: dp("6.10"), Compat: model.Compatibility{Finishes: []string{"white"}}},
			{SKU: "SIL-G", Name: "Silicona gris", Unit: model.PerPiece, UnitPrice: dp("6.10"), Compat: model.Compatibility{Finishes: []string{"grey"}}},
			{SKU: "NOPRICE", Name: "Perfil a confirmar", Unit: model.PerPiece},
		},
		[]model.BomRule{
			{
				Preset:   "roof-standard",
				Families: []string{"RoofPanel"},
				Panel:    model.PanelFormula{ModuleDimension: model.DimWidth, ModuleWidth: d("1.12"), Factor: d("1")},
				Accessories: []model.DemandFormula{
					{SKU: "6842", Basis: model.BasisFixed, Factor: d("4"), Offset: decimal.Zero},
					{SKU: "CUMB", Basis: model.BasisLength, Factor: d("1"), Offset: decimal.Zero},
				},
				Fasteners: []model.DemandFormula{
					{SKU: "TORN", Basis: model.BasisPanelSupports, Factor: d("2"), Offset: decimal.Zero},
				},
			},
			{
				Preset:   "roof-sealed",
				Families: []string{"RoofPanel"},
				Panel:    model.PanelFormula{ModuleDimension: model.DimWidth, ModuleWidth: d("1.12"), Factor: d("1")},
				Accessories: []model.DemandFormula{{
					Basis:  model.BasisFixed,
					Factor: d("2"),
					Offset: decimal.Zero,
					SKUByFinish: &model.FinishChoice{
						Option: "color",
						SKUs:   map[string]string{"white": "SIL-W", "grey": "SIL-G"},
					},
				}},
			},
			{
				Preset:   "roof-pending",
				Families: []string{"RoofPanel"},
				Panel:    model.PanelFormula{ModuleDimension: model.DimWidth, ModuleWidth: d("1.12"), Factor: d("1")},
				Accessories: []model.DemandFormula{
					{SKU: "NOPRICE", Basis: model.BasisFixed, Factor: d("1"), Offset: decimal.Zero},
				},
			},
			{
				Preset:   "wall-standard",
				Families: []string{"WallPanel"},
				Panel:    model.PanelFormula{ModuleDimension: model.DimWidth, ModuleWidth: d("1"), Factor: d("1")},
				Accessories: []model.DemandFormula{
					{SKU: "9999", Basis: model.BasisPerimeter, Factor: d("1"), Offset: decimal.Zero},
				},
			},
		})
}

func newTestOrchestrator(t *testing.T, sources ...*model.KnowledgeSource) (*Orchestrator, *knowledge.Store) {
	t.Helper()
	engine, err := pricing.NewEngine(pricing.Rates{Currency: "USD", TaxRate: d("0.22"), TaxInclusive: true, MinorUnits: -1})
	require.NoError(t, err)

	store := knowledge.NewStore(nil, nil)
	store.Set(knowledge.NewSnapshot(append([]*model.KnowledgeSource{catalogSource()}, sources...)...))
	return NewOrchestrator(store, engine), store
}

func roofRequest(span string) model.QuoteRequest {
	return model.QuoteRequest{
		Family:        "RoofPanel",
		ThicknessMM:   100,
		CoveredLength: d("6"),
		CoveredWidth:  d("3.36"),
		RequestedSpan: d(span),
		Preset:        "roof-standard",
	}
}

func requireFailure(t *testing.T, err error, kind model.FailureKind) *model.Failure {
	t.Helper()
	require.Error(t, err)
	f, ok := model.AsFailure(err)
	require.True(t, ok, "expected *model.Failure, got %v", err)
	require.Equal(t, kind, f.Kind, f.Error())
	return f
}

func TestQuote_CompliantRoof(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	q, err := o.Quote(roofRequest("4.5"))
	require.NoError(t, err)

	assert.Equal(t, []model.State{
		model.StateReceived,
		model.StateSpecsResolved,
		model.StateSpanChecked,
		model.StateBomExpanded,
		model.StatePriced,
		model.StateCompleted,
	}, q.Trace)

	assert.True(t, q.Span.Compliant)
	assert.Equal(t, "1", q.Span.Margin.String())

	require.Len(t, q.Panels, 1)
	panel := q.Panels[0]
	assert.Equal(t, "RoofPanel-100", panel.Key)
	assert.Equal(t, "Roof panel EPS 100mm", panel.Name)
	assert.Equal(t, "46.07", panel.UnitPrice.String())
	assert.Equal(t, "20.16", panel.Quantity.String())
	assert.Equal(t, "928.77", panel.LineTotal.String())

	require.Len(t, q.Accessories, 2)
	assert.Equal(t, "6842", q.Accessories[0].Key)
	assert.Equal(t, "4", q.Accessories[0].Quantity.String())
	assert.Equal(t, "83.08", q.Accessories[0].LineTotal.String())
	assert.Equal(t, "72.6", q.Accessories[1].LineTotal.String())

	// 3 panels x 3 derived supports x 2 screws
	require.Len(t, q.Fasteners, 1)
	assert.Equal(t, "18", q.Fasteners[0].Quantity.String())
	assert.Equal(t, "6.3", q.Fasteners[0].LineTotal.String())

	lines := q.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "RoofPanel-100", lines[0].Key)
	assert.Equal(t, q.Fasteners[0].Key, lines[3].Key)

	assert.Equal(t, "1090.75", q.Totals.Subtotal.String())
	assert.Equal(t, "1090.75", q.Totals.GrandTotal.String())
	assert.True(t, q.Totals.NetAmount.Add(q.Totals.TaxAmount).Equal(q.Totals.GrandTotal))
	assert.Equal(t, "USD", q.Currency)
	assert.Empty(t, q.Conflicts)
	assert.NotNil(t, q.Conflicts)
	assert.Empty(t, q.Warnings)
}

func TestQuote_SpanExceeded(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	tests := []struct {
		name          string
		span          string
		wantSuggested int
		wantSupport   bool
	}{
		{name: "next tier covers", span: "7.0", wantSuggested: 150},
		{name: "thickest tier covers", span: "8.5", wantSuggested: 200},
		{name: "no tier covers", span: "9.5", wantSupport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := o.Quote(roofRequest(tt.span))
			assert.Nil(t, q)
			f := requireFailure(t, err, model.FailSpanExceeded)

			assert.Equal(t, model.StateSpecsResolved, f.State)
			assert.NotContains(t, f.Trace, model.StateBomExpanded)
			assert.Equal(t, model.StateFailed, f.Trace[len(f.Trace)-1])

			require.NotNil(t, f.Span)
			assert.False(t, f.Span.Compliant)
			assert.Equal(t, "5.5", f.Span.MaxSpan.String())

			if tt.wantSupport {
				assert.Nil(t, f.Suggestion)
				assert.True(t, f.Span.RequiresSupport)
				assert.Contains(t, f.Detail, "requires additional structural support")
				return
			}
			require.NotNil(t, f.Suggestion)
			assert.Equal(t, tt.wantSuggested, f.Suggestion.ThicknessMM)
		})
	}
}

func TestQuote_SpanOverride(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := roofRequest("7.0")
	req.SpanOverride = true
	q, err := o.Quote(req)
	require.NoError(t, err)

	assert.False(t, q.Span.Compliant)
	assert.True(t, q.Span.Overridden)
	require.Len(t, q.Warnings, 1)
	assert.Contains(t, q.Warnings[0], "span override")
	assert.Equal(t, model.StateCompleted, q.Trace[len(q.Trace)-1])
}

func TestQuote_MissingCatalogEntry(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	q, err := o.Quote(model.QuoteRequest{
		Family:        "WallPanel",
		ThicknessMM:   50,
		CoveredLength: d("3"),
		CoveredWidth:  d("3"),
		RequestedSpan: d("3"),
		Preset:        "wall-standard",
	})
	assert.Nil(t, q, "no partial quotation")
	f := requireFailure(t, err, model.FailMissingCatalogEntry)
	assert.Equal(t, "9999", f.Key)
	assert.Equal(t, model.StateSpanChecked, f.State)
}

func TestQuote_AmbiguousPrice(t *testing.T) {
	rival := model.NewKnowledgeSource("matrix", 1, model.SourceMatrix,
		[]model.Product{{
			Family:   "RoofPanel",
			Variants: []model.ThicknessVariant{{ThicknessMM: 100, UnitPrice: dp("47.00"), Unit: model.PerSquareMeter}},
		}}, nil, nil)
	o, _ := newTestOrchestrator(t, rival)

	_, err := o.Quote(roofRequest("4.5"))
	f := requireFailure(t, err, model.FailAmbiguousSource)
	assert.Equal(t, "price:RoofPanel-100", f.Key)
	assert.Equal(t, []model.SourceRef{{Name: "catalog", Level: 1}, {Name: "matrix", Level: 1}}, f.Sources)
	assert.Equal(t, model.StateBomExpanded, f.State)
}

func TestQuote_LowerLevelConflictIsWarning(t *testing.T) {
	web := model.NewKnowledgeSource("web", 3, model.SourceWebSnapshot,
		[]model.Product{{
			Family:   "RoofPanel",
			Variants: []model.ThicknessVariant{{ThicknessMM: 100, UnitPrice: dp("47.50"), Unit: model.PerSquareMeter}},
		}}, nil, nil)
	o, _ := newTestOrchestrator(t, web)

	q, err := o.Quote(roofRequest("4.5"))
	require.NoError(t, err)
	assert.Equal(t, "46.07", q.Panels[0].UnitPrice.String())
	require.Len(t, q.Conflicts, 1)
	assert.Equal(t, model.Conflict{
		Key:         "price:RoofPanel-100",
		Winner:      model.SourceRef{Name: "catalog", Level: 1},
		WinnerValue: "46.07",
		Other:       model.SourceRef{Name: "web", Level: 3},
		OtherValue:  "47.5",
	}, q.Conflicts[0])
}

func TestQuote_UnpricedItem(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := roofRequest("4.5")
	req.Preset = "roof-pending"
	q, err := o.Quote(req)
	assert.Nil(t, q)
	f := requireFailure(t, err, model.FailUnpricedItem)
	assert.Equal(t, "NOPRICE", f.Key)
	assert.Equal(t, model.StateBomExpanded, f.State)
}

func TestQuote_FinishSelectsSKU(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := roofRequest("4.5")
	req.Preset = "roof-sealed"
	req.Finish = map[string]string{"color": "grey"}
	q, err := o.Quote(req)
	require.NoError(t, err)
	require.Len(t, q.Accessories, 1)
	assert.Equal(t, "SIL-G", q.Accessories[0].Key)
	assert.Equal(t, "2", q.Accessories[0].Quantity.String())

	req.Finish = nil
	_, err = o.Quote(req)
	requireFailure(t, err, model.FailInvalidRule)
}

func TestQuote_LookupFailures(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	tests := []struct {
		name    string
		mutate  func(r *model.QuoteRequest)
		kind    model.FailureKind
		wantKey string
	}{
		{
			name:    "unknown family",
			mutate:  func(r *model.QuoteRequest) { r.Family = "FloorPanel" },
			kind:    model.FailNotFound,
			wantKey: "product:FloorPanel",
		},
		{
			name:    "unknown thickness",
			mutate:  func(r *model.QuoteRequest) { r.ThicknessMM = 120 },
			kind:    model.FailNotFound,
			wantKey: "variant:RoofPanel-120",
		},
		{
			name:    "inactive thickness",
			mutate:  func(r *model.QuoteRequest) { r.ThicknessMM = 250 },
			kind:    model.FailNotFound,
			wantKey: "variant:RoofPanel-250",
		},
		{
			name:    "unknown preset",
			mutate:  func(r *model.QuoteRequest) { r.Preset = "floor" },
			kind:    model.FailNotFound,
			wantKey: "bom_rule:floor",
		},
		{
			name:    "preset for another family",
			mutate:  func(r *model.QuoteRequest) { r.Preset = "wall-standard" },
			kind:    model.FailInvalidRule,
			wantKey: "bom_rule:wall-standard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := roofRequest("4.5")
			tt.mutate(&req)
			_, err := o.Quote(req)
			f := requireFailure(t, err, tt.kind)
			assert.Equal(t, tt.wantKey, f.Key)
			assert.Equal(t, model.StateFailed, f.Trace[len(f.Trace)-1])
		})
	}
}

func TestQuote_Idempotent(t *testing.T) {
	o, store := newTestOrchestrator(t)
	req := roofRequest("4.5")
	req.Finish = map[string]string{"color": "white", "edge": "straight"}

	first, err := o.Quote(req)
	require.NoError(t, err)
	second, err := o.Quote(req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, store.Snapshot().Version(), first.SnapshotVersion)

	other := roofRequest("4.6")
	third, err := o.Quote(other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestQuote_InvalidRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Quote(model.QuoteRequest{Family: "RoofPanel"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidRequest))
	assert.Contains(t, err.Error(), "thickness_mm must be positive")
	assert.Equal(t, "invalid_request", Outcome(err))
}

func TestQuote_NoSnapshot(t *testing.T) {
	engine, err := pricing.NewEngine(pricing.DefaultRates())
	require.NoError(t, err)
	o := NewOrchestrator(knowledge.NewStore(nil, nil), engine)

	_, err = o.Quote(roofRequest("4.5"))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "completed", Outcome(nil))
	assert.Equal(t, "span_exceeded", Outcome(eris.Wrap(model.NewFailure(model.FailSpanExceeded, "k", "x"), "ctx")))
	assert.Equal(t, "error", Outcome(eris.New("boom")))
}

func TestQuotationID_Stable(t *testing.T) {
	t.Parallel()

	a, err := QuotationID(roofRequest("4.5"), "v1")
	require.NoError(t, err)
	b, err := QuotationID(roofRequest("4.5"), "v1")
	require.NoError(t, err)
	c, err := QuotationID(roofRequest("4.5"), "v2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
