package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/store"
)

const compliantRequest = `{
	"product_id": "RoofPanel",
	"thickness_mm": 100,
	"covered_length_m": "6",
	"covered_width_m": "3.36",
	"requested_span_m": "4.5",
	"bom_preset": "roof-standard"
}`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body apiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestAPI_Health(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})

	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, a.kb.Snapshot().Version(), body["snapshot_version"])
}

func TestAPI_Health_Loading(t *testing.T) {
	a := &api{kb: knowledge.NewStore(nil, nil)}
	rr := do(t, buildRouter(a, routerOptions{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "loading")
}

func TestAPI_CreateQuote(t *testing.T) {
	a := newTestAPI(t, true)
	h := buildRouter(a, routerOptions{})

	rr := do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var q model.Quotation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &q))
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "UYU", q.Currency)
	require.Len(t, q.Panels, 1)
	assert.Equal(t, "928.77", q.Panels[0].LineTotal.StringFixed(2))
	assert.Equal(t, model.SourceRef{Name: "catalog", Level: 1}, q.Panels[0].Source)
	require.Len(t, q.Conflicts, 1)
	assert.Equal(t, "price:RoofPanel-100", q.Conflicts[0].Key)
	assert.Equal(t, "web", q.Conflicts[0].Other.Name)

	// The quotation was logged and can be fetched back.
	rr = do(t, h, http.MethodGet, "/v1/quotes/"+q.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec store.QuoteRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, q.ID, rec.ID)
	assert.Equal(t, "RoofPanel", rec.Family)
	require.NotNil(t, rec.Quotation)
	assert.True(t, q.Totals.GrandTotal.Equal(rec.GrandTotal))
}

func TestAPI_CreateQuote_Idempotent(t *testing.T) {
	a := newTestAPI(t, true)
	h := buildRouter(a, routerOptions{})

	first := do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)
	second := do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	rr := do(t, h, http.MethodGet, "/v1/quotes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Quotes []store.QuoteRecord `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Quotes, 1)
}

func TestAPI_CreateQuote_Failures(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{
			name:     "invalid json",
			body:     "not json",
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name:     "missing fields",
			body:     `{"product_id": "RoofPanel"}`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name: "unknown family",
			body: `{"product_id": "FloorPanel", "thickness_mm": 100, "covered_length_m": "6",
				"covered_width_m": "3.36", "requested_span_m": "4.5", "bom_preset": "roof-standard"}`,
			wantCode: http.StatusNotFound,
			wantKind: string(model.FailNotFound),
		},
		{
			name: "span exceeded",
			body: `{"product_id": "RoofPanel", "thickness_mm": 100, "covered_length_m": "6",
				"covered_width_m": "3.36", "requested_span_m": "7.0", "bom_preset": "roof-standard"}`,
			wantCode: http.StatusUnprocessableEntity,
			wantKind: string(model.FailSpanExceeded),
		},
		{
			name: "unknown preset",
			body: `{"product_id": "RoofPanel", "thickness_mm": 100, "covered_length_m": "6",
				"covered_width_m": "3.36", "requested_span_m": "4.5", "bom_preset": "wall-standard"}`,
			wantCode: http.StatusNotFound,
			wantKind: string(model.FailNotFound),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/quotes", tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantKind, decodeError(t, rr).Kind)
		})
	}
}

func TestAPI_SpanExceeded_CarriesSuggestion(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})

	rr := do(t, h, http.MethodPost, "/v1/quotes", `{"product_id": "RoofPanel", "thickness_mm": 100,
		"covered_length_m": "6", "covered_width_m": "3.36", "requested_span_m": "7.0", "bom_preset": "roof-standard"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	body := decodeError(t, rr)
	require.NotNil(t, body.Failure)
	require.NotNil(t, body.Failure.Suggestion)
	assert.Equal(t, 150, body.Failure.Suggestion.ThicknessMM)
	assert.Equal(t, model.StateSpecsResolved, body.Failure.State)
}

func TestAPI_NoSnapshot(t *testing.T) {
	useTestConfig(t)
	kb := knowledge.NewStore(nil, nil)
	orch, err := newOrchestrator(kb)
	require.NoError(t, err)
	h := buildRouter(&api{kb: kb, orch: orch}, routerOptions{})

	rr := do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "unavailable", decodeError(t, rr).Kind)

	rr = do(t, h, http.MethodGet, "/v1/knowledge", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPI_QuoteLogDisabled(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})

	for _, path := range []string{"/v1/quotes", "/v1/quotes/abc"} {
		rr := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}

	// Quoting still works without a log.
	rr := do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPI_GetQuote_NotFound(t *testing.T) {
	a := newTestAPI(t, true)
	rr := do(t, buildRouter(a, routerOptions{}), http.MethodGet, "/v1/quotes/missing", "")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(model.FailNotFound), decodeError(t, rr).Kind)
}

func TestAPI_ListQuotes_BadPaging(t *testing.T) {
	a := newTestAPI(t, true)
	h := buildRouter(a, routerOptions{})

	for _, q := range []string{"limit=abc", "offset=-1"} {
		rr := do(t, h, http.MethodGet, "/v1/quotes?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}

	rr := do(t, h, http.MethodGet, "/v1/quotes?product_id=RoofPanel&limit=5", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"quotes": []}`, rr.Body.String())
}

func TestAPI_KnowledgeReport(t *testing.T) {
	a := newTestAPI(t, false)
	rr := do(t, buildRouter(a, routerOptions{}), http.MethodGet, "/v1/knowledge", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var report knowledge.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, a.kb.Snapshot().Version(), report.Version)
	assert.Len(t, report.Sources, 2)
	assert.True(t, report.OK())
}

func TestAPI_RefreshKnowledge(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})
	version := a.kb.Snapshot().Version()

	rr := do(t, h, http.MethodPost, "/v1/knowledge/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Version string `json:"version"`
		Changed bool   `json:"changed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, version, body.Version)
	assert.False(t, body.Changed)
}

func TestAPI_RefreshKnowledge_FailureKeepsSnapshot(t *testing.T) {
	a := newTestAPI(t, false)
	version := a.kb.Snapshot().Version()

	broken := knowledge.NewStore(cfg.Loader(), []knowledge.SourceSpec{
		{Name: "catalog", Level: 1, Location: "testdata/missing.yaml"},
	})
	broken.Set(a.kb.Snapshot())
	a.kb = broken

	rr := do(t, buildRouter(a, routerOptions{}), http.MethodPost, "/v1/knowledge/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "refresh_failed", decodeError(t, rr).Kind)
	assert.Equal(t, version, a.kb.Snapshot().Version())
}

func TestAPI_Metrics(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{})
	do(t, h, http.MethodPost, "/v1/quotes", compliantRequest)

	rr := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "panelquote_quotes_total")
}

func TestAPI_RateLimit(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{RateLimit: 1})

	first := do(t, h, http.MethodGet, "/v1/knowledge", "")
	second := do(t, h, http.MethodGet, "/v1/knowledge", "")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Health is outside /v1 and never limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestAPI_CORS(t *testing.T) {
	a := newTestAPI(t, false)
	h := buildRouter(a, routerOptions{CORSOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/quotes", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind model.FailureKind
		want int
	}{
		{model.FailNotFound, http.StatusNotFound},
		{model.FailMissingCatalogEntry, http.StatusNotFound},
		{model.FailAmbiguousSource, http.StatusConflict},
		{model.FailSpanExceeded, http.StatusUnprocessableEntity},
		{model.FailUnpricedItem, http.StatusUnprocessableEntity},
		{model.FailInvalidRule, http.StatusUnprocessableEntity},
		{"other", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForKind(tt.kind), tt.kind)
	}
}
