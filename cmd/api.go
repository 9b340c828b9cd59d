package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/quote"
	"github.com/sells-group/panel-quote/internal/store"
)

// api serves quotes over HTTP. quotes may be nil, in which case quotations
// are not persisted and the log endpoints answer 503.
type api struct {
	kb     *knowledge.Store
	orch   *quote.Orchestrator
	quotes store.Store
}

type routerOptions struct {
	CORSOrigins []string
	// RateLimit is requests per minute per IP on /v1; zero disables.
	RateLimit int
}

func buildRouter(a *api, opts routerOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
		}
		r.Post("/quotes", a.createQuote)
		r.Get("/quotes", a.listQuotes)
		r.Get("/quotes/{id}", a.getQuote)
		r.Get("/knowledge", a.knowledgeReport)
		r.Post("/knowledge/refresh", a.refreshKnowledge)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info(fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status_code", ww.Status()),
			zap.Int("response_size", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if snap := a.kb.Snapshot(); snap != nil {
		body["snapshot_version"] = snap.Version()
	} else {
		body["status"] = "loading"
	}
	respondJSON(w, http.StatusOK, body)
}

func (a *api) createQuote(w http.ResponseWriter, r *http.Request) {
	var req model.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errorBody("invalid request body", "invalid_request", nil))
		return
	}

	q, err := a.orch.Quote(req)
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	if a.quotes != nil {
		if _, err := a.quotes.SaveQuote(r.Context(), q); err != nil {
			// The quotation is still valid; only the log write failed.
			zap.L().Error("api: save quotation", zap.String("id", q.ID), zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, q)
}

func (a *api) listQuotes(w http.ResponseWriter, r *http.Request) {
	if a.quotes == nil {
		respondError(w, http.StatusServiceUnavailable, errorBody("quotation log disabled", "unavailable", nil))
		return
	}

	filter := store.QuoteFilter{
		Family: r.URL.Query().Get("product_id"),
		Preset: r.URL.Query().Get("bom_preset"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, errorBody(name+" must be a non-negative integer", "invalid_request", nil))
			return
		}
		*dst = n
	}

	recs, err := a.quotes.ListQuotes(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list quotations", zap.Error(err))
		respondError(w, http.StatusInternalServerError, errorBody("list quotations failed", "internal", nil))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"quotes": recs})
}

func (a *api) getQuote(w http.ResponseWriter, r *http.Request) {
	if a.quotes == nil {
		respondError(w, http.StatusServiceUnavailable, errorBody("quotation log disabled", "unavailable", nil))
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := a.quotes.GetQuote(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, errorBody("quotation "+id+" not found", string(model.FailNotFound), nil))
		return
	}
	if err != nil {
		zap.L().Error("api: get quotation", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, errorBody("get quotation failed", "internal", nil))
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (a *api) knowledgeReport(w http.ResponseWriter, _ *http.Request) {
	snap := a.kb.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, errorBody("no knowledge snapshot loaded", "unavailable", nil))
		return
	}
	respondJSON(w, http.StatusOK, knowledge.Audit(snap))
}

func (a *api) refreshKnowledge(w http.ResponseWriter, r *http.Request) {
	before := a.kb.Snapshot()
	snap, err := a.kb.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, errorBody(err.Error(), "refresh_failed", nil))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"version": snap.Version(),
		"changed": before == nil || before.Version() != snap.Version(),
	})
}

// apiError is the JSON body of every error response. Kind is a failure
// kind, or one of invalid_request, unavailable, refresh_failed, internal.
type apiError struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind"`
	Failure *model.Failure `json:"failure,omitempty"`
}

func errorBody(msg, kind string, f *model.Failure) apiError {
	return apiError{Error: msg, Kind: kind, Failure: f}
}

// statusForKind maps a failure kind to its HTTP status.
func statusForKind(kind model.FailureKind) int {
	switch kind {
	case model.FailNotFound, model.FailMissingCatalogEntry:
		return http.StatusNotFound
	case model.FailAmbiguousSource:
		return http.StatusConflict
	case model.FailSpanExceeded, model.FailUnpricedItem, model.FailInvalidRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeQuoteError(w http.ResponseWriter, err error) {
	if f, ok := model.AsFailure(err); ok {
		respondError(w, statusForKind(f.Kind), errorBody(f.Error(), string(f.Kind), f))
		return
	}
	switch {
	case eris.Is(err, quote.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, errorBody(err.Error(), "invalid_request", nil))
	case eris.Is(err, quote.ErrNoSnapshot):
		respondError(w, http.StatusServiceUnavailable, errorBody(err.Error(), "unavailable", nil))
	default:
		zap.L().Error("api: quote", zap.Error(err))
		respondError(w, http.StatusInternalServerError, errorBody("quote failed", "internal", nil))
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, body apiError) {
	respondJSON(w, status, body)
}
