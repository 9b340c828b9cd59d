// Package quote sequences resolution, span validation, BOM expansion and
// pricing into a quotation.
package quote

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/bom"
	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/metrics"
	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/pricing"
	"github.com/sells-group/panel-quote/internal/resolve"
	"github.com/sells-group/panel-quote/internal/span"
)

// idNamespace scopes quotation IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("panel-quote/quotation"))

// ErrNoSnapshot is returned when no knowledge snapshot has been loaded yet.
var ErrNoSnapshot = eris.New("quote: no knowledge snapshot loaded")

// SnapshotProvider hands out the current knowledge snapshot.
type SnapshotProvider interface {
	Snapshot() *knowledge.Snapshot
}

// Orchestrator runs the quotation state machine.
type Orchestrator struct {
	snapshots SnapshotProvider
	engine    *pricing.Engine
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(snapshots SnapshotProvider, engine *pricing.Engine) *Orchestrator {
	return &Orchestrator{snapshots: snapshots, engine: engine}
}

// run tracks the states a single request passes through.
type run struct {
	trace []model.State
}

func (r *run) enter(s model.State) {
	r.trace = append(r.trace, s)
}

func (r *run) current() model.State {
	return r.trace[len(r.trace)-1]
}

// fail stamps a domain failure with the state reached and the trace.
func (r *run) fail(err error) error {
	f, ok := model.AsFailure(err)
	if !ok {
		return err
	}
	f.State = r.current()
	f.Trace = append(append([]model.State(nil), r.trace...), model.StateFailed)
	return f
}

// Quote captures the current snapshot and quotes against it.
func (o *Orchestrator) Quote(req model.QuoteRequest) (*model.Quotation, error) {
	snap := o.snapshots.Snapshot()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return o.QuoteWith(snap, req)
}

// QuoteWith quotes against the given snapshot. Every step is pure; the
// first failure ends the request and is returned as a *model.Failure.
func (o *Orchestrator) QuoteWith(snap *knowledge.Snapshot, req model.QuoteRequest) (*model.Quotation, error) {
	timer := metrics.NewTimer()
	q, err := o.quote(snap, req)
	metrics.RecordQuote(Outcome(err), timer.Duration())
	if q != nil {
		for _, c := range q.Conflicts {
			metrics.RecordConflict(c.Winner.String(), c.Other.String())
		}
	}
	return q, err
}

// Outcome labels a quote result: "completed", a failure kind, or
// "invalid_request" / "error".
func Outcome(err error) string {
	if err == nil {
		return string(model.StateCompleted)
	}
	if f, ok := model.AsFailure(err); ok {
		return string(f.Kind)
	}
	if eris.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return "error"
}

func (o *Orchestrator) quote(snap *knowledge.Snapshot, req model.QuoteRequest) (*model.Quotation, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	rec := &resolve.Recorder{}
	r := snap.Resolver().Recording(rec)
	st := &run{}
	st.enter(model.StateReceived)

	log := zap.L().With(
		zap.String("family", req.Family),
		zap.Int("thickness_mm", req.ThicknessMM),
		zap.String("preset", req.Preset),
	)

	// Received -> SpecsResolved
	if _, err := r.Product(req.Family); err != nil {
		return nil, st.fail(err)
	}
	variant, err := r.Variant(req.Family, req.ThicknessMM)
	if err != nil {
		return nil, st.fail(err)
	}
	if !variant.Value.Active {
		return nil, st.fail(model.NewFailure(model.FailNotFound, resolve.VariantKey(req.Family, req.ThicknessMM),
			"variant is not active in %s", variant.Winner))
	}
	rule, err := r.BomRule(req.Preset)
	if err != nil {
		return nil, st.fail(err)
	}
	st.enter(model.StateSpecsResolved)

	// SpecsResolved -> SpanChecked
	sr, err := span.NewValidator(r).Validate(req.Family, req.ThicknessMM, req.RequestedSpan)
	if err != nil {
		return nil, st.fail(err)
	}
	var warnings []string
	if !sr.Compliant {
		if !req.SpanOverride {
			f := model.NewFailure(model.FailSpanExceeded, resolve.SpanKey(req.Family, req.ThicknessMM),
				"requested %sm exceeds certified %sm", sr.RequestedSpan, sr.MaxSpan)
			f.Span = sr
			f.Suggestion = sr.Suggestion
			if sr.RequiresSupport {
				f.Detail += "; requires additional structural support"
			}
			log.Info("quote: span gate closed", zap.String("requested", sr.RequestedSpan.String()))
			return nil, st.fail(f)
		}
		sr.Overridden = true
		warnings = append(warnings, fmt.Sprintf("span override: requested %sm exceeds certified %sm for %s",
			sr.RequestedSpan, sr.MaxSpan, model.PanelKey(req.Family, req.ThicknessMM)))
	}
	st.enter(model.StateSpanChecked)

	// SpanChecked -> BomExpanded
	dims := model.Dimensions{
		Length:      req.CoveredLength,
		Width:       req.CoveredWidth,
		Supports:    req.Supports,
		ThicknessMM: req.ThicknessMM,
		Family:      req.Family,
	}
	if dims.Supports == 0 {
		dims.Supports = bom.DefaultSupports(req.CoveredLength, req.RequestedSpan)
	}
	items, err := bom.NewExpander(r).Expand(rule.Value, dims, req.Finish)
	if err != nil {
		return nil, st.fail(err)
	}
	st.enter(model.StateBomExpanded)

	// BomExpanded -> Priced
	lines, err := o.engine.Price(items, r)
	if err != nil {
		return nil, st.fail(err)
	}
	st.enter(model.StatePriced)

	// Priced -> Completed
	q := &model.Quotation{
		SnapshotVersion: snap.Version(),
		Currency:        o.engine.Currency(),
		Request:         req,
		Span:            *sr,
		Panels:          []model.LineItem{},
		Accessories:     []model.LineItem{},
		Fasteners:       []model.LineItem{},
		Totals:          o.engine.Totals(lines),
		Conflicts:       rec.Conflicts(),
		Warnings:        warnings,
	}
	for _, l := range lines {
		switch l.Category {
		case model.CategoryPanels:
			q.Panels = append(q.Panels, l)
		case model.CategoryAccessories:
			q.Accessories = append(q.Accessories, l)
		case model.CategoryFasteners:
			q.Fasteners = append(q.Fasteners, l)
		}
	}
	if q.Conflicts == nil {
		q.Conflicts = []model.Conflict{}
	}
	if q.Warnings == nil {
		q.Warnings = []string{}
	}
	q.ID, err = QuotationID(req, snap.Version())
	if err != nil {
		return nil, err
	}
	st.enter(model.StateCompleted)
	q.Trace = st.trace

	for _, c := range q.Conflicts {
		log.Warn("quote: source conflict",
			zap.String("key", c.Key),
			zap.String("winner", c.Winner.String()),
			zap.String("other", c.Other.String()),
		)
	}
	log.Debug("quote: completed",
		zap.String("id", q.ID),
		zap.Int("lines", len(q.Lines())),
		zap.String("grand_total", q.Totals.GrandTotal.String()),
	)
	return q, nil
}

// QuotationID derives a stable ID from the request and snapshot version.
func QuotationID(req model.QuoteRequest, snapshotVersion string) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "quote: encode request")
	}
	data := append([]byte(snapshotVersion+"\n"), raw...)
	return uuid.NewSHA1(idNamespace, data).String(), nil
}
