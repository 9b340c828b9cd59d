// Package span checks requested support spacing against certified
// self-supporting spans.
package span

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/resolve"
)

// Validator checks spans through a resolver.
type Validator struct {
	r *resolve.Resolver
}

// NewValidator creates a Validator.
func NewValidator(r *resolve.Resolver) *Validator {
	return &Validator{r: r}
}

// Validate compares requested against the resolved max span for the
// variant. A non-compliant result carries the smallest other active
// thickness of the family that covers the span, or RequiresSupport when
// none does. Resolution failures for the requested variant are returned
// as errors; failures for alternative thicknesses only exclude them.
func (v *Validator) Validate(family string, thicknessMM int, requested decimal.Decimal) (*model.SpanResult, error) {
	res, err := v.r.VariantSpan(family, thicknessMM)
	if err != nil {
		return nil, err
	}

	out := &model.SpanResult{
		Compliant:     requested.LessThanOrEqual(res.Value),
		RequestedSpan: requested,
		MaxSpan:       res.Value,
		Margin:        res.Value.Sub(requested),
		Source:        res.Winner,
	}
	if out.Compliant {
		return out, nil
	}

	out.Suggestion = v.suggest(family, thicknessMM, requested)
	out.RequiresSupport = out.Suggestion == nil

	zap.L().Debug("span: not compliant",
		zap.String("family", family),
		zap.Int("thickness_mm", thicknessMM),
		zap.String("requested", requested.String()),
		zap.String("max", res.Value.String()),
		zap.Bool("requires_support", out.RequiresSupport),
	)
	return out, nil
}

// suggest searches with a non-recording resolver: thicknesses that are not
// being quoted must not add conflicts to the quotation.
func (v *Validator) suggest(family string, current int, requested decimal.Decimal) *model.Suggestion {
	r := resolve.New(v.r.Sources())
	for _, t := range r.Thicknesses(family) {
		if t == current {
			continue
		}
		variant, err := r.Variant(family, t)
		if err != nil || !variant.Value.Active {
			continue
		}
		limit, err := r.VariantSpan(family, t)
		if err != nil {
			continue
		}
		if limit.Value.GreaterThanOrEqual(requested) {
			return &model.Suggestion{ThicknessMM: t, MaxSpan: limit.Value}
		}
	}
	return nil
}
