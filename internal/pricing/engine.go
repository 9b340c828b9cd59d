// Package pricing prices expanded BOM lines and rolls them up into
// quotation totals.
package pricing

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/resolve"
)

// Rates holds the deployment's currency and tax settings.
type Rates struct {
	Currency     string
	TaxRate      decimal.Decimal
	TaxInclusive bool
	// MinorUnits overrides the currency's ISO minor unit when >= 0.
	MinorUnits int
}

// DefaultRates returns UYU with 22% IVA embedded in catalog prices.
func DefaultRates() Rates {
	return Rates{
		Currency:     "UYU",
		TaxRate:      decimal.RequireFromString("0.22"),
		TaxInclusive: true,
		MinorUnits:   -1,
	}
}

// PriceResolver supplies unit prices with provenance.
type PriceResolver interface {
	VariantPrice(family string, thicknessMM int) (*resolve.Resolution[decimal.Decimal], error)
	AccessoryPrice(sku string) (*resolve.Resolution[decimal.Decimal], error)
}

// Engine prices line items.
type Engine struct {
	rates  Rates
	places int32
}

// NewEngine validates the currency and tax rate and creates an Engine.
func NewEngine(rates Rates) (*Engine, error) {
	unit, err := currency.ParseISO(strings.ToUpper(rates.Currency))
	if err != nil {
		return nil, eris.Wrapf(err, "pricing: currency %q", rates.Currency)
	}
	if rates.TaxRate.IsNegative() {
		return nil, eris.Errorf("pricing: tax rate %s is negative", rates.TaxRate)
	}

	places := rates.MinorUnits
	if places < 0 {
		places, _ = currency.Standard.Rounding(unit)
	}
	rates.Currency = unit.String()
	return &Engine{rates: rates, places: int32(places)}, nil
}

// Currency returns the ISO code prices are expressed in.
func (e *Engine) Currency() string { return e.rates.Currency }

// Places returns the number of minor-unit decimals amounts round to.
func (e *Engine) Places() int32 { return e.places }

// Rates returns the engine's settings.
func (e *Engine) Rates() Rates { return e.rates }

// Round rounds an amount half-up to the currency's minor unit. Amounts
// are never negative, so half away from zero is half-up.
func (e *Engine) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(e.places)
}

// Price resolves a unit price for every item and computes its line total,
// rounded per line. A price absent from every source fails with
// UnpricedItem; no line is ever priced at zero by default.
func (e *Engine) Price(items []model.UnpricedLineItem, r PriceResolver) ([]model.LineItem, error) {
	out := make([]model.LineItem, 0, len(items))
	for _, it := range items {
		var (
			res *resolve.Resolution[decimal.Decimal]
			err error
		)
		if it.IsPanel() {
			res, err = r.VariantPrice(it.Family, it.ThicknessMM)
		} else {
			res, err = r.AccessoryPrice(it.Key)
		}
		if err != nil {
			if model.IsKind(err, model.FailNotFound) {
				return nil, model.NewFailure(model.FailUnpricedItem, it.Key, "price pending confirmation")
			}
			return nil, err
		}

		out = append(out, model.LineItem{
			Category:    it.Category,
			Key:         it.Key,
			Name:        it.Name,
			Unit:        it.Unit,
			Quantity:    it.Quantity,
			PieceLength: it.PieceLength,
			UnitPrice:   res.Value,
			LineTotal:   e.Round(it.Quantity.Mul(res.Value)),
			Source:      res.Winner,
		})
	}
	return out, nil
}

// Totals sums the rounded line totals per category and applies tax.
//
// Exclusive: tax = round(subtotal * rate), grand = subtotal + tax.
// Inclusive: grand = subtotal, net = round(subtotal / (1 + rate)),
// tax = subtotal - net.
func (e *Engine) Totals(lines []model.LineItem) model.Totals {
	t := model.Totals{
		Panels:       decimal.Zero,
		Accessories:  decimal.Zero,
		Fasteners:    decimal.Zero,
		TaxRate:      e.rates.TaxRate,
		TaxInclusive: e.rates.TaxInclusive,
	}
	for _, l := range lines {
		switch l.Category {
		case model.CategoryPanels:
			t.Panels = t.Panels.Add(l.LineTotal)
		case model.CategoryAccessories:
			t.Accessories = t.Accessories.Add(l.LineTotal)
		case model.CategoryFasteners:
			t.Fasteners = t.Fasteners.Add(l.LineTotal)
		}
	}
	t.Subtotal = t.Panels.Add(t.Accessories).Add(t.Fasteners)

	if e.rates.TaxInclusive {
		t.GrandTotal = t.Subtotal
		t.NetAmount = t.Subtotal.DivRound(decimal.NewFromInt(1).Add(e.rates.TaxRate), e.places)
		t.TaxAmount = t.Subtotal.Sub(t.NetAmount)
	} else {
		t.NetAmount = t.Subtotal
		t.TaxAmount = e.Round(t.Subtotal.Mul(e.rates.TaxRate))
		t.GrandTotal = t.Subtotal.Add(t.TaxAmount)
	}

	zap.L().Debug("pricing: totals",
		zap.String("subtotal", t.Subtotal.String()),
		zap.String("tax", t.TaxAmount.String()),
		zap.String("grand", t.GrandTotal.String()),
		zap.Bool("tax_inclusive", t.TaxInclusive),
	)
	return t
}
