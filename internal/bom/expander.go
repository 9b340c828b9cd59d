// Package bom expands parametric BOM rules into unpriced line items.
package bom

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/resolve"
)

// Quantities are rounded up to this many decimals for metre and square
// metre units.
const measurePlaces = 2

var one = decimal.NewFromInt(1)

// DefaultSupports derives the number of support lines from the covered
// length and the spacing between supports: ceil(length / span) + 1.
func DefaultSupports(length, span decimal.Decimal) int {
	if !span.IsPositive() || !length.IsPositive() {
		return 0
	}
	return int(length.Div(span).Ceil().IntPart()) + 1
}

// Expander turns a BomRule into line items, resolving catalog entries
// through a resolver.
type Expander struct {
	r *resolve.Resolver
}

// NewExpander creates an Expander.
func NewExpander(r *resolve.Resolver) *Expander {
	return &Expander{r: r}
}

// panelRun is the geometry of the panel layout, shared by demand bases.
type panelRun struct {
	count       decimal.Decimal
	length      decimal.Decimal
	moduleWidth decimal.Decimal
}

// Expand produces the panel line followed by accessory and fastener lines
// in rule order. Any failure aborts the whole expansion.
func (e *Expander) Expand(rule *model.BomRule, dims model.Dimensions, finish map[string]string) ([]model.UnpricedLineItem, error) {
	if len(rule.Families) > 0 && !slices.Contains(rule.Families, dims.Family) {
		return nil, model.NewFailure(model.FailInvalidRule, resolve.BomRuleKey(rule.Preset),
			"preset does not apply to family %s", dims.Family)
	}

	panel, run, err := e.expandPanels(rule, dims)
	if err != nil {
		return nil, err
	}
	if err := e.checkCatalog(rule); err != nil {
		return nil, err
	}
	items := []model.UnpricedLineItem{panel}

	finishes := finishValues(finish)
	groups := []struct {
		cat      model.Category
		formulas []model.DemandFormula
	}{
		{model.CategoryAccessories, rule.Accessories},
		{model.CategoryFasteners, rule.Fasteners},
	}
	for _, g := range groups {
		for i, f := range g.formulas {
			item, ok, err := e.expandDemand(g.cat, f, dims, run, finish, finishes)
			if err != nil {
				if fl, isFailure := model.AsFailure(err); isFailure && fl.Detail != "" {
					fl.Detail = fmt.Sprintf("%s %s[%d]: %s", rule.Preset, g.cat, i, fl.Detail)
				}
				return nil, err
			}
			if ok {
				items = append(items, item)
			}
		}
	}

	zap.L().Debug("bom: expanded",
		zap.String("preset", rule.Preset),
		zap.String("panels", run.count.String()),
		zap.Int("lines", len(items)),
	)
	return items, nil
}

// checkCatalog fails on the first SKU the rule can produce that no source
// catalogues, whether or not this request yields demand for it.
func (e *Expander) checkCatalog(rule *model.BomRule) error {
	skus := rule.ReferencedSKUs()
	slices.Sort(skus)
	for _, sku := range slices.Compact(skus) {
		if !e.catalogued(sku) {
			return model.NewFailure(model.FailMissingCatalogEntry, sku,
				"%s: not in the loaded catalog", rule.Preset)
		}
	}
	return nil
}

// catalogued looks in the sources directly so that SKUs the request never
// selects leave no conflicts behind.
func (e *Expander) catalogued(sku string) bool {
	for _, src := range e.r.Sources() {
		if _, ok := src.Accessory(sku); ok {
			return true
		}
	}
	return false
}

func (e *Expander) expandPanels(rule *model.BomRule, dims model.Dimensions) (model.UnpricedLineItem, panelRun, error) {
	key := model.PanelKey(dims.Family, dims.ThicknessMM)
	pf := rule.Panel

	if !pf.ModuleWidth.IsPositive() {
		return model.UnpricedLineItem{}, panelRun{}, model.NewFailure(model.FailInvalidRule, key,
			"%s: module width must be positive", rule.Preset)
	}
	if !pf.Factor.IsPositive() {
		return model.UnpricedLineItem{}, panelRun{}, model.NewFailure(model.FailInvalidRule, key,
			"%s: panel factor must be positive", rule.Preset)
	}

	var covered, length decimal.Decimal
	switch pf.ModuleDimension {
	case model.DimWidth:
		covered, length = dims.Width, dims.Length
	case model.DimLength:
		covered, length = dims.Length, dims.Width
	default:
		return model.UnpricedLineItem{}, panelRun{}, model.NewFailure(model.FailInvalidRule, key,
			"%s: unknown module dimension %q", rule.Preset, pf.ModuleDimension)
	}

	variant, err := e.r.Variant(dims.Family, dims.ThicknessMM)
	if err != nil {
		return model.UnpricedLineItem{}, panelRun{}, err
	}

	modules := covered.Div(pf.ModuleWidth).Ceil()
	run := panelRun{
		count:       modules.Mul(pf.Factor).Ceil(),
		length:      length,
		moduleWidth: pf.ModuleWidth,
	}

	var qty decimal.Decimal
	switch variant.Value.Unit {
	case model.PerPiece:
		qty = run.count
	case model.PerLinearMeter:
		qty = run.count.Mul(length).RoundCeil(measurePlaces)
	case model.PerSquareMeter:
		qty = run.count.Mul(pf.ModuleWidth).Mul(length).RoundCeil(measurePlaces)
	default:
		return model.UnpricedLineItem{}, panelRun{}, model.NewFailure(model.FailInvalidRule, key,
			"unknown panel unit %q", variant.Value.Unit)
	}

	name := fmt.Sprintf("%s %dmm", dims.Family, dims.ThicknessMM)
	if p, err := e.r.Product(dims.Family); err == nil && p.Value.Name != "" {
		name = fmt.Sprintf("%s %dmm", p.Value.Name, dims.ThicknessMM)
	}

	pieceLength := length
	return model.UnpricedLineItem{
		Category:    model.CategoryPanels,
		Key:         key,
		Name:        name,
		Unit:        variant.Value.Unit,
		Quantity:    qty,
		PieceLength: &pieceLength,
		Demand:      run.count,
		Basis:       model.BasisPanels,
		Family:      dims.Family,
		ThicknessMM: dims.ThicknessMM,
	}, run, nil
}

func (e *Expander) expandDemand(cat model.Category, f model.DemandFormula, dims model.Dimensions, run panelRun, finish map[string]string, finishes []string) (model.UnpricedLineItem, bool, error) {
	sku, err := pickSKU(f, dims.ThicknessMM, finish)
	if err != nil {
		return model.UnpricedLineItem{}, false, err
	}

	class, ok := f.Basis.Class()
	if !ok {
		return model.UnpricedLineItem{}, false, model.NewFailure(model.FailInvalidRule, sku, "unknown basis %q", f.Basis)
	}

	demand := measure(f.Basis, dims, run).Mul(f.Factor).Add(f.Offset)
	if demand.IsNegative() {
		return model.UnpricedLineItem{}, false, model.NewFailure(model.FailInvalidRule, sku, "negative demand %s", demand)
	}
	if demand.IsZero() {
		return model.UnpricedLineItem{}, false, nil
	}

	entry, err := e.r.Accessory(sku)
	if err != nil {
		if model.IsKind(err, model.FailNotFound) {
			return model.UnpricedLineItem{}, false, model.NewFailure(model.FailMissingCatalogEntry, sku,
				"not in the loaded catalog")
		}
		return model.UnpricedLineItem{}, false, err
	}
	ce := entry.Value

	if !ce.Compat.Allows(dims.Family, dims.ThicknessMM, finishes) {
		return model.UnpricedLineItem{}, false, model.NewFailure(model.FailInvalidRule, sku,
			"not compatible with %s", model.PanelKey(dims.Family, dims.ThicknessMM))
	}

	qty, err := convert(sku, ce, class, demand)
	if err != nil {
		return model.UnpricedLineItem{}, false, err
	}

	return model.UnpricedLineItem{
		Category:    cat,
		Key:         sku,
		Name:        ce.Name,
		Unit:        ce.Unit,
		Quantity:    qty,
		PieceLength: ce.PieceLength,
		Demand:      demand,
		Basis:       f.Basis,
	}, true, nil
}

// convert expresses a demand in the catalog item's unit. Rounding is
// always upward. The piece length only divides a length demand; it never
// reaches the price.
func convert(sku string, ce model.CatalogEntry, class model.MeasureClass, demand decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case ce.Unit == model.PerPiece && class == model.ClassLength:
		if ce.PieceLength == nil || !ce.PieceLength.IsPositive() {
			return decimal.Zero, model.NewFailure(model.FailMissingCatalogEntry, sku,
				"per-piece item has no piece length for a length demand")
		}
		return demand.Div(*ce.PieceLength).Ceil(), nil
	case ce.Unit == model.PerPiece && class == model.ClassCount:
		return demand.Ceil(), nil
	case ce.Unit == model.PerLinearMeter && class == model.ClassLength:
		return demand.RoundCeil(measurePlaces), nil
	case ce.Unit == model.PerSquareMeter && class == model.ClassArea:
		return demand.RoundCeil(measurePlaces), nil
	default:
		return decimal.Zero, model.NewFailure(model.FailInvalidRule, sku,
			"%s demand cannot be expressed %s", class, ce.Unit)
	}
}

func measure(b model.Basis, dims model.Dimensions, run panelRun) decimal.Decimal {
	supports := decimal.NewFromInt(int64(dims.Supports))
	switch b {
	case model.BasisFixed:
		return one
	case model.BasisLength:
		return dims.Length
	case model.BasisWidth:
		return dims.Width
	case model.BasisPerimeter:
		return dims.Length.Add(dims.Width).Mul(decimal.NewFromInt(2))
	case model.BasisArea:
		return dims.Length.Mul(dims.Width)
	case model.BasisPanelArea:
		return run.count.Mul(run.moduleWidth).Mul(run.length)
	case model.BasisPanelLength:
		return run.count.Mul(run.length)
	case model.BasisPanels:
		return run.count
	case model.BasisSupports:
		return supports
	case model.BasisPanelSupports:
		return run.count.Mul(supports)
	default:
		return decimal.Zero
	}
}

// pickSKU applies finish and thickness variants, falling back to the
// formula's default SKU.
func pickSKU(f model.DemandFormula, thicknessMM int, finish map[string]string) (string, error) {
	if fc := f.SKUByFinish; fc != nil {
		if value, set := finish[fc.Option]; set {
			sku, ok := fc.SKUs[value]
			if !ok {
				return "", model.NewFailure(model.FailInvalidRule, f.SKU,
					"no SKU for %s=%s", fc.Option, value)
			}
			return sku, nil
		}
		if f.SKU == "" {
			return "", model.NewFailure(model.FailInvalidRule, fc.Option,
				"finish option %s is required", fc.Option)
		}
		return f.SKU, nil
	}

	if len(f.SKUByThickness) > 0 {
		if sku, ok := f.SKUByThickness[thicknessMM]; ok {
			return sku, nil
		}
		if f.SKU == "" {
			return "", model.NewFailure(model.FailInvalidRule, string(f.Basis),
				"no SKU for thickness %dmm", thicknessMM)
		}
	}

	if f.SKU == "" {
		return "", model.NewFailure(model.FailInvalidRule, string(f.Basis), "formula has no SKU")
	}
	return f.SKU, nil
}

func finishValues(finish map[string]string) []string {
	out := make([]string, 0, len(finish))
	for _, v := range finish {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
