package model

import (
	"github.com/shopspring/decimal"
)

// Dimension names a covered dimension of the job.
type Dimension string

// Covered dimensions.
const (
	DimLength Dimension = "length"
	DimWidth  Dimension = "width"
)

// Basis is the measured quantity a demand formula scales from.
type Basis string

// Demand bases. Length bases are in metres, area bases in square metres,
// count bases are dimensionless.
const (
	BasisFixed         Basis = "fixed"
	BasisLength        Basis = "length"
	BasisWidth         Basis = "width"
	BasisPerimeter     Basis = "perimeter"
	BasisArea          Basis = "area"
	BasisPanelArea     Basis = "panel_area"
	BasisPanelLength   Basis = "panel_length"
	BasisPanels        Basis = "panels"
	BasisSupports      Basis = "supports"
	BasisPanelSupports Basis = "panel_supports"
)

// MeasureClass is the physical class of a basis.
type MeasureClass int

// Measure classes.
const (
	ClassCount MeasureClass = iota
	ClassLength
	ClassArea
)

// String returns the class name.
func (c MeasureClass) String() string {
	switch c {
	case ClassCount:
		return "count"
	case ClassLength:
		return "length"
	case ClassArea:
		return "area"
	default:
		return "unknown"
	}
}

// Class returns the measure class of the basis and whether it is known.
func (b Basis) Class() (MeasureClass, bool) {
	switch b {
	case BasisFixed, BasisPanels, BasisSupports, BasisPanelSupports:
		return ClassCount, true
	case BasisLength, BasisWidth, BasisPerimeter, BasisPanelLength:
		return ClassLength, true
	case BasisArea, BasisPanelArea:
		return ClassArea, true
	default:
		return 0, false
	}
}

// PanelFormula computes how many panels cover the job.
//
// count = ceil(ceil(covered[ModuleDimension] / ModuleWidth) * Factor)
type PanelFormula struct {
	ModuleDimension Dimension       `json:"module_dimension"`
	ModuleWidth     decimal.Decimal `json:"module_width_m"`
	Factor          decimal.Decimal `json:"factor"`
}

// FinishChoice selects a SKU from a finish option value.
type FinishChoice struct {
	Option string            `json:"option"`
	SKUs   map[string]string `json:"skus"`
}

// DemandFormula yields one accessory or fastener line.
//
// demand = basis * Factor + Offset, in the class of the basis.
type DemandFormula struct {
	SKU            string          `json:"sku,omitempty"`
	Basis          Basis           `json:"basis"`
	Factor         decimal.Decimal `json:"factor"`
	Offset         decimal.Decimal `json:"offset"`
	SKUByFinish    *FinishChoice   `json:"sku_by_finish,omitempty"`
	SKUByThickness map[int]string  `json:"sku_by_thickness,omitempty"`
}

// ReferencedSKUs lists every SKU the formula can produce.
func (f DemandFormula) ReferencedSKUs() []string {
	var skus []string
	if f.SKU != "" {
		skus = append(skus, f.SKU)
	}
	if f.SKUByFinish != nil {
		for _, s := range f.SKUByFinish.SKUs {
			skus = append(skus, s)
		}
	}
	for _, s := range f.SKUByThickness {
		skus = append(skus, s)
	}
	return skus
}

// BomRule is the parametric formula set for a system preset.
type BomRule struct {
	Preset      string          `json:"preset"`
	Description string          `json:"description,omitempty"`
	Families    []string        `json:"families,omitempty"`
	Panel       PanelFormula    `json:"panel"`
	Accessories []DemandFormula `json:"accessories"`
	Fasteners   []DemandFormula `json:"fasteners"`
}

// ReferencedSKUs lists every SKU any of the rule's formulas can produce.
func (r *BomRule) ReferencedSKUs() []string {
	var skus []string
	for _, f := range r.Accessories {
		skus = append(skus, f.ReferencedSKUs()...)
	}
	for _, f := range r.Fasteners {
		skus = append(skus, f.ReferencedSKUs()...)
	}
	return skus
}
