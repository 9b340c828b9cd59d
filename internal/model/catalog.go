package model

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// UnitOfMeasure is how a catalog item is counted and priced.
type UnitOfMeasure string

// Units of measure.
const (
	PerPiece       UnitOfMeasure = "per_piece"
	PerLinearMeter UnitOfMeasure = "per_linear_meter"
	PerSquareMeter UnitOfMeasure = "per_square_meter"
)

// Valid reports whether u is one of the known units.
func (u UnitOfMeasure) Valid() bool {
	switch u {
	case PerPiece, PerLinearMeter, PerSquareMeter:
		return true
	default:
		return false
	}
}

// ProductKind distinguishes roof from wall panel families.
type ProductKind string

// Product kinds.
const (
	KindRoof ProductKind = "roof"
	KindWall ProductKind = "wall"
)

// Product is a panel family with its thickness variants.
type Product struct {
	Family   string             `json:"family"`
	Name     string             `json:"name"`
	Kind     ProductKind        `json:"kind"`
	Variants []ThicknessVariant `json:"variants"`
}

// Variant returns the variant for the given thickness, if present.
func (p *Product) Variant(thicknessMM int) (*ThicknessVariant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ThicknessMM == thicknessMM {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// ThicknessVariant is one thickness of a panel family. Price and span are
// optional so that partial sources (price-only web snapshots) can be loaded.
type ThicknessVariant struct {
	ThicknessMM int               `json:"thickness_mm"`
	UnitPrice   *decimal.Decimal  `json:"unit_price,omitempty"`
	Unit        UnitOfMeasure     `json:"unit"`
	MaxSpan     *decimal.Decimal  `json:"max_span_m,omitempty"`
	Active      bool              `json:"active"`
	Specs       map[string]string `json:"specs,omitempty"`
}

// PanelKey is the line-item key for a panel variant, e.g. "ISODEC_EPS-100".
func PanelKey(family string, thicknessMM int) string {
	return fmt.Sprintf("%s-%d", family, thicknessMM)
}

// Compatibility lists what an accessory applies to. Empty lists mean "any".
type Compatibility struct {
	Families    []string `json:"families,omitempty"`
	Thicknesses []int    `json:"thicknesses,omitempty"`
	Finishes    []string `json:"finishes,omitempty"`
}

// Allows reports whether the tags admit the given family, thickness and
// finish values. Finish values are matched against the Finishes list only
// when both sides are non-empty.
func (c Compatibility) Allows(family string, thicknessMM int, finishes []string) bool {
	if len(c.Families) > 0 && !slices.Contains(c.Families, family) {
		return false
	}
	if len(c.Thicknesses) > 0 && !slices.Contains(c.Thicknesses, thicknessMM) {
		return false
	}
	if len(c.Finishes) > 0 && len(finishes) > 0 {
		for _, f := range finishes {
			if slices.Contains(c.Finishes, f) {
				return true
			}
		}
		return false
	}
	return true
}

// Equal compares two tag sets element-wise.
func (c Compatibility) Equal(o Compatibility) bool {
	return slices.Equal(c.Families, o.Families) &&
		slices.Equal(c.Thicknesses, o.Thicknesses) &&
		slices.Equal(c.Finishes, o.Finishes)
}

// AccessoryItem is a non-panel catalog entry: profiles, fasteners, sealants.
type AccessoryItem struct {
	SKU         string           `json:"sku"`
	Name        string           `json:"name"`
	Unit        UnitOfMeasure    `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	PieceLength *decimal.Decimal `json:"piece_length_m,omitempty"`
	Compat      Compatibility    `json:"compat"`
}

// CatalogEntry is the unit-bearing part of an accessory, resolved
// independently of its price.
type CatalogEntry struct {
	SKU         string           `json:"sku"`
	Name        string           `json:"name"`
	Unit        UnitOfMeasure    `json:"unit"`
	PieceLength *decimal.Decimal `json:"piece_length_m,omitempty"`
	Compat      Compatibility    `json:"compat"`
}

// Entry projects the accessory onto its catalog entry.
func (a *AccessoryItem) Entry() CatalogEntry {
	return CatalogEntry{
		SKU:         a.SKU,
		Name:        a.Name,
		Unit:        a.Unit,
		PieceLength: a.PieceLength,
		Compat:      a.Compat,
	}
}

// Equal compares the fields that change how an item is counted. Display
// names are not compared.
func (e CatalogEntry) Equal(o CatalogEntry) bool {
	return e.SKU == o.SKU &&
		e.Unit == o.Unit &&
		DecimalPtrEqual(e.PieceLength, o.PieceLength) &&
		e.Compat.Equal(o.Compat)
}

// String renders the entry for conflict reports.
func (e CatalogEntry) String() string {
	piece := "-"
	if e.PieceLength != nil {
		piece = e.PieceLength.String()
	}
	return fmt.Sprintf("%s unit=%s piece=%s", e.SKU, e.Unit, piece)
}

// DecimalPtrEqual compares optional decimals numerically.
func DecimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
