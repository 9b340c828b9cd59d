// Package knowledge loads ranked knowledge sources into immutable
// snapshots and swaps them in atomically on refresh.
package knowledge

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/panel-quote/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	_ = v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	return v
}

// Amount is a decimal literal. Documents may write it as a JSON number or
// a string; the literal is kept verbatim so no binary float is involved.
type Amount string

// UnmarshalJSON accepts numbers, strings and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*a = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(str))
	default:
		*a = Amount(s)
	}
	return nil
}

// Decimal parses the amount. Empty amounts report false.
func (a Amount) Decimal() (decimal.Decimal, bool) {
	if a == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func (a Amount) ptr() *decimal.Decimal {
	d, ok := a.Decimal()
	if !ok {
		return nil
	}
	return &d
}

func (a Amount) or(def decimal.Decimal) decimal.Decimal {
	if d, ok := a.Decimal(); ok {
		return d
	}
	return def
}

// Document is the wire shape of one knowledge source.
type Document struct {
	Products    []ProductDoc   `json:"products" yaml:"products" validate:"dive"`
	Accessories []AccessoryDoc `json:"accessories" yaml:"accessories" validate:"dive"`
	BomRules    []BomRuleDoc   `json:"bom_rules" yaml:"bom_rules" validate:"dive"`
}

// ProductDoc is a panel family with its thickness variants.
type ProductDoc struct {
	Family   string       `json:"family" yaml:"family" validate:"required"`
	Name     string       `json:"name" yaml:"name"`
	Kind     string       `json:"kind" yaml:"kind" validate:"omitempty,oneof=roof wall"`
	Variants []VariantDoc `json:"variants" yaml:"variants" validate:"required,min=1,dive"`
}

// VariantDoc is one thickness of a panel family.
type VariantDoc struct {
	ThicknessMM int               `json:"thickness_mm" yaml:"thickness_mm" validate:"required,gt=0"`
	UnitPrice   Amount            `json:"unit_price" yaml:"unit_price" validate:"omitempty,amount"`
	Unit        string            `json:"unit" yaml:"unit" validate:"omitempty,oneof=per_piece per_linear_meter per_square_meter"`
	MaxSpan     Amount            `json:"max_span_m" yaml:"max_span_m" validate:"omitempty,amount"`
	Active      *bool             `json:"active" yaml:"active"`
	Specs       map[string]string `json:"specs" yaml:"specs"`
}

// AccessoryDoc is a non-panel catalog entry.
type AccessoryDoc struct {
	SKU         string   `json:"sku" yaml:"sku" validate:"required"`
	Name        string   `json:"name" yaml:"name"`
	Unit        string   `json:"unit" yaml:"unit" validate:"required,oneof=per_piece per_linear_meter per_square_meter"`
	UnitPrice   Amount   `json:"unit_price" yaml:"unit_price" validate:"omitempty,amount"`
	PieceLength Amount   `json:"piece_length_m" yaml:"piece_length_m" validate:"omitempty,positive"`
	Families    []string `json:"families" yaml:"families"`
	Thicknesses []int    `json:"thicknesses" yaml:"thicknesses" validate:"dive,gt=0"`
	Finishes    []string `json:"finishes" yaml:"finishes"`
}

// BomRuleDoc is the formula set of a system preset.
type BomRuleDoc struct {
	Preset      string       `json:"preset" yaml:"preset" validate:"required"`
	Description string       `json:"description" yaml:"description"`
	Families    []string     `json:"families" yaml:"families"`
	Panel       PanelDoc     `json:"panel" yaml:"panel"`
	Accessories []FormulaDoc `json:"accessories" yaml:"accessories" validate:"dive"`
	Fasteners   []FormulaDoc `json:"fasteners" yaml:"fasteners" validate:"dive"`
}

// PanelDoc is the panel-count formula.
type PanelDoc struct {
	ModuleDimension string `json:"module_dimension" yaml:"module_dimension" validate:"required,oneof=width length"`
	ModuleWidth     Amount `json:"module_width_m" yaml:"module_width_m" validate:"required,positive"`
	Factor          Amount `json:"factor" yaml:"factor" validate:"omitempty,positive"`
}

// FormulaDoc is one accessory or fastener demand formula.
type FormulaDoc struct {
	SKU            string         `json:"sku" yaml:"sku" validate:"required_without_all=SKUByFinish SKUByThickness"`
	Basis          string         `json:"basis" yaml:"basis" validate:"required,oneof=fixed length width perimeter area panel_area panel_length panels supports panel_supports"`
	Factor         Amount         `json:"factor" yaml:"factor" validate:"omitempty,decimal"`
	Offset         Amount         `json:"offset" yaml:"offset" validate:"omitempty,decimal"`
	SKUByFinish    *FinishDoc     `json:"sku_by_finish" yaml:"sku_by_finish"`
	SKUByThickness map[int]string `json:"sku_by_thickness" yaml:"sku_by_thickness" validate:"omitempty,dive,required"`
}

// FinishDoc maps a finish option's values to SKUs.
type FinishDoc struct {
	Option string            `json:"option" yaml:"option" validate:"required"`
	SKUs   map[string]string `json:"skus" yaml:"skus" validate:"required,min=1,dive,required"`
}

// Validate checks field shapes and the cross-record invariants of one
// source: unique keys and complete active variants.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return eris.Wrap(err, "knowledge: invalid document")
	}

	families := make(map[string]bool)
	for _, p := range d.Products {
		if families[p.Family] {
			return eris.Errorf("knowledge: duplicate product %s", p.Family)
		}
		families[p.Family] = true

		seen := make(map[int]bool)
		for _, v := range p.Variants {
			if seen[v.ThicknessMM] {
				return eris.Errorf("knowledge: duplicate variant %s", model.PanelKey(p.Family, v.ThicknessMM))
			}
			seen[v.ThicknessMM] = true

			if v.Active != nil && *v.Active && (v.UnitPrice == "" || v.MaxSpan == "") {
				return eris.Errorf("knowledge: active variant %s needs unit_price and max_span_m",
					model.PanelKey(p.Family, v.ThicknessMM))
			}
		}
	}

	skus := make(map[string]bool)
	for _, a := range d.Accessories {
		if skus[a.SKU] {
			return eris.Errorf("knowledge: duplicate accessory %s", a.SKU)
		}
		skus[a.SKU] = true
	}

	presets := make(map[string]bool)
	for _, r := range d.BomRules {
		if presets[r.Preset] {
			return eris.Errorf("knowledge: duplicate bom rule %s", r.Preset)
		}
		presets[r.Preset] = true
	}
	return nil
}

// ToSource converts a validated document into a knowledge source.
func (d *Document) ToSource(name string, level int, kind model.SourceKind) *model.KnowledgeSource {
	products := make([]model.Product, 0, len(d.Products))
	for _, p := range d.Products {
		prod := model.Product{
			Family: p.Family,
			Name:   p.Name,
			Kind:   model.ProductKind(p.Kind),
		}
		for _, v := range p.Variants {
			unit := model.UnitOfMeasure(v.Unit)
			if unit == "" {
				unit = model.PerSquareMeter
			}
			// Omitted active means "active when complete".
			active := v.UnitPrice != "" && v.MaxSpan != ""
			if v.Active != nil {
				active = *v.Active
			}
			prod.Variants = append(prod.Variants, model.ThicknessVariant{
				ThicknessMM: v.ThicknessMM,
				UnitPrice:   v.UnitPrice.ptr(),
				Unit:        unit,
				MaxSpan:     v.MaxSpan.ptr(),
				Active:      active,
				Specs:       v.Specs,
			})
		}
		products = append(products, prod)
	}

	accessories := make([]model.AccessoryItem, 0, len(d.Accessories))
	for _, a := range d.Accessories {
		accessories = append(accessories, model.AccessoryItem{
			SKU:         a.SKU,
			Name:        a.Name,
			Unit:        model.UnitOfMeasure(a.Unit),
			UnitPrice:   a.UnitPrice.ptr(),
			PieceLength: a.PieceLength.ptr(),
			Compat: model.Compatibility{
				Families:    a.Families,
				Thicknesses: a.Thicknesses,
				Finishes:    a.Finishes,
			},
		})
	}

	rules := make([]model.BomRule, 0, len(d.BomRules))
	for _, r := range d.BomRules {
		rules = append(rules, model.BomRule{
			Preset:      r.Preset,
			Description: r.Description,
			Families:    r.Families,
			Panel: model.PanelFormula{
				ModuleDimension: model.Dimension(r.Panel.ModuleDimension),
				ModuleWidth:     r.Panel.ModuleWidth.or(decimal.Zero),
				Factor:          r.Panel.Factor.or(decimal.NewFromInt(1)),
			},
			Accessories: formulas(r.Accessories),
			Fasteners:   formulas(r.Fasteners),
		})
	}

	return model.NewKnowledgeSource(name, level, kind, products, accessories, rules)
}

func formulas(docs []FormulaDoc) []model.DemandFormula {
	out := make([]model.DemandFormula, 0, len(docs))
	for _, f := range docs {
		df := model.DemandFormula{
			SKU:            f.SKU,
			Basis:          model.Basis(f.Basis),
			Factor:         f.Factor.or(decimal.NewFromInt(1)),
			Offset:         f.Offset.or(decimal.Zero),
			SKUByThickness: f.SKUByThickness,
		}
		if f.SKUByFinish != nil {
			df.SKUByFinish = &model.FinishChoice{Option: f.SKUByFinish.Option, SKUs: f.SKUByFinish.SKUs}
		}
		out = append(out, df)
	}
	return out
}
