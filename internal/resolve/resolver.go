package resolve

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/model"
)

// PriceKey names a panel variant's price. Keys identify what was looked
// up in failures and conflicts.
func PriceKey(family string, thicknessMM int) string {
	return "price:" + model.PanelKey(family, thicknessMM)
}

// SpanKey names a panel variant's max span.
func SpanKey(family string, thicknessMM int) string {
	return "span:" + model.PanelKey(family, thicknessMM)
}

// VariantKey names a panel variant record.
func VariantKey(family string, thicknessMM int) string {
	return "variant:" + model.PanelKey(family, thicknessMM)
}

// ProductKey names a panel family.
func ProductKey(family string) string { return "product:" + family }

// AccessoryKey names an accessory catalog entry.
func AccessoryKey(sku string) string { return "accessory:" + sku }

// AccessoryPriceKey names an accessory price.
func AccessoryPriceKey(sku string) string { return "price:" + sku }

// BomRuleKey names a BOM preset.
func BomRuleKey(preset string) string { return "bom_rule:" + preset }

// Recorder collects conflicts seen by a Resolver across many lookups.
type Recorder struct {
	mu        sync.Mutex
	conflicts []model.Conflict
}

func (r *Recorder) add(cs []model.Conflict) {
	if len(cs) == 0 {
		return
	}
	r.mu.Lock()
	r.conflicts = append(r.conflicts, cs...)
	r.mu.Unlock()
}

// Conflicts returns the recorded conflicts, deduplicated and sorted by
// key then source.
func (r *Recorder) Conflicts() []model.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.conflicts)
	slices.SortFunc(out, func(a, b model.Conflict) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.Other.Level, b.Other.Level),
			cmp.Compare(a.Other.Name, b.Other.Name),
			cmp.Compare(a.OtherValue, b.OtherValue),
		)
	})
	return slices.Compact(out)
}

// Resolver answers typed lookups over a fixed set of sources.
type Resolver struct {
	sources []*model.KnowledgeSource
	rec     *Recorder
}

// New creates a Resolver. Sources may be passed in any order.
func New(sources []*model.KnowledgeSource) *Resolver {
	return &Resolver{sources: Order(sources)}
}

// Recording returns a copy of the resolver that adds every conflict it
// sees to rec.
func (r *Resolver) Recording(rec *Recorder) *Resolver {
	return &Resolver{sources: r.sources, rec: rec}
}

// Sources returns the sources in precedence order.
func (r *Resolver) Sources() []*model.KnowledgeSource {
	return slices.Clone(r.sources)
}

func run[T any](r *Resolver, l Lookup[T]) (*Resolution[T], error) {
	res, err := Resolve(r.sources, l)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("resolve: winner",
		zap.String("key", res.Key),
		zap.String("source", res.Winner.String()),
		zap.Int("conflicts", len(res.Conflicts)),
	)
	if r.rec != nil {
		r.rec.add(res.Conflicts)
	}
	return res, nil
}

func formatDecimal(d decimal.Decimal) string { return d.String() }

func equalDecimal(a, b decimal.Decimal) bool { return a.Equal(b) }

// Product resolves a panel family. Sources agree when the kind matches or
// one of them leaves it blank.
func (r *Resolver) Product(family string) (*Resolution[*model.Product], error) {
	return run(r, Lookup[*model.Product]{
		Key:  ProductKey(family),
		Find: func(s *model.KnowledgeSource) (*model.Product, bool) { return s.Product(family) },
		Equal: func(a, b *model.Product) bool {
			return a.Kind == b.Kind || a.Kind == "" || b.Kind == ""
		},
		Format: func(p *model.Product) string { return fmt.Sprintf("%s (%s)", p.Family, p.Kind) },
	})
}

// Variant resolves a thickness variant record. Sources agree when the unit
// matches. Price and span are resolved separately so that partial sources
// can supply them.
func (r *Resolver) Variant(family string, thicknessMM int) (*Resolution[*model.ThicknessVariant], error) {
	return run(r, Lookup[*model.ThicknessVariant]{
		Key: VariantKey(family, thicknessMM),
		Find: func(s *model.KnowledgeSource) (*model.ThicknessVariant, bool) {
			return s.Variant(family, thicknessMM)
		},
		Equal: func(a, b *model.ThicknessVariant) bool {
			return a.Unit == b.Unit
		},
		Format: func(v *model.ThicknessVariant) string {
			return fmt.Sprintf("unit=%s active=%t", v.Unit, v.Active)
		},
	})
}

// VariantPrice resolves the unit price of a panel variant.
func (r *Resolver) VariantPrice(family string, thicknessMM int) (*Resolution[decimal.Decimal], error) {
	return run(r, Lookup[decimal.Decimal]{
		Key: PriceKey(family, thicknessMM),
		Find: func(s *model.KnowledgeSource) (decimal.Decimal, bool) {
			v, ok := s.Variant(family, thicknessMM)
			if !ok || v.UnitPrice == nil {
				return decimal.Decimal{}, false
			}
			return *v.UnitPrice, true
		},
		Equal:  equalDecimal,
		Format: formatDecimal,
	})
}

// VariantSpan resolves the certified self-supporting span of a variant.
func (r *Resolver) VariantSpan(family string, thicknessMM int) (*Resolution[decimal.Decimal], error) {
	return run(r, Lookup[decimal.Decimal]{
		Key: SpanKey(family, thicknessMM),
		Find: func(s *model.KnowledgeSource) (decimal.Decimal, bool) {
			v, ok := s.Variant(family, thicknessMM)
			if !ok || v.MaxSpan == nil {
				return decimal.Decimal{}, false
			}
			return *v.MaxSpan, true
		},
		Equal:  equalDecimal,
		Format: formatDecimal,
	})
}

// Thicknesses lists every thickness any source knows for a family,
// ascending.
func (r *Resolver) Thicknesses(family string) []int {
	var out []int
	for _, s := range r.sources {
		p, ok := s.Product(family)
		if !ok {
			continue
		}
		for _, v := range p.Variants {
			out = append(out, v.ThicknessMM)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Accessory resolves the catalog entry (unit, piece length, tags) for a SKU.
func (r *Resolver) Accessory(sku string) (*Resolution[model.CatalogEntry], error) {
	return run(r, Lookup[model.CatalogEntry]{
		Key: AccessoryKey(sku),
		Find: func(s *model.KnowledgeSource) (model.CatalogEntry, bool) {
			a, ok := s.Accessory(sku)
			if !ok {
				return model.CatalogEntry{}, false
			}
			return a.Entry(), true
		},
		Equal:  model.CatalogEntry.Equal,
		Format: model.CatalogEntry.String,
	})
}

// AccessoryPrice resolves the unit price of a SKU.
func (r *Resolver) AccessoryPrice(sku string) (*Resolution[decimal.Decimal], error) {
	return run(r, Lookup[decimal.Decimal]{
		Key: AccessoryPriceKey(sku),
		Find: func(s *model.KnowledgeSource) (decimal.Decimal, bool) {
			a, ok := s.Accessory(sku)
			if !ok || a.UnitPrice == nil {
				return decimal.Decimal{}, false
			}
			return *a.UnitPrice, true
		},
		Equal:  equalDecimal,
		Format: formatDecimal,
	})
}

// BomRule resolves a preset's formula set. Rules are compared by their
// canonical JSON encoding.
func (r *Resolver) BomRule(preset string) (*Resolution[*model.BomRule], error) {
	return run(r, Lookup[*model.BomRule]{
		Key:  BomRuleKey(preset),
		Find: func(s *model.KnowledgeSource) (*model.BomRule, bool) { return s.BomRule(preset) },
		Equal: func(a, b *model.BomRule) bool {
			return canonical(a) == canonical(b)
		},
		Format: func(b *model.BomRule) string {
			return fmt.Sprintf("%s (%d accessories, %d fasteners)", b.Preset, len(b.Accessories), len(b.Fasteners))
		},
	})
}

// canonical encodes a rule with its description dropped. encoding/json
// sorts map keys, so equal rules give equal bytes.
func canonical(b *model.BomRule) string {
	c := *b
	c.Description = ""
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(raw)
}
