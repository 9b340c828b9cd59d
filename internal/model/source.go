package model

import "fmt"

// SourceKind describes where a knowledge source's data comes from.
type SourceKind string

// Source kinds, roughly in the order they are usually ranked.
const (
	SourceMatrix            SourceKind = "matrix"
	SourceCatalog           SourceKind = "catalog"
	SourceValidatedSnapshot SourceKind = "validated_snapshot"
	SourceWebSnapshot       SourceKind = "web_snapshot"
)

// SourceRef identifies the source that supplied a value.
type SourceRef struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// String renders "name@L1".
func (r SourceRef) String() string {
	return fmt.Sprintf("%s@L%d", r.Name, r.Level)
}

// KnowledgeSource is a named, ranked, read-only set of records. Level 1 is
// the most authoritative.
type KnowledgeSource struct {
	Name  string     `json:"name"`
	Level int        `json:"level"`
	Kind  SourceKind `json:"kind,omitempty"`

	products    map[string]*Product
	accessories map[string]*AccessoryItem
	rules       map[string]*BomRule
}

// NewKnowledgeSource indexes the given records. Later duplicates of a key
// replace earlier ones; loaders reject duplicates before getting here.
func NewKnowledgeSource(name string, level int, kind SourceKind, products []Product, accessories []AccessoryItem, rules []BomRule) *KnowledgeSource {
	s := &KnowledgeSource{
		Name:        name,
		Level:       level,
		Kind:        kind,
		products:    make(map[string]*Product, len(products)),
		accessories: make(map[string]*AccessoryItem, len(accessories)),
		rules:       make(map[string]*BomRule, len(rules)),
	}
	for i := range products {
		p := products[i]
		s.products[p.Family] = &p
	}
	for i := range accessories {
		a := accessories[i]
		s.accessories[a.SKU] = &a
	}
	for i := range rules {
		r := rules[i]
		s.rules[r.Preset] = &r
	}
	return s
}

// Ref returns the source's reference.
func (s *KnowledgeSource) Ref() SourceRef {
	return SourceRef{Name: s.Name, Level: s.Level}
}

// Product looks up a panel family.
func (s *KnowledgeSource) Product(family string) (*Product, bool) {
	p, ok := s.products[family]
	return p, ok
}

// Variant looks up a (family, thickness) pair.
func (s *KnowledgeSource) Variant(family string, thicknessMM int) (*ThicknessVariant, bool) {
	p, ok := s.products[family]
	if !ok {
		return nil, false
	}
	return p.Variant(thicknessMM)
}

// Accessory looks up a SKU.
func (s *KnowledgeSource) Accessory(sku string) (*AccessoryItem, bool) {
	a, ok := s.accessories[sku]
	return a, ok
}

// BomRule looks up a preset.
func (s *KnowledgeSource) BomRule(preset string) (*BomRule, bool) {
	r, ok := s.rules[preset]
	return r, ok
}

// Products returns all products, unordered.
func (s *KnowledgeSource) Products() []*Product {
	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out
}

// Accessories returns all accessories, unordered.
func (s *KnowledgeSource) Accessories() []*AccessoryItem {
	out := make([]*AccessoryItem, 0, len(s.accessories))
	for _, a := range s.accessories {
		out = append(out, a)
	}
	return out
}

// BomRules returns all BOM rules, unordered.
func (s *KnowledgeSource) BomRules() []*BomRule {
	out := make([]*BomRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Counts returns the number of products, accessories and rules.
func (s *KnowledgeSource) Counts() (products, accessories, rules int) {
	return len(s.products), len(s.accessories), len(s.rules)
}
