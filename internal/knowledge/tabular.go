package knowledge

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Sheet names read from XLSX price lists.
const (
	SheetVariants    = "variants"
	SheetAccessories = "accessories"
)

// specPrefix marks variant columns copied into Specs, e.g. spec_u_value.
const specPrefix = "spec_"

type table struct {
	name   string
	header map[string]int
	rows   [][]string
}

func newTable(name string, rows [][]string) (*table, error) {
	if len(rows) == 0 {
		return &table{name: name, header: map[string]int{}}, nil
	}
	t := &table{name: name, header: make(map[string]int, len(rows[0])), rows: rows[1:]}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, dup := t.header[key]; dup {
			return nil, eris.Errorf("knowledge: %s: duplicate column %q", name, key)
		}
		t.header[key] = i
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

func (t *table) cell(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) require(cols ...string) error {
	for _, c := range cols {
		if !t.has(c) {
			return eris.Errorf("knowledge: %s: missing column %q", t.name, c)
		}
	}
	return nil
}

// variantsFromTable groups variant rows by family, keeping first-seen
// order.
func variantsFromTable(t *table) ([]ProductDoc, error) {
	if err := t.require("family", "thickness_mm"); err != nil {
		return nil, err
	}

	var products []ProductDoc
	index := make(map[string]int)
	for n, row := range t.rows {
		family := t.cell(row, "family")
		thickness, err := strconv.Atoi(t.cell(row, "thickness_mm"))
		if err != nil {
			return nil, eris.Wrapf(err, "knowledge: %s row %d: thickness_mm", t.name, n+2)
		}

		v := VariantDoc{
			ThicknessMM: thickness,
			UnitPrice:   Amount(t.cell(row, "unit_price")),
			Unit:        t.cell(row, "unit"),
			MaxSpan:     Amount(t.cell(row, "max_span_m")),
		}
		if raw := t.cell(row, "active"); raw != "" {
			active, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "knowledge: %s row %d: active", t.name, n+2)
			}
			v.Active = &active
		}
		for col, i := range t.header {
			if !strings.HasPrefix(col, specPrefix) || i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			if v.Specs == nil {
				v.Specs = make(map[string]string)
			}
			v.Specs[strings.TrimPrefix(col, specPrefix)] = strings.TrimSpace(row[i])
		}

		i, ok := index[family]
		if !ok {
			i = len(products)
			index[family] = i
			products = append(products, ProductDoc{
				Family: family,
				Name:   t.cell(row, "name"),
				Kind:   t.cell(row, "kind"),
			})
		}
		products[i].Variants = append(products[i].Variants, v)
	}
	return products, nil
}

func accessoriesFromTable(t *table) ([]AccessoryDoc, error) {
	if err := t.require("sku", "unit"); err != nil {
		return nil, err
	}

	out := make([]AccessoryDoc, 0, len(t.rows))
	for n, row := range t.rows {
		a := AccessoryDoc{
			SKU:         t.cell(row, "sku"),
			Name:        t.cell(row, "name"),
			Unit:        t.cell(row, "unit"),
			UnitPrice:   Amount(t.cell(row, "unit_price")),
			PieceLength: Amount(t.cell(row, "piece_length_m")),
			Families:    splitList(t.cell(row, "families")),
			Finishes:    splitList(t.cell(row, "finishes")),
		}
		for _, s := range splitList(t.cell(row, "thicknesses")) {
			mm, err := strconv.Atoi(s)
			if err != nil {
				return nil, eris.Wrapf(err, "knowledge: %s row %d: thicknesses", t.name, n+2)
			}
			a.Thicknesses = append(a.Thicknesses, mm)
		}
		out = append(out, a)
	}
	return out, nil
}

// splitList splits "a|b|c" cells.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// documentFromSheets builds a document from XLSX sheets. BOM rules are
// not expressible in a flat sheet.
func documentFromSheets(sheets map[string][][]string) (*Document, error) {
	doc := &Document{}
	if rows, ok := sheets[SheetVariants]; ok {
		t, err := newTable(SheetVariants, rows)
		if err != nil {
			return nil, err
		}
		if doc.Products, err = variantsFromTable(t); err != nil {
			return nil, err
		}
	}
	if rows, ok := sheets[SheetAccessories]; ok {
		t, err := newTable(SheetAccessories, rows)
		if err != nil {
			return nil, err
		}
		if doc.Accessories, err = accessoriesFromTable(t); err != nil {
			return nil, err
		}
	}
	if len(doc.Products) == 0 && len(doc.Accessories) == 0 {
		return nil, eris.Errorf("knowledge: workbook has no %q or %q rows", SheetVariants, SheetAccessories)
	}
	return doc, nil
}

// documentFromCSV builds a document from a single CSV table. The header
// decides whether it lists accessories (sku column) or variants.
func documentFromCSV(rows [][]string) (*Document, error) {
	t, err := newTable("csv", rows)
	if err != nil {
		return nil, err
	}
	switch {
	case t.has("sku"):
		acc, err := accessoriesFromTable(t)
		if err != nil {
			return nil, err
		}
		return &Document{Accessories: acc}, nil
	case t.has("thickness_mm"):
		prods, err := variantsFromTable(t)
		if err != nil {
			return nil, err
		}
		return &Document{Products: prods}, nil
	default:
		return nil, eris.New("knowledge: csv header has neither sku nor thickness_mm")
	}
}
