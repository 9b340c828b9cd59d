package knowledge

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/resolve"
)

// Severity grades an audit finding.
type Severity string

// Finding severities. Errors make quotes touching the key fail; warnings
// are surfaced on quotations but do not block them.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one problem found in a snapshot.
type Finding struct {
	Severity Severity `json:"severity"`
	Key      string   `json:"key"`
	Message  string   `json:"message"`
}

// SourceSummary describes one loaded source.
type SourceSummary struct {
	Name        string           `json:"name"`
	Level       int              `json:"level"`
	Kind        model.SourceKind `json:"kind,omitempty"`
	Products    int              `json:"products"`
	Accessories int              `json:"accessories"`
	BomRules    int              `json:"bom_rules"`
}

// Report is the result of auditing a snapshot.
type Report struct {
	Version  string          `json:"version"`
	Sources  []SourceSummary `json:"sources"`
	Findings []Finding       `json:"findings"`
}

// Count returns the number of findings with the given severity.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// OK reports whether the snapshot has no error findings.
func (r *Report) OK() bool { return r.Count(SeverityError) == 0 }

// missingReferences lists BOM rule references to families and SKUs that no
// source defines.
func missingReferences(snap *Snapshot) []Finding {
	families := make(map[string]bool)
	skus := make(map[string]bool)
	for _, src := range snap.sources {
		for _, p := range src.Products() {
			families[p.Family] = true
		}
		for _, a := range src.Accessories() {
			skus[a.SKU] = true
		}
	}

	var out []Finding
	for _, src := range snap.sources {
		for _, rule := range src.BomRules() {
			key := resolve.BomRuleKey(rule.Preset)
			for _, f := range rule.Families {
				if !families[f] {
					out = append(out, Finding{
						Severity: SeverityError,
						Key:      key,
						Message:  fmt.Sprintf("%s references unknown family %s", src.Ref(), f),
					})
				}
			}
			for _, sku := range rule.ReferencedSKUs() {
				if !skus[sku] {
					out = append(out, Finding{
						Severity: SeverityError,
						Key:      key,
						Message:  fmt.Sprintf("%s references unknown sku %s", src.Ref(), sku),
					})
				}
			}
		}
	}
	sortFindings(out)
	return slices.Compact(out)
}

// CheckReferences fails when any BOM rule references a family or SKU that
// no source defines.
func CheckReferences(snap *Snapshot) error {
	missing := missingReferences(snap)
	if len(missing) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(missing))
	for _, f := range missing {
		msgs = append(msgs, f.Key+": "+f.Message)
	}
	return eris.Errorf("knowledge: %d unresolved references: %s", len(missing), strings.Join(msgs, "; "))
}

// Audit resolves every key the snapshot knows about and reports
// references to unknown records, same-level disagreements, cross-level
// conflicts and active variants lacking data.
func Audit(snap *Snapshot) *Report {
	report := &Report{Version: snap.Version()}
	for _, src := range snap.sources {
		p, a, r := src.Counts()
		report.Sources = append(report.Sources, SourceSummary{
			Name:        src.Name,
			Level:       src.Level,
			Kind:        src.Kind,
			Products:    p,
			Accessories: a,
			BomRules:    r,
		})
	}

	findings := missingReferences(snap)
	rec := &resolve.Recorder{}
	r := snap.Resolver().Recording(rec)

	check := func(err error) {
		if err == nil {
			return
		}
		f, ok := model.AsFailure(err)
		if !ok || f.Kind != model.FailAmbiguousSource {
			return
		}
		findings = append(findings, Finding{Severity: SeverityError, Key: f.Key, Message: f.Detail})
	}

	families, skus, presets := keys(snap)
	for _, family := range families {
		_, err := r.Product(family)
		check(err)
		for _, mm := range r.Thicknesses(family) {
			findings = append(findings, auditVariant(r, family, mm, check)...)
		}
	}
	for _, sku := range skus {
		_, err := r.Accessory(sku)
		check(err)
		if _, err := r.AccessoryPrice(sku); err != nil {
			check(err)
			if model.IsKind(err, model.FailNotFound) {
				findings = append(findings, Finding{
					Severity: SeverityWarning,
					Key:      resolve.AccessoryPriceKey(sku),
					Message:  "no source prices this accessory",
				})
			}
		}
	}
	for _, preset := range presets {
		_, err := r.BomRule(preset)
		check(err)
	}

	for _, c := range rec.Conflicts() {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Key:      c.Key,
			Message: fmt.Sprintf("%s=%s overrides %s=%s",
				c.Winner, c.WinnerValue, c.Other, c.OtherValue),
		})
	}

	sortFindings(findings)
	report.Findings = slices.Compact(findings)
	if report.Findings == nil {
		report.Findings = []Finding{}
	}
	return report
}

func auditVariant(r *resolve.Resolver, family string, mm int, check func(error)) []Finding {
	res, err := r.Variant(family, mm)
	check(err)
	if err != nil {
		return nil
	}

	// Disagreements are reported for inactive variants too.
	_, priceErr := r.VariantPrice(family, mm)
	check(priceErr)
	_, spanErr := r.VariantSpan(family, mm)
	check(spanErr)

	if !res.Value.Active {
		return []Finding{{
			Severity: SeverityInfo,
			Key:      resolve.VariantKey(family, mm),
			Message:  "variant is inactive and cannot be quoted",
		}}
	}

	var out []Finding
	if model.IsKind(priceErr, model.FailNotFound) {
		out = append(out, Finding{
			Severity: SeverityWarning,
			Key:      resolve.PriceKey(family, mm),
			Message:  "active variant has no price in any source",
		})
	}
	if model.IsKind(spanErr, model.FailNotFound) {
		out = append(out, Finding{
			Severity: SeverityWarning,
			Key:      resolve.SpanKey(family, mm),
			Message:  "active variant has no span in any source",
		})
	}
	return out
}

// keys returns every family, SKU and preset defined by any source, sorted.
func keys(snap *Snapshot) (families, skus, presets []string) {
	for _, src := range snap.sources {
		for _, p := range src.Products() {
			families = append(families, p.Family)
		}
		for _, a := range src.Accessories() {
			skus = append(skus, a.SKU)
		}
		for _, r := range src.BomRules() {
			presets = append(presets, r.Preset)
		}
	}
	slices.Sort(families)
	slices.Sort(skus)
	slices.Sort(presets)
	return slices.Compact(families), slices.Compact(skus), slices.Compact(presets)
}

func sortFindings(fs []Finding) {
	rank := map[Severity]int{SeverityError: 0, SeverityWarning: 1, SeverityInfo: 2}
	slices.SortFunc(fs, func(a, b Finding) int {
		return cmp.Or(
			cmp.Compare(rank[a.Severity], rank[b.Severity]),
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.Message, b.Message),
		)
	})
}
