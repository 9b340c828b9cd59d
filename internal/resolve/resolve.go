// Package resolve picks the authoritative value for a key across ranked
// knowledge sources.
package resolve

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sells-group/panel-quote/internal/model"
)

// Attempt records what one source said about a key.
type Attempt struct {
	Source model.SourceRef `json:"source"`
	Found  bool            `json:"found"`
	Value  string          `json:"value,omitempty"`
}

// Resolution is the outcome of resolving a single key.
type Resolution[T any] struct {
	Key       string           `json:"key"`
	Value     T                `json:"value"`
	Winner    model.SourceRef  `json:"winner"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
	Attempts  []Attempt        `json:"attempts"`
}

// Lookup describes how to find, compare and print one kind of value.
type Lookup[T any] struct {
	Key    string
	Find   func(*model.KnowledgeSource) (T, bool)
	Equal  func(a, b T) bool
	Format func(T) string
}

// Order returns a copy of sources sorted by level, then by name. The
// input slice is not modified.
func Order(sources []*model.KnowledgeSource) []*model.KnowledgeSource {
	out := slices.Clone(sources)
	slices.SortStableFunc(out, func(a, b *model.KnowledgeSource) int {
		if c := cmp.Compare(a.Level, b.Level); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Resolve consults sources in precedence order. The first level holding
// the key supplies the value. Every other source holding a different
// value is recorded as a conflict. Disagreement inside the winning level
// fails with AmbiguousSource; absence everywhere fails with NotFound.
func Resolve[T any](sources []*model.KnowledgeSource, l Lookup[T]) (*Resolution[T], error) {
	format := l.Format
	if format == nil {
		format = func(v T) string { return fmt.Sprint(v) }
	}

	res := &Resolution[T]{Key: l.Key}
	found := false
	for _, src := range Order(sources) {
		v, ok := l.Find(src)
		att := Attempt{Source: src.Ref(), Found: ok}
		if ok {
			att.Value = format(v)
		}
		res.Attempts = append(res.Attempts, att)
		if !ok {
			continue
		}

		if !found {
			found = true
			res.Value = v
			res.Winner = src.Ref()
			continue
		}

		if l.Equal(res.Value, v) {
			continue
		}
		if src.Level == res.Winner.Level {
			return nil, &model.Failure{
				Kind:    model.FailAmbiguousSource,
				Key:     l.Key,
				Detail:  fmt.Sprintf("%s says %s, %s says %s", res.Winner, format(res.Value), src.Ref(), att.Value),
				Sources: []model.SourceRef{res.Winner, src.Ref()},
			}
		}
		res.Conflicts = append(res.Conflicts, model.Conflict{
			Key:         l.Key,
			Winner:      res.Winner,
			WinnerValue: format(res.Value),
			Other:       src.Ref(),
			OtherValue:  att.Value,
		})
	}

	if !found {
		return nil, model.NewFailure(model.FailNotFound, l.Key, "not present in any of %d sources", len(sources))
	}
	return res, nil
}
