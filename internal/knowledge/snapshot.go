package knowledge

import (
	"cmp"
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/resolve"
)

var versionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("panel-quote/snapshot"))

// Snapshot is an immutable set of knowledge sources. Every request reads
// exactly one snapshot from start to finish.
type Snapshot struct {
	sources []*model.KnowledgeSource
	version string

	once     sync.Once
	resolver *resolve.Resolver
}

// NewSnapshot builds a snapshot over the given sources. The version is
// derived from the content, so reloading identical data yields the same
// version.
func NewSnapshot(sources ...*model.KnowledgeSource) *Snapshot {
	ordered := resolve.Order(sources)
	return &Snapshot{
		sources: ordered,
		version: contentVersion(ordered),
	}
}

// Version identifies the snapshot's content.
func (s *Snapshot) Version() string { return s.version }

// Sources returns the sources in precedence order.
func (s *Snapshot) Sources() []*model.KnowledgeSource {
	return slices.Clone(s.sources)
}

// Source returns the source with the given name.
func (s *Snapshot) Source(name string) (*model.KnowledgeSource, bool) {
	for _, src := range s.sources {
		if src.Name == name {
			return src, true
		}
	}
	return nil, false
}

// Resolver returns a resolver over the snapshot's sources.
func (s *Snapshot) Resolver() *resolve.Resolver {
	s.once.Do(func() {
		s.resolver = resolve.New(s.sources)
	})
	return s.resolver
}

type sourceDigest struct {
	Name        string                 `json:"name"`
	Level       int                    `json:"level"`
	Kind        model.SourceKind       `json:"kind"`
	Products    []*model.Product       `json:"products"`
	Accessories []*model.AccessoryItem `json:"accessories"`
	BomRules    []*model.BomRule       `json:"bom_rules"`
}

func contentVersion(sources []*model.KnowledgeSource) string {
	digests := make([]sourceDigest, 0, len(sources))
	for _, src := range sources {
		d := sourceDigest{
			Name:        src.Name,
			Level:       src.Level,
			Kind:        src.Kind,
			Products:    src.Products(),
			Accessories: src.Accessories(),
			BomRules:    src.BomRules(),
		}
		slices.SortFunc(d.Products, func(a, b *model.Product) int { return cmp.Compare(a.Family, b.Family) })
		slices.SortFunc(d.Accessories, func(a, b *model.AccessoryItem) int { return cmp.Compare(a.SKU, b.SKU) })
		slices.SortFunc(d.BomRules, func(a, b *model.BomRule) int { return cmp.Compare(a.Preset, b.Preset) })
		digests = append(digests, d)
	}
	// Records hold only strings, ints, maps and decimals.
	data, _ := json.Marshal(digests)
	return uuid.NewSHA1(versionNamespace, data).String()
}
