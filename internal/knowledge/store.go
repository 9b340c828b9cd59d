package knowledge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/metrics"
)

// SnapshotLoader builds a snapshot from source specs.
type SnapshotLoader interface {
	Load(ctx context.Context, specs []SourceSpec) (*Snapshot, error)
}

// Store holds the current snapshot. Readers never block; a refresh builds
// a complete replacement and swaps it in only if every source loaded.
type Store struct {
	loader SnapshotLoader
	specs  []SourceSpec

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serialises refreshes
}

// NewStore creates an empty Store. Call Refresh or Set before quoting.
func NewStore(loader SnapshotLoader, specs []SourceSpec) *Store {
	return &Store{loader: loader, specs: specs}
}

// Snapshot returns the current snapshot, or nil before the first load.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Set replaces the current snapshot.
func (s *Store) Set(snap *Snapshot) {
	s.current.Store(snap)
	publishCounts(snap)
}

// Refresh reloads every configured source. On failure the previous
// snapshot stays current and the error is returned.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	previous := s.current.Load()

	snap, err := s.loader.Load(ctx, s.specs)
	if err != nil {
		metrics.RecordRefresh("failed", timer.Duration())
		fields := []zap.Field{zap.Error(err)}
		if previous != nil {
			fields = append(fields, zap.String("keeping_version", previous.Version()))
		}
		zap.L().Error("knowledge: refresh failed", fields...)
		return nil, err
	}

	s.Set(snap)
	metrics.RecordRefresh("ok", timer.Duration())

	changed := previous == nil || previous.Version() != snap.Version()
	zap.L().Info("knowledge: refreshed",
		zap.String("version", snap.Version()),
		zap.Bool("changed", changed),
		zap.Duration("elapsed", timer.Duration()),
	)
	return snap, nil
}

func publishCounts(snap *Snapshot) {
	if snap == nil {
		return
	}
	for _, src := range snap.sources {
		p, a, r := src.Counts()
		metrics.SetSourceRecords(src.Name, p, a, r)
	}
}
