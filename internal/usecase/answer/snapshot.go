package answer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumora-cloud/ragserve/internal/domain"
	"github.com/lumora-cloud/ragserve/internal/lexical"
)

// Snapshot is an immutable view of the fragment corpus: the lexical index
// plus the id to content mapping both retrieval paths resolve against.
type Snapshot struct {
	Index    *lexical.Index
	Contents map[string]string
}

// SnapshotProvider supplies corpus snapshots to the orchestrator.
// Invalidate is called after ingestion mutates the corpus.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Invalidate()
}

func buildSnapshot(frags []domain.Fragment) *Snapshot {
	ids := make([]string, len(frags))
	contents := make([]string, len(frags))
	byID := make(map[string]string, len(frags))
	for i, f := range frags {
		ids[i] = f.ID
		contents[i] = f.Content
		byID[f.ID] = f.Content
	}
	return &Snapshot{
		Index:    lexical.Build(ids, contents),
		Contents: byID,
	}
}

// PerRequestSnapshots rebuilds the snapshot on every request. Always
// consistent with the store, pays a full corpus load per query.
type PerRequestSnapshots struct {
	loader CorpusLoader
}

// NewPerRequestSnapshots creates a provider that loads the corpus per request.
func NewPerRequestSnapshots(loader CorpusLoader) *PerRequestSnapshots {
	return &PerRequestSnapshots{loader: loader}
}

func (p *PerRequestSnapshots) Snapshot(ctx context.Context) (*Snapshot, error) {
	frags, err := p.loader.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	return buildSnapshot(frags), nil
}

func (p *PerRequestSnapshots) Invalidate() {}

// CachedSnapshots builds the snapshot once and serves it until ingestion
// invalidates it or the TTL expires. Concurrent requests during a rebuild
// each load the corpus; the last build wins, which is harmless since every
// build sees a corpus at least as fresh as the invalidation.
type CachedSnapshots struct {
	loader CorpusLoader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	snap    *Snapshot
	builtAt time.Time
}

// NewCachedSnapshots creates a provider that caches the snapshot between
// ingestions. ttl bounds staleness against out-of-band corpus writes;
// ttl <= 0 disables expiry.
func NewCachedSnapshots(loader CorpusLoader, ttl time.Duration) *CachedSnapshots {
	return &CachedSnapshots{loader: loader, ttl: ttl, now: time.Now}
}

func (c *CachedSnapshots) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	builtAt := c.builtAt
	c.mu.RUnlock()
	if snap != nil && (c.ttl <= 0 || c.now().Sub(builtAt) < c.ttl) {
		return snap, nil
	}

	frags, err := c.loader.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	snap = buildSnapshot(frags)

	c.mu.Lock()
	c.snap = snap
	c.builtAt = c.now()
	c.mu.Unlock()
	return snap, nil
}

func (c *CachedSnapshots) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
