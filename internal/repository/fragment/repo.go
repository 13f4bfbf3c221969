// Package fragment persists documents and their fragments in Redis hashes and
// exposes vector similarity search over the fragment index.
package fragment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lumora-cloud/ragserve/internal/db"
	"github.com/lumora-cloud/ragserve/internal/domain"
)

// store is the consumer interface for fragment storage (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// VectorHit is a single nearest-neighbor result. Distance is the raw cosine
// distance (smaller = more similar).
type VectorHit struct {
	FragmentID string
	Distance   float64
}

// HNSWConfig tunes the vector index build parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements fragment and document persistence over db.Store.
type Repo struct {
	store     store
	keyPrefix string
	dims      int
	hnsw      HNSWConfig
}

// New creates a fragment repository. keyPrefix namespaces all keys and the
// index name; dims is the embedding dimension enforced by the index.
func New(s store, keyPrefix string, dims int, hnsw HNSWConfig) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, dims: dims, hnsw: hnsw}
}

// EnsureIndex creates the fragment vector index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	name := r.indexName()

	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(name).
		Prefix(r.fragPrefix()).
		Tag("__doc_id").As("doc_id").
		VectorHNSW("__vector", r.dims, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).As("vector").
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		// concurrent startup can race on creation
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// UpsertFragments stores fragments in a single pipelined round-trip.
// Every fragment must carry an embedding of the configured dimension.
func (r *Repo) UpsertFragments(ctx context.Context, frags []domain.Fragment) error {
	if len(frags) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(frags))
	for i, f := range frags {
		if len(f.Embedding) != r.dims {
			return fmt.Errorf("fragment %s: %w: got %d, want %d",
				f.ID, domain.ErrVectorDimMismatch, len(f.Embedding), r.dims)
		}
		items[i] = db.HashSetItem{
			Key:    r.fragKey(f.ID),
			Fields: fragmentToHash(f),
		}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d fragments: %w", len(frags), err)
	}
	return nil
}

// UpsertDocument stores document metadata.
func (r *Repo) UpsertDocument(ctx context.Context, doc domain.Document) error {
	if err := r.store.HSet(ctx, r.docKey(doc.ID), documentToHash(doc)); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns document metadata by id.
func (r *Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	m, err := r.store.HGetAll(ctx, r.docKey(id))
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	// HGETALL on a missing key returns an empty map, not an error
	if len(m) == 0 {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return hashToDocument(id, m), nil
}

// ListDocuments returns all document metadata, newest first.
func (r *Repo) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	keys, err := r.store.Scan(ctx, r.docPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}

	docs := make([]domain.Document, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		id := strings.TrimPrefix(keys[i], r.docPrefix())
		docs = append(docs, hashToDocument(id, m))
	}

	sort.SliceStable(docs, func(a, b int) bool {
		return docs[a].UploadedAt.After(docs[b].UploadedAt)
	})
	return docs, nil
}

// DeleteDocument removes a document and all of its fragments.
func (r *Repo) DeleteDocument(ctx context.Context, id string) error {
	exists, err := r.store.Exists(ctx, r.docKey(id))
	if err != nil {
		return fmt.Errorf("check document %s: %w", id, err)
	}
	if !exists {
		return domain.ErrDocumentNotFound
	}

	fragKeys, err := r.store.Scan(ctx, r.fragPrefix()+id+":*")
	if err != nil {
		return fmt.Errorf("scan fragments of %s: %w", id, err)
	}
	if err := r.store.DelMulti(ctx, fragKeys); err != nil {
		return fmt.Errorf("delete fragments of %s: %w", id, err)
	}

	if err := r.store.Del(ctx, r.docKey(id)); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored fragment, without embeddings, ordered by
// fragment id. The order is stable so a corpus snapshot built from it ranks
// ties deterministically.
func (r *Repo) LoadAll(ctx context.Context) ([]domain.Fragment, error) {
	keys, err := r.store.Scan(ctx, r.fragPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan fragments: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch fragments: %w", err)
	}

	frags := make([]domain.Fragment, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		id := strings.TrimPrefix(keys[i], r.fragPrefix())
		frags = append(frags, hashToFragment(id, m))
	}
	return frags, nil
}

// SearchKNN returns up to k fragments nearest to the query vector, ordered by
// ascending cosine distance.
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Vector:       vector,
		K:            k,
		ReturnFields: []string{"__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	if sr == nil || sr.Total == 0 {
		return nil, nil
	}

	hits := make([]VectorHit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		hits = append(hits, VectorHit{
			FragmentID: strings.TrimPrefix(entry.Key, r.fragPrefix()),
			Distance:   entry.Score,
		})
	}
	return hits, nil
}

func (r *Repo) fragPrefix() string {
	return r.keyPrefix + "frag:"
}

func (r *Repo) docPrefix() string {
	return r.keyPrefix + "doc:"
}

func (r *Repo) fragKey(fragmentID string) string {
	return r.fragPrefix() + fragmentID
}

func (r *Repo) docKey(docID string) string {
	return r.docPrefix() + docID
}

func (r *Repo) indexName() string {
	return r.keyPrefix + "frag-idx"
}
