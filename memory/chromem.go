package memory

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/hupe1980/supportmesh/core"
)

const (
	metaOwner   = "owner"
	metaCreated = "created_at"
)

// ChromemStore is a LongTermMemory backed by an embedded chromem-go
// collection. Vectors are computed by the configured embedder; owner is
// stored as document metadata and used as a where filter.
type ChromemStore struct {
	opts Options
	db   *chromem.DB
	col  *chromem.Collection
}

var _ core.LongTermMemory = (*ChromemStore)(nil)

// NewChromemStore creates a store over db. A nil db creates an in-memory one.
func NewChromemStore(db *chromem.DB, optFns ...func(o *Options)) (*ChromemStore, error) {
	opts := defaultOptions(optFns)

	if db == nil {
		db = chromem.NewDB()
	}

	// vectors are always precomputed
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedOne(ctx, opts.Embedder, text)
	}

	col, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", opts.Collection, err)
	}

	return &ChromemStore{opts: opts, db: db, col: col}, nil
}

// NewPersistentChromemStore opens (or creates) a gob persisted database at path.
func NewPersistentChromemStore(path string, compress bool, optFns ...func(o *Options)) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db %q: %w", path, err)
	}

	return NewChromemStore(db, optFns...)
}

// Write stores content as a chromem document.
func (c *ChromemStore) Write(ctx context.Context, owner, content string, metadata map[string]string) (string, error) {
	if err := validate(owner, 0); err != nil {
		return "", err
	}

	vec, err := embedOne(ctx, c.opts.Embedder, content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	id := newRecordID(now)

	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]string{}
	}

	md[metaOwner] = owner
	md[metaCreated] = now.Format(time.RFC3339Nano)

	doc := chromem.Document{ID: id, Content: content, Metadata: md, Embedding: vec}
	if err := c.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}

	c.opts.Logger.Debug("memory.write", "backend", "chromem", "owner", owner, "id", id)

	return id, nil
}

// Retrieve queries the collection filtered to owner.
func (c *ChromemStore) Retrieve(ctx context.Context, owner, query string, k int) ([]core.MemoryRecord, error) {
	if err := validate(owner, k); err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection
	n := min(k, c.col.Count())
	if n == 0 {
		return []core.MemoryRecord{}, nil
	}

	qv, err := embedOne(ctx, c.opts.Embedder, query)
	if err != nil {
		return nil, err
	}

	results, err := c.col.QueryEmbedding(ctx, qv, n, map[string]string{metaOwner: owner}, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]core.MemoryRecord, 0, len(results))

	for _, r := range results {
		if r.Metadata[metaOwner] != owner {
			continue
		}

		md := maps.Clone(r.Metadata)
		created, _ := time.Parse(time.RFC3339Nano, md[metaCreated])

		delete(md, metaOwner)
		delete(md, metaCreated)

		out = append(out, core.MemoryRecord{
			ID:       r.ID,
			Owner:    owner,
			Content:  r.Content,
			Metadata: md,
			Score:    float64(r.Similarity),
			Created:  created,
		})
	}

	return rankTopK(out, k), nil
}
