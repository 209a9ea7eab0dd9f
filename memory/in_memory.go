package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

type storedRecord struct {
	record core.MemoryRecord
	vector []float32
}

// InMemoryStore is a process-local LongTermMemory. Records are partitioned
// by owner; retrieval scans only the caller's partition.
//
// Concurrency: protected by RWMutex. Embedding happens outside the lock.
type InMemoryStore struct {
	opts    Options
	mu      sync.RWMutex
	records map[string][]storedRecord
}

var _ core.LongTermMemory = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	return &InMemoryStore{opts: defaultOptions(optFns), records: map[string][]storedRecord{}}
}

// Write embeds and stores content for owner.
func (m *InMemoryStore) Write(ctx context.Context, owner, content string, metadata map[string]string) (string, error) {
	if err := validate(owner, 0); err != nil {
		return "", err
	}

	vec, err := embedOne(ctx, m.opts.Embedder, content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	rec := core.MemoryRecord{
		ID:       newRecordID(now),
		Owner:    owner,
		Content:  content,
		Metadata: maps.Clone(metadata),
		Created:  now,
	}

	m.mu.Lock()
	m.records[owner] = append(m.records[owner], storedRecord{record: rec, vector: vec})
	m.mu.Unlock()

	m.opts.Logger.Debug("memory.write", "backend", "memory", "owner", owner, "id", rec.ID)

	return rec.ID, nil
}

// Retrieve returns up to k records of owner ranked by similarity to query.
func (m *InMemoryStore) Retrieve(ctx context.Context, owner, query string, k int) ([]core.MemoryRecord, error) {
	if err := validate(owner, k); err != nil {
		return nil, err
	}

	if k == 0 {
		return []core.MemoryRecord{}, nil
	}

	qv, err := embedOne(ctx, m.opts.Embedder, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	stored := m.records[owner]
	out := make([]core.MemoryRecord, 0, len(stored))

	for _, sr := range stored {
		rec := sr.record
		rec.Metadata = maps.Clone(sr.record.Metadata)
		rec.Score = cosineSimilarity(qv, sr.vector)
		out = append(out, rec)
	}
	m.mu.RUnlock()

	return rankTopK(out, k), nil
}
