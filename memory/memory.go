package memory

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/embedding"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configure every backend in this package.
type Options struct {
	Embedder core.Embedder
	Logger   logging.Logger
	// Collection names the chromem / qdrant collection.
	Collection string
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{Collection: "long_term_memory"}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(0)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return opts
}

// newRecordID returns a time-sortable id.
func newRecordID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func validate(owner string, k int) error {
	if owner == "" {
		return fmt.Errorf("%w: owner key is required", core.ErrInvalidRequest)
	}

	if k < 0 {
		return fmt.Errorf("%w: k must be >= 0", core.ErrInvalidRequest)
	}

	return nil
}

func embedOne(ctx context.Context, e core.Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}

	return vecs[0], nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	result := dot / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}

	return result
}

// rankTopK sorts by score (newest first on ties) and keeps k records.
func rankTopK(records []core.MemoryRecord, k int) []core.MemoryRecord {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score == records[j].Score {
			return records[i].Created.After(records[j].Created)
		}
		return records[i].Score > records[j].Score
	})

	if len(records) > k {
		records = records[:k]
	}

	return records
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
