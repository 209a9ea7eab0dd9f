package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
)

func backends(t *testing.T) map[string]func() core.LongTermMemory {
	return map[string]func() core.LongTermMemory{
		"in_memory": func() core.LongTermMemory { return NewInMemoryStore() },
		"chromem": func() core.LongTermMemory {
			s, err := NewChromemStore(nil)
			require.NoError(t, err)
			return s
		},
		"sqlite": func() core.LongTermMemory {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestLongTermMemory_Contract(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("owner isolation", func(t *testing.T) {
				store := factory()

				_, err := store.Write(ctx, "support/alice", "alice bought a blue kettle", nil)
				require.NoError(t, err)
				_, err = store.Write(ctx, "support/bob", "bob returned a blue kettle", nil)
				require.NoError(t, err)

				recs, err := store.Retrieve(ctx, "support/alice", "blue kettle", 5)
				require.NoError(t, err)
				require.Len(t, recs, 1)
				assert.Equal(t, "support/alice", recs[0].Owner)
				assert.Contains(t, recs[0].Content, "alice")
			})

			t.Run("ranking and k", func(t *testing.T) {
				store := factory()

				_, err := store.Write(ctx, "o", "warranty for serial XYZ expires next year", map[string]string{"turn_id": "t1"})
				require.NoError(t, err)
				_, err = store.Write(ctx, "o", "customer likes red shoes", nil)
				require.NoError(t, err)
				_, err = store.Write(ctx, "o", "delivery address changed to berlin", nil)
				require.NoError(t, err)

				recs, err := store.Retrieve(ctx, "o", "warranty serial XYZ", 2)
				require.NoError(t, err)
				require.Len(t, recs, 2)
				assert.Contains(t, recs[0].Content, "warranty")
				assert.Equal(t, "t1", recs[0].Metadata["turn_id"])
				assert.GreaterOrEqual(t, recs[0].Score, recs[1].Score)
				assert.NotEmpty(t, recs[0].ID)
				assert.False(t, recs[0].Created.IsZero())
			})

			t.Run("empty owner and zero k", func(t *testing.T) {
				store := factory()

				recs, err := store.Retrieve(ctx, "nobody", "anything", 3)
				require.NoError(t, err)
				assert.Empty(t, recs)

				_, err = store.Write(ctx, "o", "something", nil)
				require.NoError(t, err)

				recs, err = store.Retrieve(ctx, "o", "something", 0)
				require.NoError(t, err)
				assert.Empty(t, recs)
			})

			t.Run("invalid input", func(t *testing.T) {
				store := factory()

				_, err := store.Write(ctx, "", "x", nil)
				assert.True(t, errors.Is(err, core.ErrInvalidRequest))

				_, err = store.Retrieve(ctx, "o", "x", -1)
				assert.True(t, errors.Is(err, core.ErrInvalidRequest))
			})
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}

func TestFloat32Bytes(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, bytesToFloat32(float32ToBytes(v)))
	assert.Nil(t, bytesToFloat32([]byte{1, 2, 3}))
}

func TestOwnerFilter(t *testing.T) {
	f := ownerFilter("support/alice")
	require.Len(t, f.Must, 1)

	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, metaOwner, field.Key)
	assert.Equal(t, "support/alice", field.Match.GetKeyword())
}
