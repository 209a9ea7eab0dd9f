// Package embedding provides offline core.Embedder implementations. Provider
// backed embedders live next to their model adapters (model/openai).
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/hupe1980/supportmesh/core"
)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 256

// HashEmbedder maps texts to L2-normalized bag-of-words vectors via feature
// hashing. It is deterministic and needs no network, which makes it the
// default for tests and local runs. Similarity is lexical, not semantic.
type HashEmbedder struct {
	dims int
}

var _ core.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder returns an embedder producing vectors of dims entries.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed returns one vector per text.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out[i] = e.embed(text)
	}

	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)

	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()

		// the top bit picks the sign to keep collisions unbiased
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}

		vec[int(sum%uint32(e.dims))] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vec
	}

	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}

	return vec
}

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
