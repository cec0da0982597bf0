package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/precofacil/catalog/internal/domain"
)

// HashingModel is the last-resort local embedder: character trigrams
// hashed into a fixed-dimension vector, L2-normalized. It needs no
// external service and is fully deterministic, which keeps the pipeline
// alive when every remote model is down.
type HashingModel struct {
	dimension int
}

// NewHashingModel creates a local hashing embedder.
func NewHashingModel(dimension int) *HashingModel {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashingModel{dimension: dimension}
}

// Name identifies the fallback slot.
func (m *HashingModel) Name() string { return "local-hashing" }

// Dimension returns the configured vector dimension.
func (m *HashingModel) Dimension() int { return m.dimension }

// Encode hashes padded character trigrams into the vector. Identical
// text always produces an identical vector.
func (m *HashingModel) Encode(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dimension)
	padded := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	runes := []rune(padded)

	for i := 0; i+2 < len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		sum := h.Sum32()
		idx := int(sum % uint32(m.dimension))
		// Sign bit spreads trigrams across both directions so unrelated
		// texts do not all accumulate positive mass.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}

var _ domain.EmbeddingModel = (*HashingModel)(nil)
