package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DeterministicEmbedder hashes character trigrams into a fixed-size vector,
// used by tests in place of a real embedding backend. Grounded on the
// teacher's internal/rag/embedder.deterministicEmbedder.
type DeterministicEmbedder struct {
	dim      int
	normalize bool
}

// NewDeterministicEmbedder builds a hash-based Embedder of the given
// dimension.
func NewDeterministicEmbedder(dim int, normalize bool) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &DeterministicEmbedder{dim: dim, normalize: normalize}
}

func (d *DeterministicEmbedder) Dimensions() int { return d.dim }

func (d *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dim)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vec, nil
	}
	runes := []rune(text)
	n := 3
	if len(runes) < n {
		n = len(runes)
	}
	for i := 0; i+n <= len(runes); i++ {
		gram := string(runes[i : i+n])
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum32()) % d.dim
		if idx < 0 {
			idx += d.dim
		}
		vec[idx]++
	}
	if d.normalize {
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range vec {
				vec[i] = float32(float64(vec[i]) / norm)
			}
		}
	}
	return vec, nil
}

func (d *DeterministicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := d.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
