package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// StubEmbedder is the deterministic backend used by tests and dry runs.
// Each word hashes into a bucket of the vector, so texts that share words
// land near each other in cosine space, which is enough for ranking tests.
type StubEmbedder struct {
	dim int
}

func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &StubEmbedder{dim: dim}
}

func (s *StubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.vector(text), nil
}

func (s *StubEmbedder) vector(text string) []float32 {
	v := make([]float32, s.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(s.dim))
		if sum&(1<<63) != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := 1 / float32(math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
