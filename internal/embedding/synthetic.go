package embedding

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// SyntheticEmbedder is the deterministic hash-feature fallback:
// it hashes canonicalized unigrams, bigrams, trigrams, skip-grams,
// char-n-grams, plus positional and length-density features into a
// fixed-width vector, then L2-normalizes.
type SyntheticEmbedder struct {
	dim int
}

// NewSyntheticEmbedder builds a synthetic embedder producing dim-length vectors.
func NewSyntheticEmbedder(dim int) *SyntheticEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &SyntheticEmbedder{dim: dim}
}

func (e *SyntheticEmbedder) Name() string { return "synthetic" }

func (e *SyntheticEmbedder) Chat(_ context.Context, prompt string) (string, error) {
	return "", ErrNotSupported
}

func (e *SyntheticEmbedder) ChatJSON(_ context.Context, prompt string) (string, error) {
	return "", ErrNotSupported
}

func (e *SyntheticEmbedder) Embed(_ context.Context, text string, sector string) ([]float32, error) {
	return e.vector(text, sector), nil
}

func (e *SyntheticEmbedder) EmbedBatch(_ context.Context, texts []string, sector string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t, sector)
	}
	return out, nil
}

func hashBucket(s string, dim int) (int, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	v := h.Sum32()
	sign := 1.0
	if v&1 == 1 {
		sign = -1.0
	}
	return int(v) % dim, sign
}

func (e *SyntheticEmbedder) vector(text string, sector string) []float32 {
	dim := e.dim
	acc := make([]float64, dim)
	tokens := model.CanonicalTokens(text)

	add := func(feature string, weight float64) {
		idx, sign := hashBucket(feature, dim)
		if idx < 0 {
			idx += dim
		}
		acc[idx] += sign * weight
	}

	for i, tok := range tokens {
		add("uni:"+tok, 1.0)
		add("pos:"+strconv.Itoa(i%16)+":"+tok, 0.5)
		if i+1 < len(tokens) {
			add("bi:"+tok+"_"+tokens[i+1], 0.8)
		}
		if i+2 < len(tokens) {
			add("tri:"+tok+"_"+tokens[i+1]+"_"+tokens[i+2], 0.6)
			add("skip:"+tok+"_"+tokens[i+2], 0.4)
		}
	}

	lower := strings.ToLower(text)
	const charN = 3
	runes := []rune(lower)
	for i := 0; i+charN <= len(runes); i++ {
		add("char:"+string(runes[i:i+charN]), 0.3)
	}

	add("len_bucket:"+strconv.Itoa(lenBucket(len(text))), 1.0)
	add("tok_density:"+strconv.Itoa(lenBucket(len(tokens))), 0.5)
	if sector != "" {
		add("sector:"+sector, 0.2)
	}

	out := make([]float32, dim)
	for i, v := range acc {
		out[i] = float32(v)
	}
	return model.L2Normalize(out, 1e-9)
}

func lenBucket(n int) int {
	switch {
	case n < 16:
		return 0
	case n < 64:
		return 1
	case n < 256:
		return 2
	case n < 1024:
		return 3
	default:
		return 4
	}
}
