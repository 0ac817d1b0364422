package embedding

import (
	"context"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// FastEmbedder runs a local ONNX embedding model in-process via
// fastembed.NewFlagEmbedding. It never offers Chat/ChatJSON since fastembed
// is embeddings-only.
type FastEmbedder struct {
	model *fastembed.FlagEmbedding
	name  string
}

// NewFastEmbedder loads the given model id ("BGESmallENV15" default, a
// 384-dim bge-small-en-v1.5 build).
func NewFastEmbedder(modelID string) (*FastEmbedder, error) {
	if modelID == "" {
		modelID = string(fastembed.BGESmallENV15)
	}
	cacheDir := "."
	showDownload := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:        fastembed.EmbeddingModel(modelID),
		CacheDir:     &cacheDir,
		ShowDownload: &showDownload,
	})
	if err != nil {
		return nil, errs.Wrap(err, "load fastembed model")
	}
	return &FastEmbedder{model: model, name: modelID}, nil
}

func (e *FastEmbedder) Name() string { return "fastembed:" + e.name }

func (e *FastEmbedder) Chat(context.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (e *FastEmbedder) ChatJSON(context.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (e *FastEmbedder) Embed(ctx context.Context, text string, sector string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, sector)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ErrNotSupported
	}
	return vecs[0], nil
}

func (e *FastEmbedder) EmbedBatch(_ context.Context, texts []string, _ string) ([][]float32, error) {
	embeddings, err := e.model.Embed(texts, 1)
	if err != nil {
		return nil, errs.NewProviderError(e.name, 0, err)
	}
	out := make([][]float32, len(embeddings))
	for i, vec := range embeddings {
		out[i] = float64sToFloat32s(vec)
	}
	return out, nil
}

func float64sToFloat32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
