package embedding

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// OllamaEmbedder wraps a local Ollama daemon via its api client.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
	chat   string
}

// NewOllamaEmbedder points at baseURL (default "http://localhost:11434").
func NewOllamaEmbedder(baseURL, model, chatModel string) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if chatModel == "" {
		chatModel = "llama3"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.Wrap(err, "parse ollama base url")
	}
	return &OllamaEmbedder{
		client: ollama.NewClient(u, http.DefaultClient),
		model:  model,
		chat:   chatModel,
	}, nil
}

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string, _ string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, "")
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ErrNotSupported
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, errs.NewProviderError(e.model, ollamaStatus(err), err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrNotSupported
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		out[i] = v
	}
	return out, nil
}

func (e *OllamaEmbedder) Chat(ctx context.Context, prompt string) (string, error) {
	var builder strings.Builder
	stream := false
	req := &ollama.ChatRequest{
		Model:    e.chat,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}
	err := e.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		builder.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errs.NewProviderError(e.chat, ollamaStatus(err), err)
	}
	return builder.String(), nil
}

// ChatJSON sends the prompt unchanged and requests JSON output through
// Ollama's format="json" option, set via the request's Format field.
func (e *OllamaEmbedder) ChatJSON(ctx context.Context, prompt string) (string, error) {
	var builder strings.Builder
	stream := false
	req := &ollama.ChatRequest{
		Model:    e.chat,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Format:   []byte(`"json"`),
	}
	err := e.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		builder.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errs.NewProviderError(e.chat, ollamaStatus(err), err)
	}
	return builder.String(), nil
}

func ollamaStatus(err error) int {
	var se ollama.StatusError
	if ok := errsAs(err, &se); ok {
		return se.StatusCode
	}
	return 0
}

func errsAs(err error, target *ollama.StatusError) bool {
	for err != nil {
		if se, ok := err.(ollama.StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
