package embedding

import (
	"context"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// GeminiEmbedder wraps Google's generative-ai-go client: an
// EmbeddingModel for vectors plus a GenerativeModel for Chat/ChatJSON.
type GeminiEmbedder struct {
	client      *genai.Client
	embedModel  *genai.EmbeddingModel
	chatModel   *genai.GenerativeModel
	embedName   string
}

// NewGeminiEmbedder connects with apiKey and selects embedModel ("text-embedding-004"
// default) and chatModel ("gemini-1.5-flash" default).
func NewGeminiEmbedder(ctx context.Context, apiKey, embedModel, chatModel string) (*GeminiEmbedder, error) {
	cli, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.Wrap(err, "create gemini client")
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	if chatModel == "" {
		chatModel = "gemini-1.5-flash"
	}
	return &GeminiEmbedder{
		client:     cli,
		embedModel: cli.EmbeddingModel(embedModel),
		chatModel:  cli.GenerativeModel(chatModel),
		embedName:  embedModel,
	}, nil
}

func (e *GeminiEmbedder) Name() string { return "gemini:" + e.embedName }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string, _ string) ([]float32, error) {
	resp, err := e.embedModel.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errs.NewProviderError(e.embedName, 0, err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch uses Gemini's batch embedding call, matching the provider's
// `:batchEmbedContents` wire endpoint.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	batch := e.embedModel.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := e.embedModel.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, errs.NewProviderError(e.embedName, 0, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, ErrNotSupported
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) Chat(ctx context.Context, prompt string) (string, error) {
	resp, err := e.chatModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", errs.NewProviderError(e.embedName, 0, err)
	}
	return extractGeminiText(resp), nil
}

func (e *GeminiEmbedder) ChatJSON(ctx context.Context, prompt string) (string, error) {
	e.chatModel.ResponseMIMEType = "application/json"
	defer func() { e.chatModel.ResponseMIMEType = "" }()
	return e.Chat(ctx, prompt)
}

func extractGeminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out += string(txt)
		}
	}
	return out
}
