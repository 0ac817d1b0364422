package embedding

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// OpenAIEmbedder wraps the OpenAI REST API for both embeddings and chat
// completions.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	chat   string
}

// NewOpenAIEmbedder builds an adapter. model selects the embeddings model
// ("text-embedding-3-small" default); chatModel selects the chat model used
// by Chat/ChatJSON.
func NewOpenAIEmbedder(apiKey, model, chatModel string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	return &OpenAIEmbedder{client: openai.NewClient(apiKey), model: model, chat: chatModel}
}

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, _ string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, "")
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ErrNotSupported
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, errs.NewProviderError(e.model, statusFromErr(err), err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNotSupported
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) Chat(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.chat,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errs.NewProviderError(e.chat, statusFromErr(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNotSupported
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEmbedder) ChatJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          e.chat,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", errs.NewProviderError(e.chat, statusFromErr(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNotSupported
	}
	return resp.Choices[0].Message.Content, nil
}

// statusFromErr extracts an HTTP-ish status code from a go-openai error, for
// the unified provider-error classification.
func statusFromErr(err error) int {
	if apiErr, ok := err.(*openai.APIError); ok {
		return apiErr.HTTPStatusCode
	}
	return 0
}
