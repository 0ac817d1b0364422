package embedding

import (
	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

// ClaudeEmbedder is a chat-only adapter: Anthropic has no embeddings
// endpoint, so Embed/EmbedBatch return ErrNotSupported while Chat/ChatJSON
// go through github.com/anthropics/anthropic-sdk-go.
type ClaudeEmbedder struct {
	client *anthropic.Client
	model  string
}

// NewClaudeEmbedder builds an adapter for the given chat model
// ("claude-3-5-haiku-latest" default).
func NewClaudeEmbedder(apiKey, model string) *ClaudeEmbedder {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	cli := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeEmbedder{client: &cli, model: model}
}

func (e *ClaudeEmbedder) Name() string { return "claude:" + e.model }

func (e *ClaudeEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return nil, ErrNotSupported
}

func (e *ClaudeEmbedder) EmbedBatch(context.Context, []string, string) ([][]float32, error) {
	return nil, ErrNotSupported
}

func (e *ClaudeEmbedder) Chat(ctx context.Context, prompt string) (string, error) {
	return e.chat(ctx, prompt, "")
}

// ChatJSON appends a terse JSON-only instruction; Anthropic has no
// response_format switch, so this is steered via the prompt itself.
func (e *ClaudeEmbedder) ChatJSON(ctx context.Context, prompt string) (string, error) {
	return e.chat(ctx, prompt, "Respond with JSON only, no surrounding prose.")
}

func (e *ClaudeEmbedder) chat(ctx context.Context, prompt, system string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", errs.NewProviderError(e.model, 0, err)
	}
	if len(resp.Content) == 0 {
		return "", ErrNotSupported
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
