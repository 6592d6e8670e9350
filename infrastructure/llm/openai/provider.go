// Package openai backs the LLM and embedding ports with the OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// DefaultChatModel is used when no chat model is configured.
const DefaultChatModel = "gpt-4o-mini"

// DefaultEmbeddingModel is used when no embedding model is configured.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// Config holds the provider settings.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	BaseURL        string
	Timeout        time.Duration
}

// Provider implements both ports.LLMProvider and ports.EmbeddingProvider on
// one client. Generative calls and embedding calls share the connection but
// use separate models.
type Provider struct {
	client         oai.Client
	chatModel      string
	embeddingModel string
	logger         *zap.Logger
}

var (
	_ ports.LLMProvider       = (*Provider)(nil)
	_ ports.EmbeddingProvider = (*Provider)(nil)
)

func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, appErrors.NewValidation("openai: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &Provider{
		client:         oai.NewClient(reqOpts...),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		logger:         logger,
	}, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	messages := []ports.Message{{Role: "user", Content: prompt}}
	return p.GenerateWithContext(ctx, messages, opts)
}

func (p *Provider) GenerateWithContext(ctx context.Context, messages []ports.Message, opts ports.GenerateOptions) (string, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", appErrors.Wrap(err, "openai: chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", appErrors.NewUnavailable("openai: empty choices in response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// CountTokens approximates with the ~4 chars/token heuristic for GPT-series
// models. TODO: swap in tiktoken-go for exact counts per model.
func (p *Provider) CountTokens(ctx context.Context, text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

func (p *Provider) SupportsFunctionCalling() bool {
	lower := strings.ToLower(p.chatModel)
	return !strings.HasPrefix(lower, "o1-mini")
}

// ExtractEntities asks the chat model for a JSON entity list. Prose around
// the array is tolerated.
func (p *Provider) ExtractEntities(ctx context.Context, text string) ([]ports.Entity, error) {
	prompt := "Extract the named entities from the text. Respond with a JSON array only: " +
		`[{"text": "...", "type": "person|organization|technology|concept|location", "confidence": 0.0}]` +
		"\n\nText:\n" + text
	raw, err := p.Generate(ctx, prompt, ports.GenerateOptions{
		SystemPrompt: "You are a precise entity extractor.",
		MaxTokens:    1024,
		Temperature:  0,
	})
	if err != nil {
		return nil, err
	}
	return parseEntities(raw)
}

func parseEntities(raw string) ([]ports.Entity, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}
	var entities []ports.Entity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil, appErrors.NewValidation("openai: malformed entity payload")
	}
	return entities, nil
}

func (p *Provider) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = 100
	}
	prompt := fmt.Sprintf("Summarize the following in at most %d words:\n\n%s", maxWords, text)
	return p.Generate(ctx, prompt, ports.GenerateOptions{
		SystemPrompt: "You write faithful, compact summaries.",
		MaxTokens:    maxWords * 3,
		Temperature:  0.2,
	})
}

func (p *Provider) buildParams(messages []ports.Message, opts ports.GenerateOptions) (oai.ChatCompletionNewParams, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		converted = append(converted, oai.SystemMessage(opts.SystemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, oai.SystemMessage(m.Content))
		case "user":
			converted = append(converted, oai.UserMessage(m.Content))
		case "assistant":
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, appErrors.NewValidation(
				fmt.Sprintf("openai: unknown message role %q", m.Role))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.chatModel),
		Messages: converted,
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	return params, nil
}

func (p *Provider) EmbedText(ctx context.Context, text string, task ports.TaskType) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.embeddingModel,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "openai: embed")
	}
	if len(resp.Data) == 0 {
		return nil, appErrors.NewUnavailable("openai: empty embedding response", nil)
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string, task ports.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.embeddingModel,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "openai: embed batch")
	}
	if len(resp.Data) != len(texts) {
		return nil, appErrors.NewInternal(
			fmt.Sprintf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
	}
	out := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, appErrors.NewInternal(fmt.Sprintf("openai: unexpected embedding index %d", e.Index), nil)
		}
		out[e.Index] = float64ToFloat32(e.Embedding)
	}
	return out, nil
}

// Dimension reports the output width of the configured embedding model.
func (p *Provider) Dimension() int {
	lower := strings.ToLower(p.embeddingModel)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	default:
		return 1536
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
