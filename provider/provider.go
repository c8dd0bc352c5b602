// Package provider implements the embedding and generation capabilities on
// top of langchaingo. The variant is chosen once, at startup.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/flarexio/ragblade/rag"
)

type Type string

const (
	OpenAI Type = "openai" // standard endpoint
	Azure  Type = "azure"  // enterprise-hosted endpoint
	Ollama Type = "ollama"
)

type Config struct {
	Type           Type    `yaml:"type"`
	BaseURL        string  `yaml:"baseURL"`
	Token          string  `yaml:"token"`
	APIVersion     string  `yaml:"apiVersion"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	ChatModel      string  `yaml:"chatModel"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"maxTokens"`
	BatchSize      int     `yaml:"batchSize"`
}

// Client serves both rag.EmbeddingService and rag.GenerationService.
type Client struct {
	embedder embeddings.Embedder
	llm      llms.Model
	model    string
	options  []llms.CallOption
}

func New(cfg Config) (*Client, error) {
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model is required", rag.ErrInvalidInput)
	}

	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("%w: chat model is required", rag.ErrInvalidInput)
	}

	var (
		embedClient embeddings.EmbedderClient
		llm         llms.Model
		err         error
	)

	switch cfg.Type {
	case OpenAI, "":
		llm, embedClient, err = newOpenAI(cfg, openai.APITypeOpenAI)

	case Azure:
		if cfg.BaseURL == "" || cfg.APIVersion == "" {
			return nil, fmt.Errorf("%w: azure needs baseURL and apiVersion", rag.ErrInvalidInput)
		}

		llm, embedClient, err = newOpenAI(cfg, openai.APITypeAzure)

	case Ollama:
		llm, embedClient, err = newOllama(cfg)

	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", rag.ErrInvalidInput, cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Type, classify(err))
	}

	embedOpts := []embeddings.Option{
		embeddings.WithStripNewLines(false),
	}

	if cfg.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(cfg.BatchSize))
	}

	embedder, err := embeddings.NewEmbedder(embedClient, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Type, err)
	}

	var options []llms.CallOption
	if cfg.Temperature > 0 {
		options = append(options, llms.WithTemperature(cfg.Temperature))
	}

	if cfg.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(cfg.MaxTokens))
	}

	return &Client{
		embedder: embedder,
		llm:      llm,
		model:    cfg.EmbeddingModel,
		options:  options,
	}, nil
}

func newOpenAI(cfg Config, apiType openai.APIType) (llms.Model, embeddings.EmbedderClient, error) {
	opts := []openai.Option{
		openai.WithAPIType(apiType),
		openai.WithToken(strings.TrimPrefix(cfg.Token, "Bearer ")),
		openai.WithModel(cfg.ChatModel),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	if cfg.APIVersion != "" {
		opts = append(opts, openai.WithAPIVersion(cfg.APIVersion))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	return llm, llm, nil
}

// newOllama needs one client per model; ollama embeds with the model the
// client was created for.
func newOllama(cfg Config) (llms.Model, embeddings.EmbedderClient, error) {
	var opts []ollama.Option
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	chat, err := ollama.New(append(opts, ollama.WithModel(cfg.ChatModel))...)
	if err != nil {
		return nil, nil, err
	}

	embed, err := ollama.New(append(opts, ollama.WithModel(cfg.EmbeddingModel))...)
	if err != nil {
		return nil, nil, err
	}

	return chat, embed, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classify(err)
	}

	return vec, nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classify(err)
	}

	return vecs, nil
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	answer, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, c.options...)
	if err != nil {
		return "", classify(err)
	}

	return answer, nil
}
