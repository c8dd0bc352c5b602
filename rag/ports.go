package rag

import "context"

// DocumentSource produces the documents of one ingestion run.
// It fails with ErrSourceUnavailable or ErrParse.
type DocumentSource interface {
	Load(ctx context.Context) ([]Document, error)
}

// EmbeddingService computes fixed-length vectors for text.
// It fails with ErrRateLimited, ErrTimeout, ErrInvalidInput or ErrAuth.
type EmbeddingService interface {

	// Embed computes the vector of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model identifies the embedding model; cached vectors are keyed by it.
	Model() string
}

// GenerationService produces an answer from a rendered prompt.
// On top of the embedding error kinds it may fail with ErrContextTooLarge.
type GenerationService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
