package ragblade

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/embedder"
	"github.com/flarexio/ragblade/packer"
	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/retriever"
	"github.com/flarexio/ragblade/vector"
)

// Service defines the core logic of RAGBlade.
type Service interface {

	// Close releases the vector index.
	Close() error

	// Ingest chunks, embeds and publishes documents into the configured
	// collection. Readers keep seeing the previous generation until the new
	// one is complete.
	Ingest(ctx context.Context, docs []rag.Document) (IngestReport, error)

	// Search returns the fragments most similar to query.
	Search(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error)

	// Answer retrieves and packs context for question and returns the
	// generated answer verbatim.
	Answer(ctx context.Context, question string) (Answer, error)

	// Describe reports the active generation of the configured collection.
	Describe(ctx context.Context) (vector.Info, error)

	// Drop removes the configured collection.
	Drop(ctx context.Context) error
}

type ServiceMiddleware func(Service) Service

func NewService(cfg Config, index vector.Index, embeddings rag.EmbeddingService, generator rag.GenerationService, opts ...embedder.Option) (Service, error) {
	if index == nil {
		return nil, ErrVectorIndexNotSet
	}

	if embeddings == nil {
		return nil, ErrEmbeddingNotSet
	}

	if generator == nil {
		return nil, ErrGeneratorNotSet
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("service", "ragblade"),
	)

	collection := cfg.Collection.Normalized()

	chunks, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}

	opts = append([]embedder.Option{embedder.WithLogger(log)}, opts...)

	embed, err := embedder.New(embeddings, cfg.Embedding.Embedder(collection.Dimensions), opts...)
	if err != nil {
		return nil, err
	}

	retrieve, err := retriever.New(embed, index, collection.Name, cfg.Retrieval)
	if err != nil {
		return nil, err
	}

	return &service{
		cfg:        cfg,
		collection: collection,
		chunker:    chunks,
		embedder:   embed,
		index:      index,
		retriever:  retrieve,
		generator:  generator,
		log:        log,
	}, nil
}

type service struct {
	cfg        Config
	collection vector.CollectionConfig

	chunker   *chunker.Chunker
	embedder  *embedder.Embedder
	index     vector.Index
	retriever *retriever.Retriever
	generator rag.GenerationService

	log *zap.Logger
}

func (svc *service) Close() error {
	return svc.index.Close()
}

func (svc *service) Ingest(ctx context.Context, docs []rag.Document) (IngestReport, error) {
	start := time.Now()

	report := IngestReport{
		RunID:      uuid.NewString(),
		Collection: svc.collection.Name,
		Documents:  len(docs),
	}

	log := svc.log.With(
		zap.String("action", "ingest"),
		zap.String("run_id", report.RunID),
	)

	fragments, err := svc.split(ctx, docs)
	if err != nil {
		return report, rag.Wrap(rag.StageIngestion, "chunk", err)
	}

	report.Fragments = len(fragments)
	log.Debug("documents chunked", zap.Int("fragments", len(fragments)))

	vectors, err := svc.embedder.EmbedBatch(ctx, fragments)
	if err != nil {
		return report, rag.Wrap(rag.StageIngestion, "embed", err)
	}

	metadata := make(map[string]map[string]string, len(docs))
	for _, doc := range docs {
		metadata[doc.ID] = doc.Metadata
	}

	records := make([]vector.Record, len(fragments))
	for i, f := range fragments {
		records[i] = Record(f, vectors[i], metadata[f.DocumentID])
	}

	info, err := svc.index.Load(ctx, svc.collection, records)
	if err != nil {
		return report, rag.Wrap(rag.StageIndex, "load", err)
	}

	report.Generation = info.Generation
	report.Duration = Duration(time.Since(start))

	return report, nil
}

func (svc *service) split(ctx context.Context, docs []rag.Document) ([]rag.Fragment, error) {
	seen := make(map[string]struct{}, len(docs))

	var fragments []rag.Fragment
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if doc.ID == "" {
			return nil, fmt.Errorf("%w: %w", rag.ErrInvalidInput, ErrEmptyDocumentID)
		}

		if _, ok := seen[doc.ID]; ok {
			return nil, fmt.Errorf("%w: %w: %s", rag.ErrInvalidInput, ErrDuplicateDocument, doc.ID)
		}

		seen[doc.ID] = struct{}{}

		chunks, err := svc.chunker.Chunk(doc)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}

		fragments = append(fragments, chunks...)
	}

	return fragments, nil
}

// Record builds the stored form of a fragment. The document metadata is
// copied and the fragment position is recorded under the rag.Meta keys.
func Record(f rag.Fragment, vec []float32, metadata map[string]string) vector.Record {
	meta := vector.CloneMetadata(metadata)
	if meta == nil {
		meta = make(map[string]string, 4)
	}

	meta[rag.MetaDocumentID] = f.DocumentID
	meta[rag.MetaSequence] = strconv.Itoa(f.Index)
	meta[rag.MetaSpanStart] = strconv.Itoa(f.Span.Start)
	meta[rag.MetaSpanEnd] = strconv.Itoa(f.Span.End)

	return vector.Record{
		ID:       f.ID,
		Vector:   vec,
		Content:  f.Text,
		Metadata: meta,
	}
}

func (svc *service) Search(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error) {
	return svc.retriever.Retrieve(ctx, query, k, filter)
}

func (svc *service) Answer(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)

	budget, err := svc.contextBudget(question)
	if err != nil {
		return Answer{}, rag.Wrap(rag.StageGeneration, "budget", err)
	}

	result, err := svc.retriever.Retrieve(ctx, question, 0, nil)
	if err != nil {
		return Answer{}, err
	}

	packed := packer.Pack(result, budget)

	prompt := rag.Prompt{
		Instruction: svc.cfg.Generation.instruction(),
		Context:     packed.Text,
		Question:    question,
	}

	rendered := prompt.Render()
	timeout := svc.cfg.Generation.timeout()

	var text string
	err = rag.Retry(ctx, svc.cfg.Generation.backoff(), func(ctx context.Context) error {
		out, err := rag.Call(ctx, timeout, func(ctx context.Context) (string, error) {
			return svc.generator.Generate(ctx, rendered)
		})
		if err != nil {
			return err
		}

		text = out
		return nil
	})
	if err != nil {
		return Answer{}, rag.Wrap(rag.StageGeneration, "generate", err)
	}

	return newAnswer(question, text, packed), nil
}

// contextBudget returns the unit budget left for context. With a prompt
// limit the instruction, the question and the template labels are charged
// first.
func (svc *service) contextBudget(question string) (int, error) {
	budget := svc.cfg.Retrieval.UnitBudget

	limit := svc.cfg.Generation.MaxPromptUnits
	if limit <= 0 {
		return budget, nil
	}

	empty := rag.Prompt{
		Instruction: svc.cfg.Generation.instruction(),
		Question:    question,
	}

	overhead := empty.Units() - rag.CountUnits(rag.NoContextMarker)

	budget = min(budget, limit-overhead)
	if budget <= 0 {
		return 0, fmt.Errorf("%w: prompt needs %d units before context, limit is %d",
			rag.ErrContextTooLarge, overhead, limit)
	}

	return budget, nil
}

func (svc *service) Describe(ctx context.Context) (vector.Info, error) {
	info, err := svc.index.Describe(ctx, svc.collection.Name)
	if err != nil {
		return vector.Info{}, rag.Wrap(rag.StageIndex, "describe", err)
	}

	return info, nil
}

func (svc *service) Drop(ctx context.Context) error {
	if err := svc.index.Drop(ctx, svc.collection.Name); err != nil {
		return rag.Wrap(rag.StageIndex, "drop", err)
	}

	return nil
}

// IngestSource loads every document of src and ingests them in one run.
func IngestSource(ctx context.Context, svc Service, src rag.DocumentSource) (IngestReport, error) {
	docs, err := src.Load(ctx)
	if err != nil {
		return IngestReport{}, rag.Wrap(rag.StageIngestion, "load documents", err)
	}

	return svc.Ingest(ctx, docs)
}
