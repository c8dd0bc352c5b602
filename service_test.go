package ragblade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade/chunker"
	"github.com/flarexio/ragblade/persistence/memory"
	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/retriever"
	"github.com/flarexio/ragblade/vector"
)

var vocabulary = []string{"truck", "tow", "hybrid", "torque", "battery", "engine", "warranty", "paint"}

// keywordEmbeddings counts vocabulary words; the last dimension is a small
// constant so no text embeds to the zero vector.
type keywordEmbeddings struct {
	err   error
	dims  int
	calls int
	sync.Mutex
}

func (e *keywordEmbeddings) Model() string {
	return "keywords"
}

func (e *keywordEmbeddings) vector(text string) []float32 {
	dims := len(vocabulary) + 1
	if e.dims > 0 {
		dims = e.dims
	}

	vec := make([]float32, dims)
	vec[dims-1] = 0.1

	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,?!")
		for i, v := range vocabulary {
			if i < dims-1 && strings.HasPrefix(word, v) {
				vec[i]++
			}
		}
	}

	return vec
}

func (e *keywordEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	e.Lock()
	e.calls++
	e.Unlock()

	if e.err != nil {
		return nil, e.err
	}

	return e.vector(text), nil
}

func (e *keywordEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.Lock()
	e.calls++
	e.Unlock()

	if e.err != nil {
		return nil, e.err
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = e.vector(text)
	}

	return vecs, nil
}

type recordingGenerator struct {
	prompts  []string
	failures []error
	sync.Mutex
}

func (g *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.Lock()
	defer g.Unlock()

	g.prompts = append(g.prompts, prompt)

	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return "", err
	}

	return "  The truck tows 9,500 pounds.\n", nil
}

func (g *recordingGenerator) Calls() int {
	g.Lock()
	defer g.Unlock()

	return len(g.prompts)
}

func (g *recordingGenerator) LastPrompt() string {
	g.Lock()
	defer g.Unlock()

	if len(g.prompts) == 0 {
		return ""
	}

	return g.prompts[len(g.prompts)-1]
}

var corpus = []rag.Document{
	{
		ID:       "towing.md",
		Text:     "The truck can tow a heavy trailer. Its engine delivers strong torque at low speed.",
		Metadata: map[string]string{"source": "towing.md"},
	},
	{
		ID:   "hybrid.md",
		Text: "The hybrid pairs a battery pack with the engine. The battery charges while braking.",
	},
	{
		ID:   "care.md",
		Text: "Wash the paint every month. The warranty covers paint defects for three years.",
	},
}

type ragBladeTestSuite struct {
	suite.Suite
	ctx        context.Context
	cfg        Config
	embeddings *keywordEmbeddings
	generator  *recordingGenerator
	index      *memory.Index
	svc        Service
}

func (suite *ragBladeTestSuite) SetupSuite() {
	zap.ReplaceGlobals(zap.NewNop())
}

func (suite *ragBladeTestSuite) SetupTest() {
	suite.ctx = context.Background()

	suite.cfg = Config{
		Collection: vector.CollectionConfig{
			Name:       "chevy_docs",
			KeyPrefix:  "blog",
			Dimensions: len(vocabulary) + 1,
			Metric:     vector.Cosine,
			Overwrite:  true,
		},
		Chunking: chunker.Config{
			MaxUnits:     8,
			OverlapUnits: 2,
		},
		Retrieval: retriever.Config{
			K:          3,
			UnitBudget: 100,
		},
		Generation: GenerationConfig{
			MaxAttempts: 3,
		},
	}

	suite.embeddings = new(keywordEmbeddings)
	suite.generator = new(recordingGenerator)
	suite.index = memory.NewIndex()
	suite.svc = suite.newService()
}

func (suite *ragBladeTestSuite) newService() Service {
	svc, err := NewService(suite.cfg, suite.index, suite.embeddings, suite.generator)
	suite.Require().NoError(err)

	return LoggingMiddleware(zap.NewNop())(svc)
}

func (suite *ragBladeTestSuite) TestIngestReport() {
	report, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	suite.NotEmpty(report.RunID)
	suite.Equal("chevy_docs", report.Collection)
	suite.Equal(3, report.Documents)
	suite.Equal(7, report.Fragments)
	suite.Equal(uint64(1), report.Generation)

	info, err := suite.svc.Describe(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(7, info.Count)
	suite.Equal("blog", info.KeyPrefix)
}

func (suite *ragBladeTestSuite) TestIngestTwiceKeepsOneGeneration() {
	words := make([]string, 27*8)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}

	suite.cfg.Chunking = chunker.Config{MaxUnits: 8}
	svc := suite.newService()

	docs := []rag.Document{{ID: "manual", Text: strings.Join(words, " ")}}

	for range 2 {
		report, err := svc.Ingest(suite.ctx, docs)
		suite.Require().NoError(err)
		suite.Equal(27, report.Fragments)
	}

	info, err := svc.Describe(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(27, info.Count)
	suite.Equal(uint64(2), info.Generation)
}

func (suite *ragBladeTestSuite) TestIngestStoresFragmentPosition() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	result, err := suite.svc.Search(suite.ctx, "tow", 1, vector.Filter{rag.MetaDocumentID: "towing.md"})
	suite.Require().NoError(err)
	suite.Require().Len(result, 1)

	hit := result[0]
	suite.Equal("towing.md#00000", hit.ID)
	suite.Equal("towing.md", hit.Metadata["source"])
	suite.Equal("0", hit.Metadata[rag.MetaSequence])
	suite.Equal("0", hit.Metadata[rag.MetaSpanStart])
	suite.Equal(fmt.Sprint(len(hit.Content)), hit.Metadata[rag.MetaSpanEnd])
}

func (suite *ragBladeTestSuite) TestIngestRejectsBadDocuments() {
	_, err := suite.svc.Ingest(suite.ctx, []rag.Document{{Text: "no id"}})
	suite.ErrorIs(err, rag.ErrInvalidInput)
	suite.ErrorIs(err, ErrEmptyDocumentID)

	_, err = suite.svc.Ingest(suite.ctx, []rag.Document{corpus[0], corpus[0]})
	suite.ErrorIs(err, ErrDuplicateDocument)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageIngestion, stage)
}

func (suite *ragBladeTestSuite) TestIngestEmbeddingFailureIsStaged() {
	suite.embeddings.err = fmt.Errorf("%w: bad key", rag.ErrAuth)

	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.ErrorIs(err, rag.ErrAuth)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageIngestion, stage)
	suite.Equal(1, suite.embeddings.calls, "permanent errors are not retried")

	_, err = suite.svc.Describe(suite.ctx)
	suite.ErrorIs(err, rag.ErrUnknownCollection)
}

func (suite *ragBladeTestSuite) TestIngestDimensionMismatch() {
	suite.embeddings.dims = 4

	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.ErrorIs(err, rag.ErrDimensionMismatch)
}

func (suite *ragBladeTestSuite) TestIngestIndexFailureIsStaged() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	suite.cfg.Collection.Dimensions = 4
	suite.embeddings.dims = 4
	svc := suite.newService()

	_, err = svc.Ingest(suite.ctx, corpus)
	suite.ErrorIs(err, rag.ErrDimensionMismatch)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageIndex, stage)
}

func (suite *ragBladeTestSuite) TestSearchNearestFragmentFirst() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	result, err := suite.svc.Search(suite.ctx, "warranty paint", 2, nil)
	suite.Require().NoError(err)
	suite.Require().NotEmpty(result)

	suite.True(strings.HasPrefix(result[0].ID, "care.md#"))
	suite.Greater(result[0].Score, 0.9)
}

func (suite *ragBladeTestSuite) TestAnswerUsesRetrievedContext() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	answer, err := suite.svc.Answer(suite.ctx, "How heavy a trailer can the truck tow?")
	suite.Require().NoError(err)

	suite.Equal("  The truck tows 9,500 pounds.\n", answer.Text, "answer text is returned verbatim")
	suite.True(answer.Grounded())
	suite.Equal("towing.md#00000", answer.Fragments[0])
	suite.LessOrEqual(answer.Units, suite.cfg.Retrieval.UnitBudget)

	prompt := suite.generator.LastPrompt()
	suite.Contains(prompt, rag.DefaultInstruction)
	suite.Contains(prompt, "The truck can tow a heavy trailer.")
	suite.Contains(prompt, "Question: How heavy a trailer can the truck tow?")
	suite.NotContains(prompt, rag.NoContextMarker)
}

func (suite *ragBladeTestSuite) TestAnswerWithoutResults() {
	_, err := suite.svc.Ingest(suite.ctx, nil)
	suite.Require().NoError(err)

	answer, err := suite.svc.Answer(suite.ctx, "How far can the truck tow?")
	suite.Require().NoError(err)

	suite.False(answer.Grounded())
	suite.Empty(answer.Fragments)
	suite.Equal(1, suite.generator.Calls())
	suite.Contains(suite.generator.LastPrompt(), rag.NoContextMarker)
}

func (suite *ragBladeTestSuite) TestAnswerWithLowScores() {
	suite.cfg.Retrieval.MinScore = 0.9
	svc := suite.newService()

	_, err := svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	answer, err := svc.Answer(suite.ctx, "What color is the truck paint?")
	suite.Require().NoError(err)

	suite.False(answer.Grounded())
	suite.Equal(1, suite.generator.Calls())
	suite.Contains(suite.generator.LastPrompt(), rag.NoContextMarker)
}

func (suite *ragBladeTestSuite) TestAnswerPromptBudget() {
	suite.cfg.Generation.MaxPromptUnits = 10
	svc := suite.newService()

	_, err := svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	_, err = svc.Answer(suite.ctx, "How heavy a trailer can the truck tow?")
	suite.ErrorIs(err, rag.ErrContextTooLarge)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageGeneration, stage)
	suite.Equal(0, suite.generator.Calls())
}

func (suite *ragBladeTestSuite) TestAnswerPromptBudgetLimitsContext() {
	instruction := "Answer briefly."
	question := "How heavy a trailer can the truck tow?"

	suite.cfg.Generation.Instruction = instruction
	suite.cfg.Generation.MaxPromptUnits = rag.Prompt{Instruction: instruction, Question: question}.Units() -
		rag.CountUnits(rag.NoContextMarker) + 5
	svc := suite.newService()

	_, err := svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	answer, err := svc.Answer(suite.ctx, question)
	suite.Require().NoError(err)

	suite.LessOrEqual(answer.Units, 5)
	suite.True(answer.Truncated)
	suite.LessOrEqual(rag.CountUnits(suite.generator.LastPrompt()), suite.cfg.Generation.MaxPromptUnits)
}

func (suite *ragBladeTestSuite) TestAnswerRetriesTransientGeneration() {
	suite.generator.failures = []error{
		fmt.Errorf("%w: slow down", rag.ErrRateLimited),
	}

	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	answer, err := suite.svc.Answer(suite.ctx, "What does the warranty cover?")
	suite.Require().NoError(err)

	suite.NotEmpty(answer.Text)
	suite.Equal(2, suite.generator.Calls())
}

func (suite *ragBladeTestSuite) TestAnswerGenerationFailureIsStaged() {
	suite.generator.failures = []error{
		fmt.Errorf("%w: 9000 tokens", rag.ErrContextTooLarge),
	}

	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	_, err = suite.svc.Answer(suite.ctx, "What does the warranty cover?")
	suite.ErrorIs(err, rag.ErrContextTooLarge)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageGeneration, stage)
	suite.Equal(1, suite.generator.Calls())
}

type hangingGenerator struct{}

func (hangingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (suite *ragBladeTestSuite) TestAnswerHungGeneratorTimesOut() {
	defer func(d time.Duration) { defaultGenerationTimeout = d }(defaultGenerationTimeout)
	defaultGenerationTimeout = 50 * time.Millisecond

	suite.cfg.Generation = GenerationConfig{MaxAttempts: 1}
	suite.Require().Zero(suite.cfg.Generation.Timeout)

	svc, err := NewService(suite.cfg, suite.index, suite.embeddings, hangingGenerator{})
	suite.Require().NoError(err)

	_, err = svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	start := time.Now()
	_, err = svc.Answer(context.Background(), "truck tow")
	suite.ErrorIs(err, rag.ErrTimeout)
	suite.Less(time.Since(start), 5*time.Second)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageGeneration, stage)
}

func (suite *ragBladeTestSuite) TestAnswerUnknownCollection() {
	_, err := suite.svc.Answer(suite.ctx, "What does the warranty cover?")
	suite.ErrorIs(err, rag.ErrUnknownCollection)

	stage, ok := rag.StageOf(err)
	suite.True(ok)
	suite.Equal(rag.StageRetrieval, stage)
	suite.Equal(0, suite.generator.Calls())
}

func (suite *ragBladeTestSuite) TestAnswerEmptyQuestion() {
	_, err := suite.svc.Answer(suite.ctx, "   ")
	suite.ErrorIs(err, rag.ErrInvalidInput)
}

func (suite *ragBladeTestSuite) TestAnswerCanceled() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(suite.ctx)
	cancel()

	_, err = suite.svc.Answer(ctx, "What does the warranty cover?")
	suite.True(errors.Is(err, context.Canceled))
	suite.Equal(0, suite.generator.Calls())
}

func (suite *ragBladeTestSuite) TestConcurrentAnswers() {
	_, err := suite.svc.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := suite.svc.Answer(suite.ctx, "How does the hybrid battery charge?")
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		suite.NoError(err)
	}

	suite.Equal(16, suite.generator.Calls())
}

func (suite *ragBladeTestSuite) TestProxyThroughEndpoints() {
	proxy := ProxyMiddleware(NewEndpointSet(suite.svc))(nil)

	report, err := proxy.Ingest(suite.ctx, corpus)
	suite.Require().NoError(err)
	suite.Equal(7, report.Fragments)

	result, err := proxy.Search(suite.ctx, "battery", 1, nil)
	suite.Require().NoError(err)
	suite.Len(result, 1)

	answer, err := proxy.Answer(suite.ctx, "How does the hybrid battery charge?")
	suite.Require().NoError(err)
	suite.True(answer.Grounded())

	info, err := proxy.Describe(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(7, info.Count)

	suite.NoError(proxy.Drop(suite.ctx))

	_, err = proxy.Describe(suite.ctx)
	suite.ErrorIs(err, rag.ErrUnknownCollection)

	suite.ErrorIs(proxy.Close(), ErrNotImplemented)
}

func TestRAGBladeTestSuite(t *testing.T) {
	suite.Run(t, new(ragBladeTestSuite))
}
