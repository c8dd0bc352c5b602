// Package vectortest holds the behaviour every vector.Index engine must
// share. Engine packages run IndexSuite against a fresh index.
package vectortest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/stretchr/testify/suite"

	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

type IndexSuite struct {
	suite.Suite

	// NewIndex returns an empty index; it is called before every test.
	NewIndex func() vector.Index

	// CosineOnly skips the euclidean cases for engines that normalize
	// vectors.
	CosineOnly bool

	index vector.Index
	ctx   context.Context
	name  string
	seq   int
}

func (s *IndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.index = s.NewIndex()

	s.seq++
	s.name = "suite_" + strconv.Itoa(s.seq)
}

func (s *IndexSuite) TearDownTest() {
	s.index.Drop(s.ctx, s.name)
	s.index.Close()
}

func (s *IndexSuite) config(dims int) vector.CollectionConfig {
	return vector.CollectionConfig{
		Name:       s.name,
		KeyPrefix:  "blog",
		Dimensions: dims,
		Metric:     vector.Cosine,
		Overwrite:  true,
	}
}

// Records returns n records on the unit circle, each at a distinct angle, so
// every record is its own nearest neighbour.
func Records(n int, content string) []vector.Record {
	records := make([]vector.Record, n)
	for i := range records {
		angle := float64(i) * math.Pi / float64(2*n)
		records[i] = vector.Record{
			ID:      fmt.Sprintf("doc#%05d", i),
			Vector:  []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0},
			Content: content,
			Metadata: map[string]string{
				rag.MetaDocumentID: "doc",
				rag.MetaSequence:   strconv.Itoa(i),
				"parity":           strconv.Itoa(i % 2),
			},
		}
	}

	return records
}

func (s *IndexSuite) TestOverwriteReplacesGeneration() {
	cfg := s.config(3)
	records := Records(27, "first")

	info, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)
	s.Equal(27, info.Count)

	second, err := s.index.Load(s.ctx, cfg, Records(27, "second"))
	s.Require().NoError(err)
	s.Equal(27, second.Count)
	s.Greater(second.Generation, info.Generation)

	described, err := s.index.Describe(s.ctx, s.name)
	s.Require().NoError(err)
	s.Equal(27, described.Count)
	s.Equal(second.Generation, described.Generation)

	result, err := s.index.Search(s.ctx, s.name, records[0].Vector, 27, nil)
	s.Require().NoError(err)
	s.Len(result, 27)

	for _, hit := range result {
		s.Equal("second", hit.Content)
	}
}

func (s *IndexSuite) TestRoundTrip() {
	cfg := s.config(3)
	records := Records(10, "payload")

	_, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)

	for _, r := range records {
		result, err := s.index.Search(s.ctx, s.name, r.Vector, 1, nil)
		s.Require().NoError(err)
		s.Require().Len(result, 1)

		hit := result[0]
		s.Equal(r.ID, hit.ID)
		s.Equal(r.Content, hit.Content)
		s.Equal(r.Metadata, hit.Metadata)
		s.InDelta(1.0, hit.Score, 1e-4)
	}
}

func (s *IndexSuite) TestSearchIsDeterministic() {
	cfg := s.config(3)
	records := []vector.Record{
		{ID: "c", Vector: []float32{1, 0, 0}, Content: "c"},
		{ID: "a", Vector: []float32{1, 0, 0}, Content: "a"},
		{ID: "b", Vector: []float32{1, 0, 0}, Content: "b"},
		{ID: "z", Vector: []float32{0, 1, 0}, Content: "z"},
	}

	_, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)

	query := []float32{1, 0.1, 0}

	first, err := s.index.Search(s.ctx, s.name, query, 3, nil)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c"}, first.IDs())

	for range 5 {
		again, err := s.index.Search(s.ctx, s.name, query, 3, nil)
		s.Require().NoError(err)
		s.Equal(first, again)
	}
}

func (s *IndexSuite) TestTiesCutInByteOrder() {
	cfg := s.config(3)
	records := []vector.Record{
		{ID: "alpha#00000", Vector: []float32{1, 0, 0}, Content: "alpha"},
		{ID: "Beta#00000", Vector: []float32{1, 0, 0}, Content: "Beta"},
		{ID: "_gamma#00000", Vector: []float32{1, 0, 0}, Content: "_gamma"},
	}

	_, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)

	result, err := s.index.Search(s.ctx, s.name, []float32{1, 0, 0}, 2, nil)
	s.Require().NoError(err)
	s.Equal([]string{"Beta#00000", "_gamma#00000"}, result.IDs())
}

func (s *IndexSuite) TestResultOrderedAndBounded() {
	cfg := s.config(3)

	_, err := s.index.Load(s.ctx, cfg, Records(12, "x"))
	s.Require().NoError(err)

	result, err := s.index.Search(s.ctx, s.name, []float32{0.3, 0.7, 0}, 5, nil)
	s.Require().NoError(err)
	s.Len(result, 5)

	for i := 1; i < len(result); i++ {
		s.GreaterOrEqual(result[i-1].Score, result[i].Score)
	}

	all, err := s.index.Search(s.ctx, s.name, []float32{0.3, 0.7, 0}, 100, nil)
	s.Require().NoError(err)
	s.Len(all, 12)
}

func (s *IndexSuite) TestFailedLoadKeepsPreviousGeneration() {
	cfg := s.config(3)

	before, err := s.index.Load(s.ctx, cfg, Records(5, "old"))
	s.Require().NoError(err)

	broken := Records(5, "new")
	broken[3].Vector = []float32{1, 0}

	_, err = s.index.Load(s.ctx, cfg, broken)
	s.ErrorIs(err, rag.ErrDimensionMismatch)

	after, err := s.index.Describe(s.ctx, s.name)
	s.Require().NoError(err)
	s.Equal(before.Generation, after.Generation)
	s.Equal(5, after.Count)

	result, err := s.index.Search(s.ctx, s.name, []float32{1, 0, 0}, 5, nil)
	s.Require().NoError(err)

	for _, hit := range result {
		s.Equal("old", hit.Content)
	}
}

func (s *IndexSuite) TestCanceledLoadKeepsPreviousGeneration() {
	cfg := s.config(3)

	before, err := s.index.Load(s.ctx, cfg, Records(5, "old"))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err = s.index.Load(ctx, cfg, Records(5, "new"))
	s.ErrorIs(err, context.Canceled)

	after, err := s.index.Describe(s.ctx, s.name)
	s.Require().NoError(err)
	s.Equal(before.Generation, after.Generation)
}

func (s *IndexSuite) TestUpsertWithoutOverwrite() {
	cfg := s.config(3)
	records := Records(4, "v1")

	_, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)

	cfg.Overwrite = false
	updated := records[0]
	updated.Content = "v2"

	extra := vector.Record{ID: "extra", Vector: []float32{0, 0, 1}, Content: "extra"}

	info, err := s.index.Load(s.ctx, cfg, []vector.Record{updated, extra})
	s.Require().NoError(err)
	s.Equal(5, info.Count)

	result, err := s.index.Search(s.ctx, s.name, updated.Vector, 1, nil)
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("v2", result[0].Content)
}

func (s *IndexSuite) TestFilter() {
	cfg := s.config(3)

	_, err := s.index.Load(s.ctx, cfg, Records(10, "x"))
	s.Require().NoError(err)

	result, err := s.index.Search(s.ctx, s.name, []float32{1, 0, 0}, 10, vector.Filter{"parity": "1"})
	s.Require().NoError(err)
	s.Len(result, 5)

	for _, hit := range result {
		s.Equal("1", hit.Metadata["parity"])
	}
}

func (s *IndexSuite) TestUnknownCollection() {
	_, err := s.index.Search(s.ctx, "missing_collection", []float32{1, 0, 0}, 1, nil)
	s.ErrorIs(err, rag.ErrUnknownCollection)

	_, err = s.index.Describe(s.ctx, "missing_collection")
	s.ErrorIs(err, rag.ErrUnknownCollection)

	s.NoError(s.index.Drop(s.ctx, "missing_collection"))
}

func (s *IndexSuite) TestDrop() {
	cfg := s.config(3)

	_, err := s.index.Load(s.ctx, cfg, Records(3, "x"))
	s.Require().NoError(err)

	s.Require().NoError(s.index.Drop(s.ctx, s.name))

	_, err = s.index.Search(s.ctx, s.name, []float32{1, 0, 0}, 1, nil)
	s.ErrorIs(err, rag.ErrUnknownCollection)

	info, err := s.index.Load(s.ctx, cfg, Records(2, "y"))
	s.Require().NoError(err)
	s.Equal(2, info.Count)
}

func (s *IndexSuite) TestSchemaIsFixed() {
	cfg := s.config(3)

	_, err := s.index.Load(s.ctx, cfg, Records(3, "x"))
	s.Require().NoError(err)

	other := s.config(4)
	_, err = s.index.Load(s.ctx, other, []vector.Record{{ID: "a", Vector: []float32{1, 0, 0, 0}}})
	s.ErrorIs(err, rag.ErrDimensionMismatch)

	_, err = s.index.Search(s.ctx, s.name, []float32{1, 0}, 1, nil)
	s.ErrorIs(err, rag.ErrDimensionMismatch)

	if s.CosineOnly {
		return
	}

	other = s.config(3)
	other.Metric = vector.Euclidean
	_, err = s.index.Load(s.ctx, other, Records(3, "x"))
	s.ErrorIs(err, rag.ErrInvalidInput)
}

func (s *IndexSuite) TestEuclidean() {
	if s.CosineOnly {
		s.T().Skip("engine supports cosine only")
	}

	cfg := s.config(2)
	cfg.Metric = vector.Euclidean

	records := []vector.Record{
		{ID: "near", Vector: []float32{1, 0}},
		{ID: "far", Vector: []float32{4, 0}},
	}

	_, err := s.index.Load(s.ctx, cfg, records)
	s.Require().NoError(err)

	result, err := s.index.Search(s.ctx, s.name, []float32{1, 0}, 2, nil)
	s.Require().NoError(err)
	s.Equal([]string{"near", "far"}, result.IDs())
	s.InDelta(1.0, result[0].Score, 1e-6)
	s.InDelta(0.25, result[1].Score, 1e-6)
}

func (s *IndexSuite) TestConcurrentLoadAndSearch() {
	cfg := s.config(3)

	_, err := s.index.Load(s.ctx, cfg, Records(20, "a"))
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	wg.Add(1)
	go func() {
		defer wg.Done()

		for i := range 10 {
			content := "a"
			if i%2 == 0 {
				content = "b"
			}

			if _, err := s.index.Load(s.ctx, cfg, Records(20, content)); err != nil {
				errs <- err
				return
			}
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for range 20 {
				result, err := s.index.Search(s.ctx, s.name, []float32{1, 0, 0}, 20, nil)
				if err != nil {
					errs <- err
					return
				}

				if len(result) != 20 {
					errs <- fmt.Errorf("saw %d records", len(result))
					return
				}

				for _, hit := range result {
					if hit.Content != result[0].Content {
						errs <- fmt.Errorf("mixed generations: %s and %s", hit.Content, result[0].Content)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
}
