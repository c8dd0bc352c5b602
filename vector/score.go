package vector

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/flarexio/ragblade/rag"
)

// CosineSimilarity is 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}

	if na2 == 0 || nb2 == 0 {
		return 0
	}

	return dot / (math.Sqrt(na2) * math.Sqrt(nb2))
}

func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

// Score maps the metric onto a similarity where larger is closer and
// identical vectors score 1.
func Score(metric Metric, a, b []float32) float64 {
	if metric == Euclidean {
		return DistanceScore(L2Distance(a, b))
	}

	return CosineSimilarity(a, b)
}

func DistanceScore(d float64) float64 {
	return 1 / (1 + d)
}

func CheckQuery(dims int, query []float32, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidInput, k)
	}

	if len(query) != dims {
		return fmt.Errorf("%w: query has %d dimensions, want %d",
			rag.ErrDimensionMismatch, len(query), dims)
	}

	return nil
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

// Rank orders hits by descending score, then ascending id, and keeps the
// first k.
func Rank(hits []Hit, k int) Result {
	slices.SortFunc(hits, compareHits)

	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}

	return Result(hits)
}
