package recommend

import (
	"errors"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/similard/internal/catalog"
)

// ErrInvalidWeights indicates heuristic weights that are negative or do not
// sum to 1.
var ErrInvalidWeights = errors.New("invalid heuristic weights")

const epsilon = 1e-9

// Weights are the per-feature weights of the heuristic score.
type Weights struct {
	Category float64
	Price    float64
	Rating   float64
	Tags     float64
}

// DefaultWeights returns category 0.4, price 0.3, rating 0.15, tags 0.15.
func DefaultWeights() Weights {
	return Weights{Category: 0.4, Price: 0.3, Rating: 0.15, Tags: 0.15}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"category": w.Category, "price": w.Price, "rating": w.Rating, "tags": w.Tags} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s weight %v is negative", ErrInvalidWeights, name, v)
		}
	}
	if sum := w.Category + w.Price + w.Rating + w.Tags; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// HeuristicScorer ranks candidates by attribute similarity. It needs no
// external service and is deterministic for equal inputs.
type HeuristicScorer struct {
	weights Weights
}

// NewHeuristicScorer validates w and returns a scorer.
func NewHeuristicScorer(w Weights) (*HeuristicScorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &HeuristicScorer{weights: w}, nil
}

// ScoreSimilar scores every candidate against product and returns the best
// topK. The product itself is never part of the result.
func (h *HeuristicScorer) ScoreSimilar(product catalog.Product, candidates []catalog.Product, topK int) Result {
	items := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == product.ID {
			continue
		}
		items = append(items, Scored{ProductID: c.ID, Score: h.Score(product, c)})
	}
	return Result{Items: rank(items, product.ID, topK), Source: SourceHeuristic}
}

// Score returns the weighted similarity of a and b, clamped to [0,1].
func (h *HeuristicScorer) Score(a, b catalog.Product) float64 {
	var category float64
	if a.Category == b.Category {
		category = 1
	}
	s := h.weights.Category*category +
		h.weights.Price*closeness(a.Price, b.Price) +
		h.weights.Rating*closeness(a.Rating, b.Rating) +
		h.weights.Tags*jaccard(a.Tags, b.Tags)
	return clamp01(s)
}

// closeness is 1 minus the relative difference of two non-negative values.
func closeness(a, b float64) float64 {
	denom := math.Max(math.Max(a, b), epsilon)
	return 1 - math.Min(1, math.Abs(a-b)/denom)
}

// jaccard returns |A∩B| / |A∪B|, and 0 when both sets are empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
