// Package recommend answers "products similar to X".
//
// QueryService ranks neighbours from the vector store. HeuristicScorer ranks
// candidates from catalog attributes alone. Facade tries the first and falls
// back to the second, so callers get a result whenever the product exists.
package recommend

import (
	"errors"
	"sort"
)

// ErrVectorNotReady indicates the product has no usable vector yet.
var ErrVectorNotReady = errors.New("product vector not ready")

// Source names the path that produced a result.
type Source string

const (
	SourceVector    Source = "vector"
	SourceHeuristic Source = "heuristic"
)

// Scored is one recommended product with a score in [0,1].
type Scored struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

// Result is an ordered recommendation list: descending score, ties broken
// by ascending product id.
type Result struct {
	Items  []Scored `json:"items"`
	Source Source   `json:"source"`
}

// IDs returns the product ids in rank order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// rank drops exclude, orders items and keeps at most topK.
func rank(items []Scored, exclude string, topK int) []Scored {
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		if it.ProductID != exclude {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	if topK < 0 {
		topK = 0
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
