package service

import (
	"fmt"
	"math"

	"github.com/mcuadros/go-defaults"

	"github.com/BrandonDHaskell/facegate/internal/facegate/store"
)

// DefaultAcceptThreshold is the largest Euclidean distance, exclusive, at
// which two embeddings are considered the same face.
const DefaultAcceptThreshold = 0.6

// DefaultEmbeddingDim is the output size of the reference face encoder.
const DefaultEmbeddingDim = 128

type MatchConfig struct {
	AcceptThreshold float64 `yaml:"accept_threshold" toml:"accept_threshold" default:"0.6"`
	EmbeddingDim    int     `yaml:"embedding_dim" toml:"embedding_dim" default:"128"`
}

// ApplyDefaults fills zero fields in place.
func (c *MatchConfig) ApplyDefaults() {
	defaults.SetDefaults(c)
}

// Match is a successful identification.
type Match struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension %d vs %d", ErrInvalidEmbedding, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// bestMatch scans recs in order and returns the closest one under
// threshold. Only a strictly smaller distance replaces the current best,
// so ties keep the earliest record.
func bestMatch(recs []store.IdentityRecord, query []float64, threshold float64) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, r := range recs {
		d, err := EuclideanDistance(r.Embedding, query)
		if err != nil {
			// Records of a different dimension cannot match.
			continue
		}
		if !found || d < best.Distance {
			best = Match{Name: r.Name, Distance: d}
			found = true
		}
	}
	if !found || !(best.Distance < threshold) {
		return Match{}, false
	}
	return best, true
}

func validEmbedding(e []float64, dim int) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidEmbedding)
	}
	if dim > 0 && len(e) != dim {
		return fmt.Errorf("%w: expected %d components, got %d", ErrInvalidEmbedding, dim, len(e))
	}
	for i, x := range e {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidEmbedding, i)
		}
	}
	return nil
}
