// Package matcher finds the enrolled embedding closest to a probe.
package matcher

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is the similarity a match must exceed to be accepted.
const DefaultThreshold = 0.7

// ErrDimensionMismatch is returned when a probe and an enrolled embedding differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Entry is one enrolled user.
type Entry struct {
	UserID    string
	Embedding []float32
}

// Result is the outcome of matching a probe against a room.
type Result struct {
	// Accepted is true when the best similarity is strictly above the threshold.
	Accepted bool `json:"accepted"`
	// UserID is the best match; empty unless Accepted.
	UserID string `json:"user_id,omitempty"`
	// Similarity is the best score seen, whether or not it was accepted.
	Similarity float64 `json:"similarity"`
	// Compared is the number of entries scored. Zero means the room was empty.
	Compared int `json:"compared"`
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Vectors of different length or with zero norm score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// Match scores probe against every entry and picks the highest similarity.
// On a tie the earlier entry wins, so callers wanting a deterministic winner
// should pass entries in a stable order.
func Match(probe []float32, entries []Entry, threshold float64) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}

	best := -1
	bestSim := math.Inf(-1)
	for i, e := range entries {
		if len(e.Embedding) != len(probe) {
			return Result{}, fmt.Errorf("%w: probe has %d values, user %q has %d",
				ErrDimensionMismatch, len(probe), e.UserID, len(e.Embedding))
		}

		if sim := CosineSimilarity(probe, e.Embedding); sim > bestSim {
			best, bestSim = i, sim
		}
	}

	res := Result{Similarity: bestSim, Compared: len(entries)}
	if bestSim > threshold {
		res.Accepted = true
		res.UserID = entries[best].UserID
	}
	return res, nil
}
