package matcher

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"
)

const epsilon = 1e-6

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "scaled", a: []float32{1, 2, 3}, b: []float32{2, 4, 6}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > epsilon {
				t.Errorf("CosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		a, b := randomVector(rng, 128), randomVector(rng, 128)
		if ab, ba := CosineSimilarity(a, b), CosineSimilarity(b, a); ab != ba {
			t.Fatalf("not symmetric: %f vs %f", ab, ba)
		}
	}
}

func TestMatch(t *testing.T) {
	alice := []float32{1, 0, 0}
	bob := []float32{0, 1, 0}

	entries := []Entry{
		{UserID: "alice", Embedding: alice},
		{UserID: "bob", Embedding: bob},
	}

	t.Run("identical vector is accepted", func(t *testing.T) {
		res, err := Match(alice, entries, DefaultThreshold)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if !res.Accepted || res.UserID != "alice" {
			t.Errorf("Match() = %+v, want alice accepted", res)
		}
		if math.Abs(res.Similarity-1) > epsilon {
			t.Errorf("similarity = %f, want 1", res.Similarity)
		}
		if res.Compared != 2 {
			t.Errorf("compared = %d, want 2", res.Compared)
		}
	})

	t.Run("below threshold carries score but no user", func(t *testing.T) {
		probe := []float32{1, 1, 1}
		res, err := Match(probe, entries, DefaultThreshold)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if res.Accepted || res.UserID != "" {
			t.Errorf("Match() = %+v, want rejection", res)
		}
		want := 1 / math.Sqrt(3)
		if math.Abs(res.Similarity-want) > epsilon {
			t.Errorf("similarity = %f, want %f", res.Similarity, want)
		}
	})

	t.Run("empty room", func(t *testing.T) {
		res, err := Match(alice, nil, DefaultThreshold)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if res.Accepted || res.Compared != 0 || res.UserID != "" {
			t.Errorf("Match() = %+v, want zero result", res)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Match([]float32{1, 0}, entries, DefaultThreshold)
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func TestMatch_StrictThreshold(t *testing.T) {
	entries := []Entry{{UserID: "alice", Embedding: []float32{1, 0}}}
	probe := []float32{1, 0}

	tests := []struct {
		threshold float64
		accepted  bool
	}{
		{threshold: 0.5, accepted: true},
		{threshold: 0.999, accepted: true},
		{threshold: 1.0, accepted: false},
		{threshold: 1.5, accepted: false},
	}

	for _, tt := range tests {
		res, err := Match(probe, entries, tt.threshold)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if res.Accepted != tt.accepted {
			t.Errorf("threshold %v: accepted = %v, want %v", tt.threshold, res.Accepted, tt.accepted)
		}
	}
}

func TestMatch_TieGoesToFirstEntry(t *testing.T) {
	v := []float32{0.6, 0.8}
	entries := []Entry{
		{UserID: "anna", Embedding: []float32{0.6, 0.8}},
		{UserID: "zoe", Embedding: []float32{0.6, 0.8}},
	}

	res, err := Match(v, entries, DefaultThreshold)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if res.UserID != "anna" {
		t.Errorf("tie winner = %q, want anna", res.UserID)
	}
}

func TestMatch_OrderIndependentOnceSorted(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	entries := make([]Entry, 20)
	for i := range entries {
		entries[i] = Entry{UserID: string(rune('a' + i)), Embedding: randomVector(rng, 32)}
	}
	probe := entries[13].Embedding

	want, err := Match(probe, entries, DefaultThreshold)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		shuffled := append([]Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		sort.Slice(shuffled, func(a, b int) bool { return shuffled[a].UserID < shuffled[b].UserID })

		got, err := Match(probe, shuffled, DefaultThreshold)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if got != want {
			t.Errorf("shuffle %d: got %+v, want %+v", i, got, want)
		}
	}
}

func randomVector(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}
