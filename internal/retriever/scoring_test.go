package retriever

import (
	"math"
	"testing"
	"time"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineBounds(t *testing.T) {
	vecs := [][]float32{
		{1, 2, 3}, {-4, 0.5, 2}, {0.1, 0.1, 0.1}, {100, -100, 0},
	}
	for _, a := range vecs {
		for _, b := range vecs {
			got := cosine(a, b)
			if got < -1.0-1e-9 || got > 1.0+1e-9 {
				t.Errorf("cosine(%v, %v) = %v out of [-1, 1]", a, b, got)
			}
		}
	}
}

func TestTemporalScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// Created now, accessed now: decay 1.0 + boost, clamped to 1.0.
	if got := temporalScore(now, now, now); got != 1.0 {
		t.Errorf("fresh memory: got %v, want 1.0", got)
	}

	// Created 30 days ago, never accessed recently.
	created := now.Add(-30 * 24 * time.Hour)
	want := math.Exp(-0.05 * 30)
	if got := temporalScore(created, created, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("30-day-old memory: got %v, want %v", got, want)
	}

	// Recent access adds the boost.
	accessed := now.Add(-2 * 24 * time.Hour)
	want = math.Exp(-0.05*30) + 0.1
	if got := temporalScore(created, accessed, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("recently accessed: got %v, want %v", got, want)
	}

	// Access outside the 7-day window adds nothing.
	stale := now.Add(-8 * 24 * time.Hour)
	want = math.Exp(-0.05 * 30)
	if got := temporalScore(created, stale, now); math.Abs(got-want) > 1e-9 {
		t.Errorf("stale access: got %v, want %v", got, want)
	}
}

func TestTemporalScoreBounds(t *testing.T) {
	now := time.Now()
	ages := []time.Duration{0, time.Hour, 24 * time.Hour, 365 * 24 * time.Hour, 10 * 365 * 24 * time.Hour}
	for _, age := range ages {
		created := now.Add(-age)
		for _, accessed := range []time.Time{created, now} {
			got := temporalScore(created, accessed, now)
			if got < 0 || got > 1 {
				t.Errorf("temporalScore(age=%v) = %v out of [0, 1]", age, got)
			}
		}
	}
}

func TestFinalScoreBlend(t *testing.T) {
	// The worked example: perfect relevance, fresh memory.
	if got := finalScore(1.0, 1.0); got != 1.0 {
		t.Errorf("got %v, want 1.0", got)
	}

	if got := finalScore(0.5, 1.0); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("got %v, want 0.6", got)
	}

	// Convex combination bounds for valid inputs.
	for _, rel := range []float64{-1, -0.5, 0, 0.5, 1} {
		for _, temp := range []float64{0, 0.5, 1} {
			got := finalScore(rel, temp)
			lo := relevanceWeight*-1 + temporalWeight*0
			hi := relevanceWeight*1 + temporalWeight*1
			if got < lo || got > hi {
				t.Errorf("finalScore(%v, %v) = %v out of [%v, %v]", rel, temp, got, lo, hi)
			}
		}
	}
}
