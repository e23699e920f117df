package retriever

import (
	"math"
	"time"
)

const (
	// Final score blend. Semantic match dominates; recency nudges
	// ties toward freshness.
	relevanceWeight = 0.8
	temporalWeight  = 0.2

	// Temporal decay of the creation date, per day.
	decayRate = 0.05

	// Boost for memories used recently.
	accessBoost  = 0.1
	accessWindow = 7 * 24 * time.Hour
)

// cosine computes cosine similarity between two vectors. Mismatched
// dimensions score 0 instead of failing: model-version drift must
// degrade retrieval, never crash it.
func cosine(a, b []float32) float64 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// temporalScore rewards both recency of creation and recency of use,
// clamped to [0, 1].
func temporalScore(createdAt, lastAccessedAt, now time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := math.Exp(-decayRate * days)
	if now.Sub(lastAccessedAt) <= accessWindow {
		score += accessBoost
	}
	return math.Min(score, 1.0)
}

// finalScore blends relevance and temporal scores.
func finalScore(relevance, temporal float64) float64 {
	return relevanceWeight*relevance + temporalWeight*temporal
}
