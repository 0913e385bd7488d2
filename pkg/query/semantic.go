package query

import (
	"math"
	"sync"

	"github.com/prismon/photo-library/internal/models"
)

// SemanticMatcher decides whether an embedding matches a text query.
// Implementations must be pure functions of their arguments.
type SemanticMatcher interface {
	Matches(embedding models.Embedding, query string) bool
}

// NoSemanticMatch never matches; it is the default until an embedding model is plugged in
type NoSemanticMatch struct{}

func (NoSemanticMatch) Matches(models.Embedding, string) bool { return false }

// Embedder turns a text query into a vector in the same space as asset embeddings
type Embedder interface {
	Embed(query string) ([]float32, error)
}

// CosineMatcher matches when the cosine similarity between the asset
// embedding and the embedded query reaches Threshold. Query vectors are cached.
type CosineMatcher struct {
	Embedder  Embedder
	Threshold float64

	mu    sync.Mutex
	cache map[string][]float32
}

func NewCosineMatcher(embedder Embedder, threshold float64) *CosineMatcher {
	return &CosineMatcher{Embedder: embedder, Threshold: threshold, cache: make(map[string][]float32)}
}

func (m *CosineMatcher) Matches(embedding models.Embedding, query string) bool {
	qv, ok := m.queryVector(query)
	if !ok || len(qv) != len(embedding.Vector) {
		return false
	}
	return CosineSimilarity(embedding.Vector, qv) >= m.Threshold
}

func (m *CosineMatcher) queryVector(query string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		m.cache = make(map[string][]float32)
	}
	if v, ok := m.cache[query]; ok {
		return v, v != nil
	}
	v, err := m.Embedder.Embed(query)
	if err != nil {
		log.WithError(err).Warn("Could not embed search query")
		v = nil
	}
	m.cache[query] = v
	return v, v != nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero vectors
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
