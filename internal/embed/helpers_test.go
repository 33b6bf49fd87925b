package embed

import (
	"context"
	"math"
	"sync/atomic"
)

// mockEmbedder is a test double that counts calls.
type mockEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchTexts atomic.Int64
	dimensions int
	modelName  string
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims, modelName: "mock-model"}
}

func (m *mockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	vec[len(text)%m.dimensions] = 1
	return vec
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchTexts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int                    { return m.dimensions }
func (m *mockEmbedder) ModelName() string                  { return m.modelName }
func (m *mockEmbedder) Available(ctx context.Context) bool { return true }
func (m *mockEmbedder) Close() error                       { return nil }

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
