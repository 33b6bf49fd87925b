// Package embed turns fragment and query text into dense vectors.
//
// Two providers exist: Ollama's /api/embed endpoint for real deployments and
// a hash-based static embedder that needs no model. Both are wrapped by
// CachedEmbedder so repeated questions do not hit the provider twice.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding request when the caller's context
	// has no deadline of its own.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the embedding dimension of the static embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier recorded in index metadata.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned
// as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
