package embed

import "time"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a multilingual embedding model that handles the
	// Korean card documents.
	DefaultOllamaModel = "bge-m3"

	// OllamaConnectTimeout bounds the startup health check.
	OllamaConnectTimeout = 10 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to use.
	Model string

	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize is the number of texts per /api/embed request.
	BatchSize int

	// Timeout bounds one request when the caller's context has no deadline.
	Timeout time.Duration

	// SkipHealthCheck skips model discovery and dimension detection.
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// OllamaEmbedRequest is the Ollama /api/embed request.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelListResponse is the Ollama /api/tags response.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaModelInfo describes an installed model.
type OllamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
