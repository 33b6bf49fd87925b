package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/cardrag/internal/config"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings.
	ProviderStatic ProviderType = "static"
)

// NewFromConfig builds the configured embedder wrapped in a CachedEmbedder.
// An unavailable Ollama is an error; there is no silent fallback to static
// embeddings because indexes built with different models are incompatible.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (*CachedEmbedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		inner = NewStaticEmbedder()
	case ProviderOllama, "":
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BatchSize > 0 {
			oc.BatchSize = cfg.BatchSize
		}
		inner, err = NewOllamaEmbedder(ctx, oc)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
