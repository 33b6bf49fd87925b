package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/cardrag/internal/config"
)

// NewScorerFromConfig builds the configured Scorer. Provider "http" (the
// default) talks to a cross-encoder service; "lexical" needs nothing.
func NewScorerFromConfig(ctx context.Context, cfg config.RerankerConfig, timeout time.Duration) (Scorer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "lexical":
		return NewLexicalScorer(), nil
	case "http", "":
		return NewHTTPScorer(ctx, HTTPScorerConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Timeout:  timeout,
		})
	default:
		return nil, fmt.Errorf("unknown reranker provider %q", cfg.Provider)
	}
}
