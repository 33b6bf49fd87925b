package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// HTTP scorer defaults.
const (
	DefaultScorerEndpoint = "http://localhost:8080"
	DefaultScorerModel    = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultScorerTimeout  = 30 * time.Second
)

// HTTPScorerConfig configures a cross-encoder scoring service.
type HTTPScorerConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	// SkipHealthCheck skips GET /health during construction.
	SkipHealthCheck bool
}

// HTTPScorer scores pairs with a cross-encoder served over HTTP. It posts
// {query, documents} to /rerank and reads per-index scores back.
type HTTPScorer struct {
	client *http.Client
	config HTTPScorerConfig

	mu     sync.RWMutex
	closed bool
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer client, checking /health unless skipped.
func NewHTTPScorer(ctx context.Context, cfg HTTPScorerConfig) (*HTTPScorer, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultScorerEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultScorerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	s := &HTTPScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.healthCheck(checkCtx); err != nil {
			return nil, carderrors.ExternalCall("rerank", err).
				WithSuggestion("Start the reranker service or set reranker.provider: lexical")
		}
	}

	slog.Debug("http_scorer_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return s, nil
}

func (s *HTTPScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score implements Scorer. Results may arrive in any order; every document
// index must be present exactly once.
func (s *HTTPScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("scorer is closed")
	}
	if len(docs) == 0 {
		return []float64{}, nil
	}

	payload, err := json.Marshal(scoreRequest{Query: query, Documents: docs, Model: s.config.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, carderrors.ExternalCall("rerank", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, carderrors.ExternalCall("rerank",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, carderrors.ExternalCall("rerank", fmt.Errorf("decode response: %w", err))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, carderrors.ExternalCall("rerank", fmt.Errorf("invalid result index %d", r.Index))
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	if len(out.Results) != len(docs) {
		return nil, carderrors.ExternalCall("rerank",
			fmt.Errorf("got %d results for %d documents", len(out.Results), len(docs)))
	}

	slog.Debug("http_scorer_request",
		slog.Int("documents", len(docs)),
		slog.Duration("duration", time.Since(start)))
	return scores, nil
}

// Name implements Scorer.
func (s *HTTPScorer) Name() string {
	return "http:" + s.config.Model
}

// Close releases idle connections.
func (s *HTTPScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
