package answer

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

	"github.com/Aman-CERP/cardrag/internal/config"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// Ollama generation defaults.
const (
	DefaultOllamaHost   = "http://localhost:11434"
	DefaultOllamaModel  = "qwen2.5:7b"
	DefaultTemperature  = 0.3
	generatePoolSize    = 4
	healthCheckDeadline = 10 * time.Second
)

// OllamaConfig configures an OllamaGenerator.
type OllamaConfig struct {
	Host        string
	Model       string
	Temperature float64

	// Timeout bounds one request when the caller's context has no
	// deadline. Zero leaves requests unbounded.
	Timeout time.Duration

	// SkipHealthCheck skips the /api/tags model lookup.
	SkipHealthCheck bool
}

// OllamaGenerator generates text through Ollama's /api/chat endpoint. It
// never retries; failures are ExternalCall errors.
type OllamaGenerator struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	closed bool
}

var _ Generator = (*OllamaGenerator)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaGenerator creates a generator, checking that the model is
// installed unless SkipHealthCheck is set.
func NewOllamaGenerator(ctx context.Context, cfg OllamaConfig) (*OllamaGenerator, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	transport := &http.Transport{
		MaxIdleConns:        generatePoolSize,
		MaxIdleConnsPerHost: generatePoolSize,
		IdleConnTimeout:     30 * time.Second,
	}
	g := &OllamaGenerator{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckDeadline)
		defer cancel()
		if err := g.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, carderrors.ExternalCall("generate", err).
				WithSuggestion(fmt.Sprintf("Start Ollama and run 'ollama pull %s'", cfg.Model))
		}
	}

	slog.Debug("generator_ready",
		slog.String("model", cfg.Model),
		slog.Float64("temperature", cfg.Temperature))
	return g, nil
}

// NewGeneratorsFromConfig builds the answer and rewrite generators. The
// rewrite generator shares the answer generator unless a separate rewrite
// model is configured.
func NewGeneratorsFromConfig(ctx context.Context, cfg config.GenerationConfig) (answer, rewrite *OllamaGenerator, err error) {
	base := OllamaConfig{Host: cfg.Host, Model: cfg.Model, Temperature: cfg.Temperature}
	answer, err = NewOllamaGenerator(ctx, base)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RewriteModel == "" || cfg.RewriteModel == answer.ModelName() {
		return answer, answer, nil
	}
	base.Model = cfg.RewriteModel
	rewrite, err = NewOllamaGenerator(ctx, base)
	if err != nil {
		_ = answer.Close()
		return nil, nil, err
	}
	return answer, rewrite, nil
}

func (g *OllamaGenerator) checkModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.Host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}

	want := g.config.Model
	for _, m := range tags.Models {
		if m.Name == want || strings.Split(m.Name, ":")[0] == want {
			g.config.Model = m.Name
			return nil
		}
	}
	return fmt.Errorf("model %s not installed", want)
}

// Generate implements Generator.
func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("generator is closed")
	}

	if _, ok := ctx.Deadline(); !ok && g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Options: map[string]any{"temperature": g.config.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return "", carderrors.ExternalCall("generate", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", carderrors.ExternalCall("generate",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", carderrors.ExternalCall("generate", fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", carderrors.ExternalCall("generate", fmt.Errorf("%s", out.Error))
	}

	slog.Debug("generate_complete",
		slog.String("model", g.config.Model),
		slog.Int("prompt_len", len(prompt)),
		slog.Int("answer_len", len(out.Message.Content)),
		slog.Duration("duration", time.Since(start)))
	return strings.TrimSpace(out.Message.Content), nil
}

// ModelName implements Generator.
func (g *OllamaGenerator) ModelName() string {
	return g.config.Model
}

// Close releases idle connections.
func (g *OllamaGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.transport.CloseIdleConnections()
	return nil
}
