package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete cardrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Data       DataConfig       `yaml:"data" json:"data"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// CategoryConfig maps a partition name to its source directory.
type CategoryConfig struct {
	Name string `yaml:"name" json:"name"`
	Dir  string `yaml:"dir" json:"dir"`
}

// DataConfig locates card records and persisted indexes.
type DataConfig struct {
	// Categories are searched in order; the order is also the resolver's
	// tie-break order.
	Categories []CategoryConfig `yaml:"categories" json:"categories"`

	// IndexDir holds one sub-directory per persisted partition.
	IndexDir string `yaml:"index_dir" json:"index_dir"`

	// WatchDebounce is the quiet period before the watcher clears caches.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// RetrievalConfig configures hybrid retrieval, fusion and reranking widths.
// Overridable via CARDRAG_DENSE_WEIGHT, CARDRAG_LEXICAL_WEIGHT,
// CARDRAG_RRF_CONSTANT and CARDRAG_TOP_K.
type RetrievalConfig struct {
	// CandidateWidth is the number of candidates taken from each list.
	CandidateWidth int `yaml:"candidate_width" json:"candidate_width"`

	// DenseWeight and LexicalWeight must sum to 1.0.
	DenseWeight   float64 `yaml:"dense_weight" json:"dense_weight"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// RRFConstant is the smoothing constant k; fused output is also
	// truncated to k entries.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopK is the default number of reranked fragments passed to generation.
	TopK int `yaml:"top_k" json:"top_k"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (offline hash embeddings).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankerConfig configures the pairwise relevance scorer.
type RerankerConfig struct {
	// Provider is "http" (cross-encoder service) or "lexical" (offline).
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// GenerationConfig configures the text-generation backend.
type GenerationConfig struct {
	Host         string  `yaml:"host" json:"host"`
	Model        string  `yaml:"model" json:"model"`
	RewriteModel string  `yaml:"rewrite_model" json:"rewrite_model"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
}

// ServerConfig configures process-level behaviour.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Data: DataConfig{
			Categories: []CategoryConfig{
				{Name: "credit", Dir: filepath.Join("data", "credit")},
				{Name: "check", Dir: filepath.Join("data", "check")},
			},
			IndexDir:      filepath.Join(".cardrag", "indexes"),
			WatchDebounce: "500ms",
		},
		Retrieval: RetrievalConfig{
			CandidateWidth: 60,
			DenseWeight:    0.6,
			LexicalWeight:  0.4,
			RRFConstant:    60,
			TopK:           20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "bge-m3",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  1000,
		},
		Reranker: RerankerConfig{
			Provider: "http",
			Endpoint: "http://localhost:8080",
			Model:    "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout:  "30s",
		},
		Generation: GenerationConfig{
			Host:        "http://localhost:11434",
			Model:       "qwen2.5:7b",
			Temperature: 0.3,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/cardrag/config.yaml, falling
// back to ~/.config/cardrag/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cardrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cardrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "cardrag", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/cardrag/config.yaml)
//  3. Project config (.cardrag.yaml in dir)
//  4. Environment variables (CARDRAG_*)
//
// Relative data and index paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("load user config: %w", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults merged with an explicit YAML file, then applies
// environment overrides. Used by the --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".cardrag.yaml", ".cardrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Data.Categories) > 0 {
		c.Data.Categories = other.Data.Categories
	}
	if other.Data.IndexDir != "" {
		c.Data.IndexDir = other.Data.IndexDir
	}
	if other.Data.WatchDebounce != "" {
		c.Data.WatchDebounce = other.Data.WatchDebounce
	}

	if other.Retrieval.CandidateWidth != 0 {
		c.Retrieval.CandidateWidth = other.Retrieval.CandidateWidth
	}
	if other.Retrieval.DenseWeight != 0 {
		c.Retrieval.DenseWeight = other.Retrieval.DenseWeight
	}
	if other.Retrieval.LexicalWeight != 0 {
		c.Retrieval.LexicalWeight = other.Retrieval.LexicalWeight
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Reranker.Provider != "" {
		c.Reranker.Provider = other.Reranker.Provider
	}
	if other.Reranker.Endpoint != "" {
		c.Reranker.Endpoint = other.Reranker.Endpoint
	}
	if other.Reranker.Model != "" {
		c.Reranker.Model = other.Reranker.Model
	}
	if other.Reranker.Timeout != "" {
		c.Reranker.Timeout = other.Reranker.Timeout
	}

	if other.Generation.Host != "" {
		c.Generation.Host = other.Generation.Host
	}
	if other.Generation.Model != "" {
		c.Generation.Model = other.Generation.Model
	}
	if other.Generation.RewriteModel != "" {
		c.Generation.RewriteModel = other.Generation.RewriteModel
	}
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.LogFile != "" {
		c.Server.LogFile = other.Server.LogFile
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CARDRAG_DENSE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.DenseWeight = w
		}
	}
	if v := os.Getenv("CARDRAG_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("CARDRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}
	if v := os.Getenv("CARDRAG_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.TopK = k
		}
	}
	if v := os.Getenv("CARDRAG_INDEX_DIR"); v != "" {
		c.Data.IndexDir = v
	}
	if v := os.Getenv("CARDRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CARDRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CARDRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.Generation.Host = v
	}
	if v := os.Getenv("CARDRAG_RERANKER_PROVIDER"); v != "" {
		c.Reranker.Provider = v
	}
	if v := os.Getenv("CARDRAG_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
	}
	if v := os.Getenv("CARDRAG_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("CARDRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

func (c *Config) resolvePaths(base string) {
	if base == "" {
		return
	}
	for i, cat := range c.Data.Categories {
		if cat.Dir != "" && !filepath.IsAbs(cat.Dir) {
			c.Data.Categories[i].Dir = filepath.Join(base, cat.Dir)
		}
	}
	if c.Data.IndexDir != "" && !filepath.IsAbs(c.Data.IndexDir) {
		c.Data.IndexDir = filepath.Join(base, c.Data.IndexDir)
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Data.Categories) == 0 {
		return fmt.Errorf("data.categories must list at least one category")
	}
	seen := make(map[string]bool, len(c.Data.Categories))
	for _, cat := range c.Data.Categories {
		if cat.Name == "" || cat.Dir == "" {
			return fmt.Errorf("data.categories entries need both name and dir")
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true
	}
	if c.Data.WatchDebounce != "" {
		if _, err := time.ParseDuration(c.Data.WatchDebounce); err != nil {
			return fmt.Errorf("data.watch_debounce: %w", err)
		}
	}

	r := c.Retrieval
	if r.DenseWeight < 0 || r.DenseWeight > 1 {
		return fmt.Errorf("dense_weight must be between 0 and 1, got %f", r.DenseWeight)
	}
	if r.LexicalWeight < 0 || r.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", r.LexicalWeight)
	}
	if sum := r.DenseWeight + r.LexicalWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("dense_weight + lexical_weight must equal 1.0, got %.2f", sum)
	}
	if r.CandidateWidth <= 0 {
		return fmt.Errorf("candidate_width must be positive, got %d", r.CandidateWidth)
	}
	if r.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", r.RRFConstant)
	}
	if r.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", r.TopK)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Reranker.Provider) {
	case "http", "lexical":
	default:
		return fmt.Errorf("reranker.provider must be 'http' or 'lexical', got %s", c.Reranker.Provider)
	}
	if c.Reranker.Timeout != "" {
		if _, err := time.ParseDuration(c.Reranker.Timeout); err != nil {
			return fmt.Errorf("reranker.timeout: %w", err)
		}
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %f", c.Generation.Temperature)
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// Category returns the configuration for name.
func (c *Config) Category(name string) (CategoryConfig, bool) {
	for _, cat := range c.Data.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return CategoryConfig{}, false
}

// WatchDebounceDuration parses Data.WatchDebounce, defaulting to 500ms.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Data.WatchDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// RerankTimeout parses Reranker.Timeout, defaulting to 30s.
func (c *Config) RerankTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reranker.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
