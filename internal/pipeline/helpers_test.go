package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/config"
	"github.com/Aman-CERP/cardrag/internal/embed"
	"github.com/Aman-CERP/cardrag/internal/search"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

type section struct {
	Heading    string   `json:"heading"`
	Subheading string   `json:"subheading"`
	Fee        []string `json:"fee,omitempty"`
	Benefit    []string `json:"benefit,omitempty"`
	Condition  []string `json:"condition,omitempty"`
}

// writeCard writes a record with a fee section and two benefit sections.
func writeCard(t *testing.T, dir, name string) string {
	t.Helper()
	rec := map[string]any{
		"card_name": name,
		"sections": []section{
			{Heading: "Fees", Subheading: "Annual", Fee: []string{"annual fee domestic 10,000 won", "overseas 12,000 won"}},
			{Heading: "Benefits", Subheading: "Transit", Benefit: []string{"subway and bus discount of 10 percent"}},
			{Heading: "Benefits", Subheading: "Coffee", Benefit: []string{"coffee shop discount 20 percent monthly"}},
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// fakeGenerator answers with answer, or with rewrite for rewrite prompts.
type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	rewrite string
	prompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if strings.Contains(prompt, "[쉬운 설명]") {
		return g.rewrite, nil
	}
	return g.answer, nil
}

func (g *fakeGenerator) ModelName() string { return "fake" }
func (g *fakeGenerator) Close() error      { return nil }

func (g *fakeGenerator) lastPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type fixture struct {
	credit  string
	check   string
	cfg     *config.Config
	gen     *fakeGenerator
	metrics *telemetry.Metrics
	p       *Pipeline
}

// newFixture builds a pipeline over two category directories with
// offline embedding and scoring.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		credit:  filepath.Join(root, "data", "credit"),
		check:   filepath.Join(root, "data", "check"),
		gen:     &fakeGenerator{answer: "연회비는 국내전용 10,000원, 해외겸용 12,000원입니다."},
		metrics: telemetry.New(prometheus.NewRegistry()),
	}
	require.NoError(t, os.MkdirAll(f.credit, 0o755))
	require.NoError(t, os.MkdirAll(f.check, 0o755))

	f.cfg = config.NewConfig()
	f.cfg.Data.Categories = []config.CategoryConfig{
		{Name: "credit", Dir: f.credit},
		{Name: "check", Dir: f.check},
	}
	f.cfg.Data.IndexDir = filepath.Join(root, "indexes")

	p, err := NewWithComponents(f.cfg, embed.NewStaticEmbedder(), search.NewLexicalScorer(), f.gen, f.metrics)
	require.NoError(t, err)
	f.p = p
	t.Cleanup(func() { _ = p.Close() })
	return f
}
