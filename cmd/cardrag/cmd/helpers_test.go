package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/config"
	"github.com/Aman-CERP/cardrag/internal/embed"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/search"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

type testEnv struct {
	dir      string
	credit   string
	check    string
	indexDir string
	cfgPath  string
}

// newTestEnv writes a config with offline embeddings and lexical scoring
// over empty credit and check directories.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))

	env := &testEnv{
		dir:      dir,
		credit:   filepath.Join(dir, "data", "credit"),
		check:    filepath.Join(dir, "data", "check"),
		indexDir: filepath.Join(dir, "indexes"),
		cfgPath:  filepath.Join(dir, "cardrag.yaml"),
	}
	require.NoError(t, os.MkdirAll(env.credit, 0o755))
	require.NoError(t, os.MkdirAll(env.check, 0o755))

	yaml := fmt.Sprintf(`data:
  categories:
    - name: credit
      dir: data/credit
    - name: check
      dir: data/check
  index_dir: indexes
embeddings:
  provider: static
reranker:
  provider: lexical
server:
  log_level: debug
  log_file: %s
`, filepath.Join(dir, "logs", "cardrag.log"))
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(yaml), 0o644))
	return env
}

func (e *testEnv) writeCard(t *testing.T, dir, name string) {
	t.Helper()
	body := fmt.Sprintf(`{
  "card_name": %q,
  "sections": [
    {"heading": "Fees", "subheading": "Annual", "fee": ["annual fee domestic 10,000 won"]},
    {"heading": "Benefits", "subheading": "Transit", "benefit": ["subway and bus discount of 10 percent"]}
  ]
}`, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644))
}

// execute runs the root command with --config pointing at the env.
func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	_ = stopLogging(nil, nil)
	return buf.String(), err
}

type stubGenerator struct {
	answer  string
	rewrite string
}

func (g *stubGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	if strings.Contains(prompt, "[쉬운 설명]") {
		return g.rewrite, nil
	}
	return g.answer, nil
}

func (g *stubGenerator) ModelName() string { return "stub" }
func (g *stubGenerator) Close() error      { return nil }

// useOfflineEngine makes commands build pipelines without network backends.
func useOfflineEngine(t *testing.T, gen *stubGenerator) {
	t.Helper()
	prev := openEngine
	openEngine = func(_ context.Context, cfg *config.Config, reg prometheus.Registerer) (*pipeline.Pipeline, error) {
		return pipeline.NewWithComponents(cfg, embed.NewStaticEmbedder(), search.NewLexicalScorer(), gen, telemetry.New(reg))
	}
	t.Cleanup(func() { openEngine = prev })
}
