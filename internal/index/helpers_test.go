package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/embed"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

// writeCard writes a two-section record (fee and benefit) for name.
func writeCard(t *testing.T, dir, file, name string) string {
	t.Helper()
	rec := map[string]any{
		"card_name": name,
		"sections": []map[string]any{
			{"heading": "Fees", "subheading": "Annual", "fee": []string{name + " annual fee domestic 10,000 won"}},
			{"heading": "Benefits", "subheading": "Transit", "benefit": name + " gives 10% off subway fares"},
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	path := filepath.Join(dir, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// countingEmbedder wraps the static embedder and counts embedded texts.
type countingEmbedder struct {
	*embed.StaticEmbedder
	texts atomic.Int64
	fail  error
	// gate, when set, blocks EmbedBatch until closed; entered is signalled
	// first.
	gate    chan struct{}
	entered chan struct{}
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.gate != nil {
		<-e.gate
	}
	if e.fail != nil {
		return nil, e.fail
	}
	e.texts.Add(int64(len(texts)))
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

var errProvider = errors.New("connection refused")

type fixture struct {
	credit   string
	check    string
	indexDir string
	embedder *countingEmbedder
	metrics  *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		credit:   filepath.Join(root, "data", "credit"),
		check:    filepath.Join(root, "data", "check"),
		indexDir: filepath.Join(root, "indexes"),
		embedder: newCountingEmbedder(),
		metrics:  telemetry.New(nil),
	}
	require.NoError(t, os.MkdirAll(f.credit, 0o755))
	require.NoError(t, os.MkdirAll(f.check, 0o755))
	return f
}

func (f *fixture) cache(withStore bool) *Cache {
	opts := Options{
		Roots: []resolve.Root{
			{Category: "credit", Dir: f.credit},
			{Category: "check", Dir: f.check},
		},
		Embedder: f.embedder,
		Metrics:  f.metrics,
	}
	if withStore {
		opts.Store = NewSQLiteStore(f.indexDir)
	}
	return NewCache(opts)
}
