package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/document"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// fixedEmbedder returns the same query vector for every text.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, e.err
}

func (e *fixedEmbedder) Dimensions() int                    { return len(e.vec) }
func (e *fixedEmbedder) ModelName() string                  { return "fixed" }
func (e *fixedEmbedder) Available(ctx context.Context) bool { return true }
func (e *fixedEmbedder) Close() error                       { return nil }

// stubScorer returns canned scores, or err.
type stubScorer struct {
	scores []float64
	err    error
	calls  int
}

func (s *stubScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func (s *stubScorer) Name() string { return "stub" }
func (s *stubScorer) Close() error { return nil }

var errBoom = errors.New("boom")

func frag(content string) document.Fragment {
	return document.Fragment{Content: content, EntityName: "Test Card", FieldKind: document.FieldFee}
}

func frags(contents ...string) []document.Fragment {
	out := make([]document.Fragment, len(contents))
	for i, c := range contents {
		out[i] = frag(c)
	}
	return out
}

// testTarget indexes three fragments with orthogonal vectors.
func testTarget(t *testing.T) Target {
	t.Helper()
	ctx := context.Background()
	fs := frags(
		"annual fee domestic 10000 won",
		"subway discount 10 percent on transit",
		"overseas usage fee 1 percent",
	)

	dense, err := store.NewHNSWStore(store.DefaultDenseConfig(3))
	require.NoError(t, err)
	require.NoError(t, dense.Add(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	lex, err := store.NewBleveLexicalIndex("")
	require.NoError(t, err)
	texts := make([]string, len(fs))
	for i, f := range fs {
		texts[i] = f.Content
	}
	require.NoError(t, lex.Add(ctx, texts))

	t.Cleanup(func() {
		_ = dense.Close()
		_ = lex.Close()
	})
	return Target{Fragments: fs, Dense: dense, Lexical: lex}
}
