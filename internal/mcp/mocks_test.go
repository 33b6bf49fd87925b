package mcp

import (
	"context"

	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/resolve"
)

type mockEngine struct {
	result    *pipeline.Result
	search    *pipeline.SearchResult
	rebuilt   []*index.RebuildResult
	cards     []resolve.Entry
	cleared   int
	err       error
	lastReq   pipeline.Request
	lastScope string
	lastTopK  int
	force     bool
}

func (m *mockEngine) ResolveAndQuery(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	m.lastReq = req
	return m.result, m.err
}

func (m *mockEngine) RebuildCategoryIndexes(ctx context.Context, force bool) ([]*index.RebuildResult, error) {
	m.force = force
	return m.rebuilt, m.err
}

func (m *mockEngine) SearchCategory(ctx context.Context, scope, question string, topK int) (*pipeline.SearchResult, error) {
	m.lastScope = scope
	m.lastTopK = topK
	return m.search, m.err
}

func (m *mockEngine) ListCards(ctx context.Context) ([]resolve.Entry, error) {
	return m.cards, m.err
}

func (m *mockEngine) ClearCache() int {
	return m.cleared
}
