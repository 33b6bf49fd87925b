package mcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/search"
)

const (
	defaultSearchLimit = 10
	maxLimit           = 50
)

// AskCardInput is the input schema for ask_card.
type AskCardInput struct {
	Card        string `json:"card" jsonschema:"card name, fuzzy matched against the card documents"`
	Question    string `json:"question" jsonschema:"the question about the card"`
	ExplainEasy bool   `json:"explain_easy,omitempty" jsonschema:"also rewrite the answer in plain language"`
	TopK        int    `json:"top_k,omitempty" jsonschema:"number of document fragments used as context, default 20"`
}

// AskCardOutput is the output schema for ask_card.
type AskCardOutput struct {
	Status      string         `json:"status" jsonschema:"found, not_found or partial_fallback"`
	Card        string         `json:"card,omitempty"`
	Category    string         `json:"category,omitempty"`
	Answer      string         `json:"answer,omitempty"`
	RawAnswer   string         `json:"raw_answer,omitempty" jsonschema:"answer before the plain-language rewrite"`
	Sources     []SourceOutput `json:"sources,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty" jsonschema:"available card names when the card was not found"`
}

// SourceOutput is one context fragment.
type SourceOutput struct {
	Card    string  `json:"card"`
	Field   string  `json:"field"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchCardsInput is the input schema for search_cards.
type SearchCardsInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	Scope string `json:"scope,omitempty" jsonschema:"category name or all, default all"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of fragments, default 10"`
}

// SearchCardsOutput is the output schema for search_cards.
type SearchCardsOutput struct {
	Scope   string         `json:"scope"`
	Results []SourceOutput `json:"results"`
	Count   int            `json:"count"`
}

// ListCardsInput is the input schema for list_cards.
type ListCardsInput struct {
	Category string `json:"category,omitempty" jsonschema:"only list cards of this category"`
}

// ListCardsOutput is the output schema for list_cards.
type ListCardsOutput struct {
	Cards []CardOutput `json:"cards"`
	Count int          `json:"count"`
}

// CardOutput is one resolvable card.
type CardOutput struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// RebuildIndexesInput is the input schema for rebuild_indexes.
type RebuildIndexesInput struct {
	Force bool `json:"force,omitempty" jsonschema:"rebuild even when an index already exists"`
}

// RebuildIndexesOutput is the output schema for rebuild_indexes.
type RebuildIndexesOutput struct {
	Partitions []PartitionOutput `json:"partitions"`
	Errors     []string          `json:"errors,omitempty"`
}

// PartitionOutput summarizes one category index.
type PartitionOutput struct {
	Category  string   `json:"category"`
	Built     bool     `json:"built"`
	Fragments int      `json:"fragments"`
	Cards     []string `json:"cards"`
}

// ClearCacheInput is the input schema for clear_cache.
type ClearCacheInput struct{}

// ClearCacheOutput is the output schema for clear_cache.
type ClearCacheOutput struct {
	Cleared int `json:"cleared"`
}

func (s *Server) handleAskCard(ctx context.Context, _ *mcp.CallToolRequest, input AskCardInput) (
	*mcp.CallToolResult,
	AskCardOutput,
	error,
) {
	if strings.TrimSpace(input.Card) == "" {
		return nil, AskCardOutput{}, NewInvalidParamsError("card is required")
	}
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskCardOutput{}, NewInvalidParamsError("question is required")
	}

	start := time.Now()
	res, err := s.engine.ResolveAndQuery(ctx, pipeline.Request{
		EntityName:  input.Card,
		Question:    input.Question,
		ExplainEasy: input.ExplainEasy,
		TopK:        clamp(input.TopK, 0, maxLimit),
	})
	if res != nil && res.Status == pipeline.StatusNotFound {
		return nil, AskCardOutput{
			Status:      string(res.Status),
			Card:        input.Card,
			Suggestions: res.Suggestions,
		}, nil
	}
	if err != nil {
		return nil, AskCardOutput{}, MapError(err)
	}

	out := AskCardOutput{
		Status:    string(res.Status),
		Card:      res.EntityName,
		Category:  res.Category,
		Answer:    res.Answer,
		RawAnswer: res.RawAnswer,
		Sources:   toSources(res.Sources),
	}
	s.logger.Info("mcp_ask_card",
		slog.String("card", res.EntityName),
		slog.String("status", out.Status),
		slog.Duration("duration", time.Since(start)))
	return nil, out, nil
}

func (s *Server) handleSearchCards(ctx context.Context, _ *mcp.CallToolRequest, input SearchCardsInput) (
	*mcp.CallToolResult,
	SearchCardsOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchCardsOutput{}, NewInvalidParamsError("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	res, err := s.engine.SearchCategory(ctx, input.Scope, input.Query, clamp(limit, 1, maxLimit))
	if err != nil {
		return nil, SearchCardsOutput{}, MapError(err)
	}
	results := toSources(res.Candidates)
	return nil, SearchCardsOutput{Scope: res.Scope, Results: results, Count: len(results)}, nil
}

func (s *Server) handleListCards(ctx context.Context, _ *mcp.CallToolRequest, input ListCardsInput) (
	*mcp.CallToolResult,
	ListCardsOutput,
	error,
) {
	entries, err := s.engine.ListCards(ctx)
	if err != nil {
		return nil, ListCardsOutput{}, MapError(err)
	}
	out := ListCardsOutput{Cards: make([]CardOutput, 0, len(entries))}
	for _, e := range entries {
		if input.Category != "" && e.Category != input.Category {
			continue
		}
		out.Cards = append(out.Cards, CardOutput{Name: e.Name, Category: e.Category})
	}
	out.Count = len(out.Cards)
	return nil, out, nil
}

func (s *Server) handleRebuildIndexes(ctx context.Context, _ *mcp.CallToolRequest, input RebuildIndexesInput) (
	*mcp.CallToolResult,
	RebuildIndexesOutput,
	error,
) {
	results, err := s.engine.RebuildCategoryIndexes(ctx, input.Force)
	out := RebuildIndexesOutput{Partitions: make([]PartitionOutput, 0, len(results))}
	for _, r := range results {
		out.Partitions = append(out.Partitions, PartitionOutput{
			Category:  r.Category,
			Built:     r.Built,
			Fragments: r.Meta.TotalFragments,
			Cards:     r.Meta.Cards,
		})
	}
	if err != nil {
		if len(results) == 0 {
			return nil, RebuildIndexesOutput{}, MapError(err)
		}
		out.Errors = strings.Split(err.Error(), "\n")
	}
	return nil, out, nil
}

func (s *Server) handleClearCache(_ context.Context, _ *mcp.CallToolRequest, _ ClearCacheInput) (
	*mcp.CallToolResult,
	ClearCacheOutput,
	error,
) {
	return nil, ClearCacheOutput{Cleared: s.engine.ClearCache()}, nil
}

func toSources(cands []search.Candidate) []SourceOutput {
	out := make([]SourceOutput, 0, len(cands))
	for _, c := range cands {
		f := c.Fragment
		title := f.Heading
		if f.Subheading != "" {
			title += " - " + f.Subheading
		}
		out = append(out, SourceOutput{
			Card:    f.EntityName,
			Field:   string(f.FieldKind),
			Title:   title,
			Content: f.Content,
			Score:   c.Score,
		})
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
