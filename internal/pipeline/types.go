// Package pipeline wires resolution, index caching, hybrid retrieval,
// reranking and answer generation into the operations exposed to the CLI
// and MCP server.
package pipeline

import (
	"time"

	"github.com/Aman-CERP/cardrag/internal/search"
)

// Status classifies a query result.
type Status string

const (
	// StatusFound means the card's fragments came from its category
	// partition.
	StatusFound Status = "found"

	// StatusNotFound means no card matched the requested name.
	StatusNotFound Status = "not_found"

	// StatusPartialFallback means the card was missing from its partition
	// and was indexed on its own from the source file.
	StatusPartialFallback Status = "partial_fallback"
)

// Request is one card question.
type Request struct {
	EntityName  string `json:"entity_name"`
	Question    string `json:"question"`
	ExplainEasy bool   `json:"explain_easy"`
	// TopK caps the reranked context; zero uses the configured default.
	TopK int `json:"top_k,omitempty"`
}

// Result is the outcome of ResolveAndQuery.
type Result struct {
	Status     Status `json:"status"`
	EntityName string `json:"entity_name,omitempty"`
	Category   string `json:"category,omitempty"`

	// Answer is the final answer: simplified when requested and
	// available, otherwise raw.
	Answer     string `json:"answer,omitempty"`
	RawAnswer  string `json:"raw_answer,omitempty"`
	Simplified string `json:"simplified,omitempty"`
	// RewriteError explains why a requested rewrite was not used.
	RewriteError string `json:"rewrite_error,omitempty"`

	Sources []search.Candidate `json:"sources,omitempty"`
	// Suggestions are sample card names offered when nothing matched.
	Suggestions []string      `json:"suggestions,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// SearchResult is a retrieval-only search over whole partitions.
type SearchResult struct {
	Scope      string             `json:"scope"`
	Categories []string           `json:"categories"`
	Candidates []search.Candidate `json:"candidates"`
}

// ScopeAll searches every configured category.
const ScopeAll = "all"
