package answer

import (
	"context"
	"errors"
	"sync"
)

// scriptedGenerator answers by system prompt and records every call.
type scriptedGenerator struct {
	mu         sync.Mutex
	answer     string
	rewrite    string
	answerErr  error
	rewriteErr error
	prompts    []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if system == rewriteSystem {
		return g.rewrite, g.rewriteErr
	}
	return g.answer, g.answerErr
}

func (g *scriptedGenerator) ModelName() string { return "scripted" }
func (g *scriptedGenerator) Close() error      { return nil }

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

var errUnavailable = errors.New("model unavailable")
