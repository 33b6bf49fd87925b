// Package answer turns reranked context into a grounded answer.
//
// Generation is a linear state machine: BuildPrompt renders the grounded
// prompt, GenerateAnswer asks the model for a raw answer, and RewriteAnswer
// optionally restates it in plain language. A failed rewrite never discards
// the raw answer.
package answer

import "context"

// Generator produces text from a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
	Close() error
}
