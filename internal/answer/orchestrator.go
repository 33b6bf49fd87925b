package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

// Stage is a step of the generation state machine.
type Stage string

// Stages in execution order.
const (
	StageBuildPrompt    Stage = "build_prompt"
	StageGenerateAnswer Stage = "generate_answer"
	StageRewriteAnswer  Stage = "rewrite_answer"
	StageDone           Stage = "done"
)

// next is the only transition table: every stage has one successor.
var next = map[Stage]Stage{
	StageBuildPrompt:    StageGenerateAnswer,
	StageGenerateAnswer: StageRewriteAnswer,
	StageRewriteAnswer:  StageDone,
}

// State is the query-scoped generation state.
type State struct {
	EntityName  string
	Question    string
	Context     []string
	ExplainEasy bool

	Prompt     string
	Answer     string
	Simplified string
	// RewriteErr is set when a requested rewrite failed or was rejected.
	RewriteErr error
	Stage      Stage
}

// NewState starts a state at StageBuildPrompt.
func NewState(entityName, question string, context []string, explainEasy bool) *State {
	return &State{
		EntityName:  entityName,
		Question:    question,
		Context:     context,
		ExplainEasy: explainEasy,
		Stage:       StageBuildPrompt,
	}
}

// Final returns the simplified answer when requested and non-empty,
// otherwise the raw answer.
func (s *State) Final() string {
	if s.ExplainEasy && strings.TrimSpace(s.Simplified) != "" {
		return s.Simplified
	}
	return s.Answer
}

// Orchestrator drives State through the stages.
type Orchestrator struct {
	generator Generator
	rewriter  Generator
	metrics   *telemetry.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRewriter uses a separate generator for RewriteAnswer.
func WithRewriter(g Generator) Option {
	return func(o *Orchestrator) { o.rewriter = g }
}

// WithMetrics records per-stage latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator generating with g.
func NewOrchestrator(g Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{generator: g, rewriter: g}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the remaining stages of st and returns it. A GenerateAnswer
// failure stops the machine and is returned; a RewriteAnswer failure is
// recorded in st.RewriteErr and the raw answer is kept.
func (o *Orchestrator) Run(ctx context.Context, st *State) (*State, error) {
	if st.Stage == "" {
		st.Stage = StageBuildPrompt
	}
	for st.Stage != StageDone {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		start := time.Now()
		stage := st.Stage

		var err error
		switch stage {
		case StageBuildPrompt:
			st.Prompt = BuildPrompt(st.EntityName, st.Question, st.Context)
		case StageGenerateAnswer:
			err = o.GenerateAnswer(ctx, st)
		case StageRewriteAnswer:
			o.RewriteAnswer(ctx, st)
		default:
			err = carderrors.New(carderrors.ErrCodeInternal, fmt.Sprintf("unknown stage %q", stage), nil)
		}
		if o.metrics != nil {
			o.metrics.ObserveStage(string(stage), start)
		}
		if err != nil {
			return st, err
		}
		st.Stage = next[stage]
	}
	return st, nil
}

// GenerateAnswer stores the raw answer for st.Prompt.
func (o *Orchestrator) GenerateAnswer(ctx context.Context, st *State) error {
	if st.Prompt == "" {
		st.Prompt = BuildPrompt(st.EntityName, st.Question, st.Context)
	}
	raw, err := o.generator.Generate(ctx, answerSystem, st.Prompt)
	if err != nil {
		if _, ok := carderrors.As(err); ok {
			return err
		}
		return carderrors.ExternalCall("generate", err)
	}
	st.Answer = raw
	return nil
}

// RewriteAnswer fills st.Simplified when ExplainEasy is set. The rewrite is
// rejected when it drops any figure of the raw answer. Failures leave
// Simplified empty so Final falls back to the raw answer.
func (o *Orchestrator) RewriteAnswer(ctx context.Context, st *State) {
	st.Simplified = ""
	if !st.ExplainEasy || strings.TrimSpace(st.Answer) == "" {
		return
	}

	out, err := o.rewriter.Generate(ctx, rewriteSystem, BuildRewritePrompt(st.Answer))
	if err == nil {
		if missing := MissingFigures(st.Answer, out); len(missing) > 0 {
			err = fmt.Errorf("rewrite dropped figures %s", strings.Join(missing, ", "))
		}
	}
	if err != nil {
		st.RewriteErr = err
		slog.Warn("rewrite_failed",
			slog.String("entity", st.EntityName),
			slog.String("error", err.Error()))
		return
	}
	st.Simplified = out
}
