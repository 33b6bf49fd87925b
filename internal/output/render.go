package output

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/internal/search"
)

const snippetLen = 80

// Answer prints a query result followed by its sources.
func (w *Writer) Answer(r *pipeline.Result) {
	switch r.Status {
	case pipeline.StatusNotFound:
		w.Warning("No matching card found")
		if len(r.Suggestions) > 0 {
			w.Status("", "Try one of: "+strings.Join(r.Suggestions, ", "))
		}
		return
	case pipeline.StatusPartialFallback:
		w.Warningf("%s is not in the %s index; answered from its source file", r.EntityName, r.Category)
	}

	w.Statusf("💳", "%s (%s)", r.EntityName, r.Category)
	w.Block(r.Answer)
	if r.RewriteError != "" {
		w.Warningf("Easy explanation unavailable: %s", r.RewriteError)
	}
	if r.Simplified != "" && r.RawAnswer != r.Answer {
		w.Status("", "Original answer:")
		w.Block(r.RawAnswer)
	}
	w.Sources(r.Sources)
	w.Statusf("", "%s", r.Duration.Round(time.Millisecond))
}

// Sources prints ranked fragments with their scores.
func (w *Writer) Sources(cands []search.Candidate) {
	if len(cands) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tSCORE\tCARD\tFIELD\tHEADING\tCONTENT")
	for i, c := range cands {
		_, _ = fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\t%s\t%s\n",
			i+1, c.Score, c.Fragment.EntityName, c.Fragment.FieldKind, c.Fragment.Heading, snippet(c.Fragment.Content))
	}
	_ = tw.Flush()
}

// Cards prints resolvable cards grouped in category order.
func (w *Writer) Cards(entries []resolve.Entry) {
	if len(entries) == 0 {
		w.Warning("No cards found")
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tCARD\tFILE")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Category, e.Name, e.Path)
	}
	_ = tw.Flush()
}

// Partitions prints persisted category partitions.
func (w *Writer) Partitions(infos []index.PartitionInfo) {
	if len(infos) == 0 {
		w.Warning("No persisted indexes")
		return
	}
	tw := tabwriter.NewWriter(w.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CATEGORY\tFRAGMENTS\tCARDS\tMODEL\tSIZE\tCREATED")
	for _, p := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			p.Meta.Category, p.Meta.TotalFragments, len(p.Meta.Cards), p.Meta.EmbeddingModel,
			HumanBytes(p.SizeBytes), p.Meta.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

// Rebuilds prints the outcome of a category rebuild.
func (w *Writer) Rebuilds(results []*index.RebuildResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Built {
			w.Successf("%s: %d fragments from %d cards", r.Category, r.Meta.TotalFragments, len(r.Meta.Cards))
		} else if r.Meta.TotalFragments > 0 {
			w.Statusf("⏭️ ", "%s: already indexed (use --force to rebuild)", r.Category)
		} else {
			w.Warningf("%s: no card files found", r.Category)
		}
	}
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen-1]) + "…"
}
