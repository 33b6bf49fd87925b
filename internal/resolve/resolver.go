package resolve

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/cardrag/internal/document"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// DefaultSampleSize is the number of names reported with a not-found error.
const DefaultSampleSize = 5

// Root is a category directory searched by the resolver.
type Root struct {
	Category string
	Dir      string
}

// Match is a resolved card.
type Match struct {
	// Path is the record file.
	Path string
	// Category is the category of the root the file was found under.
	Category string
	// EntityName is the card_name inside the file, or the file stem when
	// the file has none.
	EntityName string
	Score      int
}

// Entry is a resolvable card listed by Available.
type Entry struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Path     string `json:"path"`
}

// Resolver finds record files by fuzzy card name.
type Resolver struct {
	roots []Root
}

// New returns a Resolver over roots. Root order is the tie-break order.
func New(roots []Root) *Resolver {
	return &Resolver{roots: roots}
}

// Roots returns the configured roots.
func (r *Resolver) Roots() []Root {
	return r.roots
}

// Resolve returns the best-scoring record for query. When nothing scores at
// least MinScore it returns an EntityNotFound error carrying a sample of
// available names.
func (r *Resolver) Resolve(ctx context.Context, query string) (*Match, error) {
	needle := Normalize(query)
	if needle == "" {
		return nil, carderrors.EntityNotFound(query, r.sample(ctx, DefaultSampleSize))
	}

	var (
		best    *Match
		checked int
	)
	err := r.walk(ctx, func(root Root, path string) error {
		checked++
		fileScore := Score(needle, Normalize(filepath.Base(path)))

		inner, err := document.ReadEntityName(path)
		if err != nil {
			slog.Debug("resolve_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		score := max(fileScore, Score(needle, Normalize(inner)))
		if score < MinScore {
			return nil
		}
		if fileScore == ScoreExact {
			score += exactFileBonus
		}
		// Strictly greater: earlier files win ties.
		if best == nil || score > best.Score {
			name := inner
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			best = &Match{Path: path, Category: root.Category, EntityName: name, Score: score}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if best == nil {
		slog.Info("resolve_not_found", slog.String("query", query), slog.Int("checked", checked))
		return nil, carderrors.EntityNotFound(query, r.sample(ctx, DefaultSampleSize))
	}

	slog.Debug("resolve_matched",
		slog.String("query", query),
		slog.String("path", best.Path),
		slog.String("category", best.Category),
		slog.Int("score", best.Score),
		slog.Int("checked", checked))
	return best, nil
}

// Available lists every card with a readable card_name, in walk order.
func (r *Resolver) Available(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := r.walk(ctx, func(root Root, path string) error {
		name, err := document.ReadEntityName(path)
		if err != nil || name == "" {
			return nil
		}
		out = append(out, Entry{Name: name, Category: root.Category, Path: path})
		return nil
	})
	return out, err
}

var errStopWalk = errors.New("stop walk")

func (r *Resolver) sample(ctx context.Context, n int) []string {
	var names []string
	_ = r.walk(ctx, func(_ Root, path string) error {
		name, err := document.ReadEntityName(path)
		if err != nil || name == "" {
			return nil
		}
		names = append(names, name)
		if len(names) >= n {
			return errStopWalk
		}
		return nil
	})
	return names
}

// walk visits every *.json file under each root in order. Missing roots are
// skipped so one absent category does not hide the others.
func (r *Resolver) walk(ctx context.Context, fn func(Root, string) error) error {
	for _, root := range r.roots {
		err := filepath.WalkDir(root.Dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root.Dir {
					slog.Warn("resolve_root_unreadable", slog.String("dir", root.Dir), slog.String("error", err.Error()))
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !jsonExt.MatchString(d.Name()) {
				return nil
			}
			return fn(root, path)
		})
		if errors.Is(err, errStopWalk) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
