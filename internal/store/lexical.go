package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// TextTokenizerName is the registered name of the card text tokenizer.
	TextTokenizerName = "card_text_tokenizer"

	// TextStopFilterName is the registered name of the stop word filter.
	TextStopFilterName = "card_text_stop"

	// TextAnalyzerName is the analyzer used for the content field.
	TextAnalyzerName = "card_text"

	contentField = "content"
	posWidth     = 9
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextStopFilterName, textStopFilterConstructor)
}

// BleveLexicalIndex is a LexicalIndex backed by Bleve. An empty path keeps
// the index in memory; per-card bundles use that mode.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	count  int
	closed bool
}

type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveLexicalIndex creates an empty index. A non-empty path that already
// holds an index is replaced.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	m, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("clear lexical index %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

// OpenBleveLexicalIndex opens a persisted index. A missing or unreadable
// index is reported so the caller can rebuild it from fragments.
func OpenBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	if err := validateIndexMeta(path); err != nil {
		return nil, err
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index %s: %w", path, err)
	}
	n, err := idx.DocCount()
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("count lexical index %s: %w", path, err)
	}
	return &BleveLexicalIndex{index: idx, path: path, count: int(n)}, nil
}

// validateIndexMeta rejects directories without a parseable index_meta.json,
// which bleve leaves behind after an interrupted build.
func validateIndexMeta(path string) error {
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("lexical index %s: %w", path, err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("lexical index %s: corrupt index_meta.json: %w", path, err)
	}
	return nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{TextStopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	m.DefaultAnalyzer = TextAnalyzerName
	return m, nil
}

// Add implements LexicalIndex.
func (b *BleveLexicalIndex) Add(ctx context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for i, text := range texts {
		if err := batch.Index(posID(b.count+i), bleveDocument{Content: text}); err != nil {
			return fmt.Errorf("index document %d: %w", b.count+i, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	b.count += len(texts)
	return nil
}

// Search implements LexicalIndex.
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 || b.count == 0 {
		return []Hit{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	// Zero-padded IDs make "_id" order equal insertion order.
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		pos, err := strconv.Atoi(h.ID)
		if err != nil {
			slog.Warn("lexical_bad_doc_id", slog.String("id", h.ID))
			continue
		}
		hits = append(hits, Hit{Pos: pos, Score: h.Score})
	}
	return hits, nil
}

// Count implements LexicalIndex.
func (b *BleveLexicalIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Path returns the on-disk location, or "" for memory-only indexes.
func (b *BleveLexicalIndex) Path() string {
	return b.path
}

// Close implements LexicalIndex.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

func posID(pos int) string {
	return fmt.Sprintf("%0*d", posWidth, pos)
}

func textTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return textTokenizer{}, nil
}

type textTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (textTokenizer) Tokenize(input []byte) analysis.TokenStream {
	toks := TokenizeText(string(input))
	stream := make(analysis.TokenStream, 0, len(toks))
	for i, t := range toks {
		stream = append(stream, &analysis.Token{
			Term:     []byte(t.Term),
			Start:    t.Start,
			End:      t.End,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

func textStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return stopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type stopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.stopWords[string(tok.Term)]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
