package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is a DenseIndex over a coder/hnsw cosine graph. Vectors are
// normalized on insert so similarity is a dot product. Up to
// ExactThreshold vectors, Search scans every vector instead of walking the
// graph.
type HNSWStore struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	config  DenseConfig
	// vectors[i] is the normalized vector at position i, shared with the
	// graph node.
	vectors [][]float32
	count   int
	closed  bool
}

// hnswMetadata is persisted next to the exported graph.
type hnswMetadata struct {
	Config DenseConfig
	Count  int
}

// NewHNSWStore creates an empty graph.
func NewHNSWStore(cfg DenseConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dense index needs positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.Oversample <= 0 {
		cfg.Oversample = 1
	}
	return &HNSWStore{graph: newGraph(cfg), config: cfg}, nil
}

func newGraph(cfg DenseConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add implements DenseIndex.
func (s *HNSWStore) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := make([]float32, len(v))
		copy(vec, v)
		normalizeInPlace(vec)
		s.graph.Add(hnsw.MakeNode(uint64(s.count), vec))
		s.vectors = append(s.vectors, vec)
		s.count++
	}
	return nil
}

// Search implements DenseIndex. Small indexes are scanned exhaustively.
// Larger ones take Oversample*limit candidates from the graph and rescore
// them with exact cosine similarity.
func (s *HNSWStore) Search(ctx context.Context, query []float32, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.count == 0 || limit <= 0 {
		return []Hit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	var hits []Hit
	if s.count <= s.config.ExactThreshold {
		hits = make([]Hit, 0, s.count)
		for i, v := range s.vectors {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			hits = append(hits, Hit{Pos: i, Score: dot(q, v)})
		}
	} else {
		nodes := s.graph.Search(q, limit*s.config.Oversample)
		hits = make([]Hit, 0, len(nodes))
		for _, n := range nodes {
			hits = append(hits, Hit{Pos: int(n.Key), Score: dot(q, n.Value)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Pos < hits[j].Pos
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count implements DenseIndex.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dimensions implements DenseIndex.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save exports the graph to path (temp file + rename) and writes
// path+".meta".
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	err := writeAtomic(path, func(f *os.File) error {
		return s.graph.Export(f)
	})
	if err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	err = writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(hnswMetadata{Config: s.config, Count: s.count})
	})
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// Load replaces the graph with the one stored at path.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	var meta hnswMetadata
	mf, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	err = gob.NewDecoder(mf).Decode(&meta)
	_ = mf.Close()
	if err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	cfg := s.config
	cfg.M = meta.Config.M
	g := newGraph(cfg)
	// Import needs an io.ByteReader.
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	if g.Len() != meta.Count {
		return fmt.Errorf("graph holds %d nodes, metadata says %d", g.Len(), meta.Count)
	}
	vectors := make([][]float32, meta.Count)
	for i := range vectors {
		v, ok := g.Lookup(uint64(i))
		if !ok {
			return fmt.Errorf("graph is missing position %d", i)
		}
		vectors[i] = v
	}

	s.graph = g
	s.config.M = meta.Config.M
	s.vectors = vectors
	s.count = meta.Count
	return nil
}

// Close implements DenseIndex.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	s.vectors = nil
	return nil
}

var _ DenseIndex = (*HNSWStore)(nil)

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
