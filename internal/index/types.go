// Package index owns the per-category partitions and the per-card index
// bundles built from them.
//
// A Partition holds every fragment of one category together with its
// embeddings and a dense and lexical index. Partitions are persisted by a
// Store and are read-only once loaded. An EntityBundle is the slice of a
// partition that belongs to a single card, with indexes of its own; bundles
// are built lazily and cached until Clear.
package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/cardrag/internal/document"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// BundleSource records where a bundle's fragments came from.
type BundleSource string

const (
	// SourcePartition bundles are subsets of a category partition.
	SourcePartition BundleSource = "partition"

	// SourceIndividual bundles were built from a single source file because
	// the partition did not contain the card.
	SourceIndividual BundleSource = "individual"
)

// CategoryMeta summarizes a persisted partition.
type CategoryMeta struct {
	Category       string    `json:"category"`
	TotalFragments int       `json:"total_documents"`
	Cards          []string  `json:"cards"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
}

// Partition is one category's fragments and indexes. Fragments, Vectors and
// index positions share the same order.
type Partition struct {
	Category  string
	Fragments []document.Fragment
	Vectors   [][]float32
	Dense     store.DenseIndex
	Lexical   store.LexicalIndex
	Meta      CategoryMeta

	// refMu guards readers and retired. A retired partition has been
	// replaced in the cache and is closed once readers reaches zero.
	refMu   sync.Mutex
	readers int
	retired bool
}

// Empty reports whether the partition holds no fragments. Dense and Lexical
// are nil for an empty partition.
func (p *Partition) Empty() bool {
	return p == nil || len(p.Fragments) == 0
}

// Close releases the partition's indexes.
func (p *Partition) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Dense != nil {
		errs = append(errs, p.Dense.Close())
	}
	if p.Lexical != nil {
		errs = append(errs, p.Lexical.Close())
	}
	return errors.Join(errs...)
}

func (p *Partition) acquire() bool {
	p.refMu.Lock()
	defer p.refMu.Unlock()
	if p.retired {
		return false
	}
	p.readers++
	return true
}

func (p *Partition) release() {
	p.refMu.Lock()
	p.readers--
	done := p.retired && p.readers == 0
	p.refMu.Unlock()
	if done {
		p.closeRetired()
	}
}

// retire marks p as replaced. It is closed now if unused, otherwise by the
// last release.
func (p *Partition) retire() {
	p.refMu.Lock()
	if p.retired {
		p.refMu.Unlock()
		return
	}
	p.retired = true
	done := p.readers == 0
	p.refMu.Unlock()
	if done {
		p.closeRetired()
	}
}

func (p *Partition) closeRetired() {
	if err := p.Close(); err != nil {
		slog.Warn("partition_close_failed",
			slog.String("category", p.Category),
			slog.String("error", err.Error()))
		return
	}
	slog.Debug("partition_released", slog.String("category", p.Category))
}

// EntityBundle is the index pair for a single card.
type EntityBundle struct {
	// Key is the normalized card name the bundle is cached under.
	Key string
	// EntityName is the card name as written in its records.
	EntityName string
	Category   string
	Source     BundleSource
	Fragments  []document.Fragment
	Dense      store.DenseIndex
	Lexical    store.LexicalIndex
}

// PartitionInfo describes a persisted partition on disk.
type PartitionInfo struct {
	Meta      CategoryMeta `json:"meta"`
	Path      string       `json:"path"`
	SizeBytes int64        `json:"size_bytes"`
}

// Store persists partitions between runs.
type Store interface {
	// Exists reports whether a complete partition is persisted.
	Exists(category string) bool

	// Load reads a persisted partition with its indexes.
	Load(ctx context.Context, category string) (*Partition, error)

	// Save persists p, replacing any earlier version.
	Save(ctx context.Context, p *Partition) error

	// List describes every persisted partition, ordered by category.
	List() ([]PartitionInfo, error)

	// Dump writes a human-readable listing of a partition's fragments.
	Dump(ctx context.Context, category string, w io.Writer) error
}
