package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/cardrag/internal/document"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// On-disk layout under <dir>/<category>/.
const (
	dbFile      = "partition.db"
	denseFile   = "dense.hnsw"
	lexicalDir  = "lexical"
	lockFile    = ".build.lock"
	metaKey     = "category_meta"
	dumpPreview = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fragments (
	pos         INTEGER PRIMARY KEY,
	content     TEXT NOT NULL,
	entity_name TEXT NOT NULL,
	field_kind  TEXT NOT NULL,
	heading     TEXT NOT NULL,
	subheading  TEXT NOT NULL,
	source      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	pos    INTEGER PRIMARY KEY,
	vector BLOB NOT NULL
);
`

// SQLiteStore persists partitions as a SQLite database of fragments,
// embeddings and metadata, next to an exported HNSW graph and a Bleve
// index. The database is written last and renamed into place, so its
// presence marks a complete partition. The graph and Bleve index are
// rebuilt from the database when they are missing or stale.
type SQLiteStore struct {
	dir string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store rooted at dir.
func NewSQLiteStore(dir string) *SQLiteStore {
	return &SQLiteStore{dir: dir}
}

// Dir returns the store root.
func (s *SQLiteStore) Dir() string {
	return s.dir
}

func (s *SQLiteStore) categoryDir(category string) string {
	return filepath.Join(s.dir, category)
}

// Exists implements Store.
func (s *SQLiteStore) Exists(category string) bool {
	info, err := os.Stat(filepath.Join(s.categoryDir(category), dbFile))
	return err == nil && info.Mode().IsRegular()
}

// Save implements Store. Writers of the same category are serialized with a
// file lock.
func (s *SQLiteStore) Save(ctx context.Context, p *Partition) error {
	if p.Empty() {
		return fmt.Errorf("refusing to persist empty %s partition", p.Category)
	}
	dir := s.categoryDir(p.Category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	lock := NewFileLock(filepath.Join(dir, lockFile))
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if p.Dense != nil {
		if err := p.Dense.Save(filepath.Join(dir, denseFile)); err != nil {
			return fmt.Errorf("save dense index: %w", err)
		}
	}

	lex, err := store.NewBleveLexicalIndex(filepath.Join(dir, lexicalDir))
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}
	err = lex.Add(ctx, contents(p.Fragments))
	if cerr := lex.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write lexical index: %w", err)
	}

	final := filepath.Join(dir, dbFile)
	tmp := final + ".tmp"
	_ = os.Remove(tmp)
	if err := writeDB(ctx, tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("install %s: %w", final, err)
	}

	slog.Info("partition_saved",
		slog.String("category", p.Category),
		slog.Int("fragments", len(p.Fragments)),
		slog.String("path", dir))
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}
	return db, nil
}

func writeDB(ctx context.Context, path string, p *Partition) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fragStmt, err := tx.PrepareContext(ctx, `INSERT INTO fragments
		(pos, content, entity_name, field_kind, heading, subheading, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer fragStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings (pos, vector) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, f := range p.Fragments {
		if _, err := fragStmt.ExecContext(ctx, i, f.Content, f.EntityName, string(f.FieldKind),
			f.Heading, f.Subheading, f.Source); err != nil {
			return fmt.Errorf("insert fragment %d: %w", i, err)
		}
		if _, err := vecStmt.ExecContext(ctx, i, encodeVector(p.Vectors[i])); err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaKey, string(meta)); err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, category string) (*Partition, error) {
	dir := s.categoryDir(category)
	meta, frags, vecs, err := readDB(ctx, filepath.Join(dir, dbFile), true)
	if err != nil {
		return nil, carderrors.New(carderrors.ErrCodeCorruptIndex,
			fmt.Sprintf("read %s partition", category), err).WithDetail("path", dir)
	}
	if len(frags) == 0 {
		return &Partition{Category: category, Meta: meta}, nil
	}

	p := &Partition{Category: category, Fragments: frags, Vectors: vecs, Meta: meta}
	p.Dense = s.loadDense(ctx, dir, vecs)
	if p.Dense == nil {
		return nil, carderrors.New(carderrors.ErrCodeCorruptIndex,
			fmt.Sprintf("%s partition embeddings are unusable", category), nil)
	}
	p.Lexical, err = s.loadLexical(ctx, dir, frags)
	if err != nil {
		_ = p.Dense.Close()
		return nil, err
	}
	return p, nil
}

// loadDense imports the exported graph, falling back to rebuilding it from
// the stored embeddings.
func (s *SQLiteStore) loadDense(ctx context.Context, dir string, vecs [][]float32) store.DenseIndex {
	dense, err := store.NewHNSWStore(store.DefaultDenseConfig(len(vecs[0])))
	if err != nil {
		return nil
	}
	err = dense.Load(filepath.Join(dir, denseFile))
	if err == nil && dense.Count() == len(vecs) {
		return dense
	}
	_ = dense.Close()
	slog.Warn("dense_index_rebuilt",
		slog.String("path", dir),
		slog.Any("load_error", err))

	rebuilt, err := newDense(ctx, vecs)
	if err != nil {
		return nil
	}
	return rebuilt
}

func (s *SQLiteStore) loadLexical(ctx context.Context, dir string, frags []document.Fragment) (store.LexicalIndex, error) {
	lex, err := store.OpenBleveLexicalIndex(filepath.Join(dir, lexicalDir))
	if err == nil && lex.Count() == len(frags) {
		return lex, nil
	}
	if lex != nil {
		_ = lex.Close()
	}
	slog.Warn("lexical_index_rebuilt",
		slog.String("path", dir),
		slog.Any("load_error", err))

	mem, err := store.NewBleveLexicalIndex("")
	if err != nil {
		return nil, err
	}
	if err := mem.Add(ctx, contents(frags)); err != nil {
		_ = mem.Close()
		return nil, err
	}
	return mem, nil
}

func readDB(ctx context.Context, path string, withVectors bool) (CategoryMeta, []document.Fragment, [][]float32, error) {
	var meta CategoryMeta
	if _, err := os.Stat(path); err != nil {
		return meta, nil, nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return meta, nil, nil, err
	}
	defer db.Close()

	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaKey).Scan(&raw); err != nil {
		return meta, nil, nil, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return meta, nil, nil, fmt.Errorf("decode metadata: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT content, entity_name, field_kind, heading, subheading, source
		FROM fragments ORDER BY pos`)
	if err != nil {
		return meta, nil, nil, fmt.Errorf("read fragments: %w", err)
	}
	defer rows.Close()

	var frags []document.Fragment
	for rows.Next() {
		var f document.Fragment
		var kind string
		if err := rows.Scan(&f.Content, &f.EntityName, &kind, &f.Heading, &f.Subheading, &f.Source); err != nil {
			return meta, nil, nil, err
		}
		f.FieldKind = document.FieldKind(kind)
		frags = append(frags, f)
	}
	if err := rows.Err(); err != nil {
		return meta, nil, nil, err
	}
	if !withVectors {
		return meta, frags, nil, nil
	}

	vrows, err := db.QueryContext(ctx, `SELECT vector FROM embeddings ORDER BY pos`)
	if err != nil {
		return meta, nil, nil, fmt.Errorf("read embeddings: %w", err)
	}
	defer vrows.Close()

	vecs := make([][]float32, 0, len(frags))
	for vrows.Next() {
		var blob []byte
		if err := vrows.Scan(&blob); err != nil {
			return meta, nil, nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return meta, nil, nil, err
		}
		vecs = append(vecs, vec)
	}
	if err := vrows.Err(); err != nil {
		return meta, nil, nil, err
	}
	if len(vecs) != len(frags) {
		return meta, nil, nil, fmt.Errorf("%d fragments but %d embeddings", len(frags), len(vecs))
	}
	return meta, frags, vecs, nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]PartitionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []PartitionInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	infos := []PartitionInfo{}
	for _, e := range entries {
		if !e.IsDir() || !s.Exists(e.Name()) {
			continue
		}
		dir := s.categoryDir(e.Name())
		meta, _, _, err := readDB(context.Background(), filepath.Join(dir, dbFile), false)
		if err != nil {
			slog.Warn("partition_unreadable", slog.String("path", dir), slog.String("error", err.Error()))
			continue
		}
		size, err := dirSize(dir)
		if err != nil {
			return nil, err
		}
		infos = append(infos, PartitionInfo{Meta: meta, Path: dir, SizeBytes: size})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Meta.Category < infos[j].Meta.Category })
	return infos, nil
}

// Dump implements Store. Long fragment bodies are cut at 500 characters.
func (s *SQLiteStore) Dump(ctx context.Context, category string, w io.Writer) error {
	meta, frags, _, err := readDB(ctx, filepath.Join(s.categoryDir(category), dbFile), false)
	if err != nil {
		return fmt.Errorf("read %s partition: %w", category, err)
	}

	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "=== %s card fragments ===\n", strings.ToUpper(category))
	fmt.Fprintf(w, "Total fragments: %d\n", len(frags))
	fmt.Fprintf(w, "Cards: %s\n", strings.Join(meta.Cards, ", "))
	fmt.Fprintf(w, "%s\n\n", rule)

	for i, f := range frags {
		body := f.Content
		if utf8.RuneCountInString(body) > dumpPreview {
			body = string([]rune(body)[:dumpPreview]) + "..."
		}
		fmt.Fprintf(w, "Fragment %d:\n", i+1)
		fmt.Fprintf(w, "Card: %s\n", f.EntityName)
		fmt.Fprintf(w, "Field: %s\n", f.FieldKind)
		fmt.Fprintf(w, "Title: %s - %s\n", f.Heading, f.Subheading)
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 30))
		fmt.Fprintf(w, "%s\n", body)
		if _, err := fmt.Fprintf(w, "\n%s\n\n", rule); err != nil {
			return err
		}
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not float32 aligned", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
