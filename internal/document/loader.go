package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// LoadResult is the outcome of a batch load.
type LoadResult struct {
	Fragments []Fragment
	// Files is the number of record files that parsed.
	Files int
	// Skipped holds one ParseError per malformed file.
	Skipped []error
}

// Entities returns the distinct entity names in load order.
func (r *LoadResult) Entities() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range r.Fragments {
		if !seen[f.EntityName] {
			seen[f.EntityName] = true
			names = append(names, f.EntityName)
		}
	}
	return names
}

// LoadFile reads one record file and returns its fragments. Any read or
// decode failure is a ParseError.
func LoadFile(path string) ([]Fragment, error) {
	rec, err := readRecord(path)
	if err != nil {
		return nil, err
	}
	return rec.Fragments(path), nil
}

// LoadDir loads every record under dir. Malformed files are logged and
// collected in Skipped; only a missing or unreadable dir fails the batch.
func LoadDir(ctx context.Context, dir string) (*LoadResult, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frags, err := LoadFile(path)
		if err != nil {
			slog.Warn("record_skipped",
				slog.String("path", path),
				slog.String("error", err.Error()))
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Files++
		res.Fragments = append(res.Fragments, frags...)
	}

	slog.Debug("records_loaded",
		slog.String("dir", dir),
		slog.Int("files", res.Files),
		slog.Int("fragments", len(res.Fragments)),
		slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

// ListFiles returns every *.json file under dir in lexical walk order.
func ListFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ReadEntityName returns only the card_name of a record file.
func ReadEntityName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", carderrors.Parse(path, err)
	}
	var head struct {
		EntityName string `json:"card_name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", carderrors.Parse(path, err)
	}
	return strings.TrimSpace(head.EntityName), nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, carderrors.Parse(path, err)
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, carderrors.Parse(path, err)
	}
	if rec.EntityName == "" {
		rec.EntityName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return rec, nil
}
