package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aman-CERP/cardrag/internal/document"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// contents returns the fragment texts in order.
func contents(frags []document.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Content
	}
	return out
}

// buildIndexes builds an in-memory dense and lexical index over frags.
// vecs[i] is the embedding of frags[i].
func buildIndexes(ctx context.Context, frags []document.Fragment, vecs [][]float32) (store.DenseIndex, store.LexicalIndex, error) {
	if len(frags) != len(vecs) {
		return nil, nil, fmt.Errorf("%d fragments but %d embeddings", len(frags), len(vecs))
	}
	if len(vecs) == 0 {
		return nil, nil, fmt.Errorf("no fragments to index")
	}

	dense, err := newDense(ctx, vecs)
	if err != nil {
		return nil, nil, err
	}

	lexical, err := store.NewBleveLexicalIndex("")
	if err != nil {
		_ = dense.Close()
		return nil, nil, err
	}
	if err := lexical.Add(ctx, contents(frags)); err != nil {
		_ = dense.Close()
		_ = lexical.Close()
		return nil, nil, err
	}
	return dense, lexical, nil
}

func newDense(ctx context.Context, vecs [][]float32) (*store.HNSWStore, error) {
	dense, err := store.NewHNSWStore(store.DefaultDenseConfig(len(vecs[0])))
	if err != nil {
		return nil, err
	}
	if err := dense.Add(ctx, vecs); err != nil {
		_ = dense.Close()
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, carderrors.New(carderrors.ErrCodeDimensionMismatch, err.Error(), err)
		}
		return nil, err
	}
	return dense, nil
}

// asExternal tags provider failures as ExternalCall unless they already
// carry a code.
func asExternal(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := carderrors.As(err); ok {
		return err
	}
	return carderrors.ExternalCall(op, err)
}
