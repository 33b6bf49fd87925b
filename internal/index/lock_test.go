package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

func TestFileLock_SecondHolderTimesOut(t *testing.T) {
	// Given: a held lock
	path := filepath.Join(t.TempDir(), "credit", lockFile)
	first := NewFileLock(path)
	require.NoError(t, first.Lock(context.Background()))
	defer first.Unlock()

	// When: another lock on the same file waits with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err := NewFileLock(path).Lock(ctx)

	// Then: it reports the index as locked
	assert.Equal(t, carderrors.ErrCodeIndexLocked, carderrors.GetCode(err))
	assert.True(t, carderrors.IsRetryable(err))
}

func TestFileLock_ReleaseAllowsNextHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), lockFile)
	first := NewFileLock(path)
	require.NoError(t, first.Lock(context.Background()))
	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	second := NewFileLock(path)
	require.NoError(t, second.Lock(context.Background()))
	assert.NoError(t, second.Unlock())
	assert.Equal(t, path, second.Path())
}
