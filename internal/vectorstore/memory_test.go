package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex([]int64{1, 2, 3})

	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids.Sorted())

	// The listing is a snapshot.
	ids.Add(99)
	assert.Equal(t, []int64{1, 2, 3}, idx.IDs())

	removed, err := idx.RemoveIDs(ctx, []int64{2, 7})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []int64{1, 3}, idx.IDs())
	assert.Equal(t, [][]int64{{2, 7}}, idx.RemoveCalls())
}

func TestMemoryIndex_Options(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	idx := NewMemoryIndex([]int64{1}, WithListingUnsupported(), WithRemoveError(boom), WithBackupError(boom))

	_, err := idx.ListIDs(ctx)
	assert.ErrorIs(t, err, ErrListingUnsupported)

	_, err = idx.RemoveIDs(ctx, []int64{1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int64{1}, idx.IDs())

	_, err = idx.Backup(ctx, nil)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, "memory", idx.Location())
	assert.NoError(t, idx.Close())
}
