package server

import (
	"testing"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/types"
)

func testShuffle() *shuffle {
	return newShuffle("app-1", 0, []types.PartitionRange{{Start: 0, End: 4}}, types.RemoteStorageInfo{})
}

// TestShuffleLifecycle tests the legal state walk
func TestShuffleLifecycle(t *testing.T) {
	sh := testShuffle()
	assert.Equal(t, StateRegistered, sh.currentState())

	require.NoError(t, sh.beginWrite())
	assert.Equal(t, StateWriting, sh.currentState())

	require.NoError(t, sh.beginCommit())
	assert.Equal(t, StateCommitting, sh.currentState())
	assert.Equal(t, 1, sh.finishCommit())
	assert.Equal(t, StateCommitted, sh.currentState())

	// Commits are cumulative across map tasks
	require.NoError(t, sh.beginCommit())
	assert.Equal(t, 2, sh.finishCommit())

	require.NoError(t, sh.finish())
	assert.Equal(t, StateReadable, sh.currentState())
	assert.True(t, sh.readable())

	// The shuffle is sealed: no more writes or commits
	assert.Error(t, sh.beginWrite())
	assert.Error(t, sh.beginCommit())
}

// TestShuffleTombstone tests that any state may tombstone and everything
// afterwards is rejected
func TestShuffleTombstone(t *testing.T) {
	states := []func(*shuffle){
		func(*shuffle) {},                     // REGISTERED
		func(sh *shuffle) { sh.beginWrite() }, // WRITING
		func(sh *shuffle) { sh.finish() },     // READABLE
	}
	for _, prepare := range states {
		sh := testShuffle()
		prepare(sh)
		sh.tombstone()
		assert.Equal(t, StateTombstoned, sh.currentState())
		assert.Error(t, sh.beginWrite())
		assert.Error(t, sh.beginCommit())
		assert.Error(t, sh.finish())
		assert.False(t, sh.readable())
	}
}

// TestShuffleRangeFor tests partition-to-range resolution
func TestShuffleRangeFor(t *testing.T) {
	sh := newShuffle("app-1", 0, []types.PartitionRange{{Start: 0, End: 2}, {Start: 6, End: 8}}, types.RemoteStorageInfo{})

	rng, ok := sh.rangeFor(1)
	assert.True(t, ok)
	assert.Equal(t, types.PartitionRange{Start: 0, End: 2}, rng)

	rng, ok = sh.rangeFor(7)
	assert.True(t, ok)
	assert.Equal(t, types.PartitionRange{Start: 6, End: 8}, rng)

	_, ok = sh.rangeFor(4)
	assert.False(t, ok)
}

// TestShuffleBitmaps tests idempotent block-id accumulation
func TestShuffleBitmaps(t *testing.T) {
	sh := testShuffle()

	sh.addBlockIDs(0, []int64{1, 2, 3})
	sh.addBlockIDs(0, []int64{2, 3, 4}) // duplicates collapse
	sh.addBlockIDs(1, []int64{100})

	data, err := sh.serializedBitmap(0)
	require.NoError(t, err)
	bm := roaring64.New()
	require.NoError(t, bm.UnmarshalBinary(data))
	assert.Equal(t, []uint64{1, 2, 3, 4}, bm.ToArray())

	data, err = sh.serializedBitmap(1)
	require.NoError(t, err)
	bm = roaring64.New()
	require.NoError(t, bm.UnmarshalBinary(data))
	assert.Equal(t, []uint64{100}, bm.ToArray())

	// An unreported partition yields an empty bitmap, not an error
	data, err = sh.serializedBitmap(9)
	require.NoError(t, err)
	bm = roaring64.New()
	require.NoError(t, bm.UnmarshalBinary(data))
	assert.True(t, bm.IsEmpty())
}
