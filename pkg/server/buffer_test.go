package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hddong/uniffle/pkg/types"
)

func poolBlock(id int64, size int) *types.ShuffleBlock {
	return &types.ShuffleBlock{
		BlockID:          id,
		Length:           int32(size),
		UncompressLength: int32(size),
		Payload:          make([]byte, size),
	}
}

// TestBufferPoolThreshold tests that crossing the flush threshold detaches
// the buffer's blocks
func TestBufferPoolThreshold(t *testing.T) {
	p := NewBufferPool(1000, 100)
	key := bufferKey{appID: "app-1", shuffleID: 0, rng: types.PartitionRange{Start: 0, End: 1}}

	toFlush := p.Append(key, []*types.ShuffleBlock{poolBlock(1, 40)})
	assert.Empty(t, toFlush)
	assert.Equal(t, int64(40), p.UsedBytes())

	toFlush = p.Append(key, []*types.ShuffleBlock{poolBlock(2, 70)})
	assert.Len(t, toFlush, 2)
	assert.Equal(t, int64(110), p.InFlushBytes())
	assert.Equal(t, int64(110), p.UsedBytes())

	// Completion releases the in-flush bytes
	p.Release(110)
	assert.Equal(t, int64(0), p.UsedBytes())
}

// TestBufferPoolAdmission tests NO_BUFFER back-pressure accounting
func TestBufferPoolAdmission(t *testing.T) {
	p := NewBufferPool(100, 1000)
	key := bufferKey{appID: "app-1", shuffleID: 0, rng: types.PartitionRange{Start: 0, End: 1}}

	assert.True(t, p.Require(100))
	assert.False(t, p.Require(101))

	p.Append(key, []*types.ShuffleBlock{poolBlock(1, 60)})
	assert.True(t, p.Require(40))
	assert.False(t, p.Require(41))
	assert.Equal(t, int64(40), p.AvailableBytes())
}

// TestBufferPoolDrainShuffle tests the commit-path drain of one shuffle
func TestBufferPoolDrainShuffle(t *testing.T) {
	p := NewBufferPool(1000, 1000)
	r0 := types.PartitionRange{Start: 0, End: 2}
	r1 := types.PartitionRange{Start: 2, End: 4}

	p.Append(bufferKey{appID: "app-1", shuffleID: 0, rng: r0}, []*types.ShuffleBlock{poolBlock(1, 10)})
	p.Append(bufferKey{appID: "app-1", shuffleID: 0, rng: r1}, []*types.ShuffleBlock{poolBlock(2, 20)})
	p.Append(bufferKey{appID: "app-1", shuffleID: 1, rng: r0}, []*types.ShuffleBlock{poolBlock(3, 30)})
	p.Append(bufferKey{appID: "app-2", shuffleID: 0, rng: r0}, []*types.ShuffleBlock{poolBlock(4, 40)})

	drained := p.DrainShuffle("app-1", 0)
	assert.Len(t, drained, 2)
	assert.Len(t, drained[r0], 1)
	assert.Len(t, drained[r1], 1)
	assert.Equal(t, int64(30), p.InFlushBytes())

	// Other shuffles and apps are untouched
	assert.Equal(t, int64(100), p.UsedBytes())
	assert.Empty(t, p.DrainShuffle("app-1", 0))
}

// TestBufferPoolRemoveApp tests app GC dropping only the app's buffers
func TestBufferPoolRemoveApp(t *testing.T) {
	p := NewBufferPool(1000, 1000)
	rng := types.PartitionRange{Start: 0, End: 1}

	p.Append(bufferKey{appID: "app-1", shuffleID: 0, rng: rng}, []*types.ShuffleBlock{poolBlock(1, 10)})
	p.Append(bufferKey{appID: "app-2", shuffleID: 0, rng: rng}, []*types.ShuffleBlock{poolBlock(2, 20)})

	p.RemoveApp("app-1")
	assert.Equal(t, int64(20), p.UsedBytes())
	assert.Equal(t, 1, p.PartitionCount())
}
