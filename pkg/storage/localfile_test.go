package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/types"
)

func testBlock(id int64, payload []byte) *types.ShuffleBlock {
	return &types.ShuffleBlock{
		BlockID:          id,
		Length:           int32(len(payload)),
		UncompressLength: int32(len(payload)),
		Crc:              int64(id * 31),
		TaskAttemptID:    id % 4,
		Payload:          payload,
	}
}

// TestLocalWriteRead tests a flush-then-read round trip on the local tier
func TestLocalWriteRead(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 1<<30, 0.95)
	require.NoError(t, err)

	rng := types.PartitionRange{Start: 0, End: 2}
	blocks := []*types.ShuffleBlock{
		testBlock(1, []byte("first block payload")),
		testBlock(2, []byte("second")),
	}
	event := NewFlushEvent("app-1", 0, rng, types.RemoteStorageInfo{}, blocks)
	require.NoError(t, s.Write(event))

	// A second event appends behind the first
	more := []*types.ShuffleBlock{testBlock(3, []byte("third block"))}
	require.NoError(t, s.Write(NewFlushEvent("app-1", 0, rng, types.RemoteStorageInfo{}, more)))

	reader, err := s.CreateReader("app-1", 0, rng)
	require.NoError(t, err)
	defer reader.Close()

	indexData, dataLen, err := reader.Index()
	require.NoError(t, err)

	records, err := ParseIndex(indexData)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var total int64
	for i, want := range append(blocks, more...) {
		rec := records[i]
		assert.Equal(t, want.BlockID, rec.BlockID)
		assert.Equal(t, want.Length, rec.Length)
		assert.Equal(t, want.Crc, rec.Crc)
		assert.Equal(t, want.TaskAttemptID, rec.TaskAttemptID)

		data, err := reader.Data(rec.Offset, int64(rec.Length))
		require.NoError(t, err)
		assert.Equal(t, want.Payload, data)
		total += int64(rec.Length)
	}
	assert.Equal(t, total, dataLen)
	assert.Equal(t, total, s.UsedBytes())
}

// TestLocalCanWrite tests the high-watermark admission
func TestLocalCanWrite(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 1000, 0.5)
	require.NoError(t, err)

	assert.True(t, s.CanWrite(eventOfSize(500, types.RemoteStorageInfo{})))
	assert.False(t, s.CanWrite(eventOfSize(501, types.RemoteStorageInfo{})))

	rng := types.PartitionRange{Start: 0, End: 1}
	payload := make([]byte, 400)
	require.NoError(t, s.Write(NewFlushEvent("app-1", 0, rng, types.RemoteStorageInfo{}, []*types.ShuffleBlock{testBlock(1, payload)})))

	assert.True(t, s.CanWrite(eventOfSize(100, types.RemoteStorageInfo{})))
	assert.False(t, s.CanWrite(eventOfSize(101, types.RemoteStorageInfo{})))
}

// TestLocalRemoveApp tests that GC removes exactly the app's data
func TestLocalRemoveApp(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 1<<30, 0.95)
	require.NoError(t, err)

	rng := types.PartitionRange{Start: 0, End: 1}
	require.NoError(t, s.Write(NewFlushEvent("app-1", 0, rng, types.RemoteStorageInfo{}, []*types.ShuffleBlock{testBlock(1, []byte("doomed"))})))
	require.NoError(t, s.Write(NewFlushEvent("app-2", 0, rng, types.RemoteStorageInfo{}, []*types.ShuffleBlock{testBlock(2, []byte("survivor"))})))

	require.NoError(t, s.RemoveApp("app-1"))

	_, err = s.CreateReader("app-1", 0, rng)
	assert.Error(t, err)

	reader, err := s.CreateReader("app-2", 0, rng)
	require.NoError(t, err)
	defer reader.Close()
	data, err := reader.Data(0, int64(len("survivor")))
	require.NoError(t, err)
	assert.Equal(t, []byte("survivor"), data)

	assert.Equal(t, int64(len("survivor")), s.UsedBytes())
}
