package client

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/storage"
	"github.com/hddong/uniffle/pkg/types"
)

func serializedBitmap(t *testing.T, ids ...uint64) []byte {
	t.Helper()
	data, err := roaring64.BitmapOf(ids...).MarshalBinary()
	require.NoError(t, err)
	return data
}

// TestGetShuffleResultUnion tests the read quorum: with per-server bitmaps
// {1,2}, {2,3}, {1,3} any two answers reconstruct the full set, so no
// stopping order can drop a block
func TestGetShuffleResultUnion(t *testing.T) {
	bitmaps := [][]uint64{{1, 2}, {2, 3}, {1, 3}}

	// Rotate the server order to cover every stopping order
	for rotation := 0; rotation < 3; rotation++ {
		var servers []types.ShuffleServerInfo
		for i := 0; i < 3; i++ {
			stub := newStubShuffleServer()
			stub.bitmaps[0] = serializedBitmap(t, bitmaps[(rotation+i)%3]...)
			servers = append(servers, startStub(t, stub))
		}

		c := newTestClient(t, nil)
		bm, err := c.GetShuffleResult(context.Background(), "app-1", 0, 0, servers)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, bm.ToArray(), "rotation %d", rotation)
	}
}

// TestGetShuffleResultSkipsFailures tests that failed servers do not count
// toward the read quorum
func TestGetShuffleResultSkipsFailures(t *testing.T) {
	good1 := newStubShuffleServer()
	good1.bitmaps[0] = serializedBitmap(t, 1, 2)
	bad := newStubShuffleServer()
	bad.failResult = true
	good2 := newStubShuffleServer()
	good2.bitmaps[0] = serializedBitmap(t, 3)

	servers := []types.ShuffleServerInfo{startStub(t, good1), startStub(t, bad), startStub(t, good2)}

	c := newTestClient(t, nil)
	bm, err := c.GetShuffleResult(context.Background(), "app-1", 0, 0, servers)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, bm.ToArray())
}

// TestGetShuffleResultLosesQuorum tests the fatal error below replicaRead
func TestGetShuffleResultLosesQuorum(t *testing.T) {
	good := newStubShuffleServer()
	good.bitmaps[0] = serializedBitmap(t, 1)
	bad1 := newStubShuffleServer()
	bad1.failResult = true
	bad2 := newStubShuffleServer()
	bad2.failResult = true

	servers := []types.ShuffleServerInfo{startStub(t, good), startStub(t, bad1), startStub(t, bad2)}

	c := newTestClient(t, nil)
	_, err := c.GetShuffleResult(context.Background(), "app-1", 0, 0, servers)
	assert.ErrorContains(t, err, "read quorum")
}

// TestShuffleReaderRoundTrip tests index-driven block retrieval with crc
// verification and decompression
func TestShuffleReaderRoundTrip(t *testing.T) {
	payloads := map[int64][]byte{
		1: []byte("the first record batch"),
		2: []byte("the second record batch, a little longer"),
		3: []byte("third"),
	}

	stub := newStubShuffleServer()
	var index []byte
	var data []byte
	for id := int64(1); id <= 3; id++ {
		b := CreateShuffleBlock(payloads[id], id, 0, 0)
		b.BlockID = id
		index = storage.IndexRecord{
			Offset:           int64(len(data)),
			Length:           b.Length,
			UncompressLength: b.UncompressLength,
			Crc:              b.Crc,
			BlockID:          b.BlockID,
			TaskAttemptID:    b.TaskAttemptID,
		}.AppendTo(index)
		data = append(data, b.Payload...)
	}
	stub.indexData = index
	stub.dataFile = data

	servers := []types.ShuffleServerInfo{startStub(t, stub)}
	c := newTestClient(t, func(cfg *config.ClientConfig) {
		cfg.ReplicaRead = 1
	})

	reader := c.NewShuffleReader("app-1", 0, 0, servers, roaring64.BitmapOf(1, 2, 3))
	got, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for id, want := range payloads {
		assert.Equal(t, want, got[id], "block %d", id)
	}
}

// TestShuffleReaderFallsBack tests replica failover: a server missing the
// data is skipped and the next replica serves it
func TestShuffleReaderFallsBack(t *testing.T) {
	b := CreateShuffleBlock([]byte("only block"), 1, 0, 0)
	b.BlockID = 1

	empty := newStubShuffleServer() // no index, no data

	full := newStubShuffleServer()
	full.indexData = storage.IndexRecord{
		Offset:           0,
		Length:           b.Length,
		UncompressLength: b.UncompressLength,
		Crc:              b.Crc,
		BlockID:          b.BlockID,
		TaskAttemptID:    b.TaskAttemptID,
	}.AppendTo(nil)
	full.dataFile = b.Payload

	servers := []types.ShuffleServerInfo{startStub(t, empty), startStub(t, full)}
	c := newTestClient(t, nil)

	reader := c.NewShuffleReader("app-1", 0, 0, servers, roaring64.BitmapOf(1))
	got, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("only block"), got[1])
}

// TestShuffleReaderMissingBlocks tests the error when no replica holds an
// expected block
func TestShuffleReaderMissingBlocks(t *testing.T) {
	stub := newStubShuffleServer()
	servers := []types.ShuffleServerInfo{startStub(t, stub)}
	c := newTestClient(t, nil)

	reader := c.NewShuffleReader("app-1", 0, 0, servers, roaring64.BitmapOf(42))
	_, err := reader.ReadAll(context.Background())
	assert.ErrorContains(t, err, "missing")
}
