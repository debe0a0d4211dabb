package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/types"
)

// TestBlockRoundTrip tests compress/checksum/decompress symmetry
func TestBlockRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("x"),
		[]byte("a longer record batch with some repetition repetition repetition"),
		make([]byte, 1<<16),
	}

	for i, data := range payloads {
		b := CreateShuffleBlock(data, int64(i), 3, 5)
		assert.Equal(t, int32(len(data)), b.UncompressLength)
		assert.Equal(t, int64(3), types.BlockIDPartition(b.BlockID))
		assert.Equal(t, int64(5), types.BlockIDTaskAttempt(b.BlockID))
		assert.Equal(t, int64(i), types.BlockIDSequence(b.BlockID))

		got, err := DecodeBlock(b.Payload, b.Crc, b.UncompressLength)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

// TestDecodeBlockRejectsCorruption tests checksum and length validation
func TestDecodeBlockRejectsCorruption(t *testing.T) {
	b := CreateShuffleBlock([]byte("intact payload"), 0, 0, 0)

	_, err := DecodeBlock(b.Payload, b.Crc+1, b.UncompressLength)
	assert.ErrorContains(t, err, "checksum")

	corrupted := append([]byte(nil), b.Payload...)
	corrupted[0] ^= 0xff
	_, err = DecodeBlock(corrupted, b.Crc, b.UncompressLength)
	assert.Error(t, err)

	_, err = DecodeBlock(b.Payload, b.Crc, b.UncompressLength+1)
	assert.ErrorContains(t, err, "length mismatch")
}
