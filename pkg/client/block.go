package client

import (
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/hddong/uniffle/pkg/types"
)

// CreateShuffleBlock compresses the record bytes, checksums the compressed
// payload, and composes the block id from the caller's counters. Every
// block is immutable once built.
func CreateShuffleBlock(data []byte, sequenceNo, partitionID, taskAttemptID int64) *types.ShuffleBlock {
	payload := snappy.Encode(nil, data)
	return &types.ShuffleBlock{
		BlockID:          types.NewBlockID(sequenceNo, partitionID, taskAttemptID),
		Length:           int32(len(payload)),
		UncompressLength: int32(len(data)),
		Crc:              int64(crc32.ChecksumIEEE(payload)),
		TaskAttemptID:    taskAttemptID,
		Payload:          payload,
	}
}

// DecodeBlock verifies the payload checksum and decompresses it back to
// the original record bytes
func DecodeBlock(payload []byte, expectCrc int64, uncompressLength int32) ([]byte, error) {
	if crc := int64(crc32.ChecksumIEEE(payload)); crc != expectCrc {
		return nil, fmt.Errorf("block checksum mismatch: got %d, want %d", crc, expectCrc)
	}
	data, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block: %w", err)
	}
	if int32(len(data)) != uncompressLength {
		return nil, fmt.Errorf("block length mismatch: got %d, want %d", len(data), uncompressLength)
	}
	return data, nil
}
