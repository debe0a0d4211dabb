package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIndexRecordRoundTrip tests bytewise identity through serialize/parse
func TestIndexRecordRoundTrip(t *testing.T) {
	records := []IndexRecord{
		{Offset: 0, Length: 100, UncompressLength: 150, Crc: 12345, BlockID: 1, TaskAttemptID: 7},
		{Offset: 100, Length: 2048, UncompressLength: 4096, Crc: -99, BlockID: 1 << 40, TaskAttemptID: 0},
		{Offset: 1 << 33, Length: 1, UncompressLength: 1, Crc: 0, BlockID: -1, TaskAttemptID: 1 << 20},
	}

	var buf []byte
	for _, r := range records {
		buf = r.AppendTo(buf)
	}
	require.Len(t, buf, len(records)*IndexRecordSize)

	parsed, err := ParseIndex(buf)
	require.NoError(t, err)
	assert.Equal(t, records, parsed)

	// Re-serializing the parsed records reproduces the exact bytes
	var buf2 []byte
	for _, r := range parsed {
		buf2 = r.AppendTo(buf2)
	}
	assert.Equal(t, buf, buf2)
}

func TestParseIndexRejectsTruncated(t *testing.T) {
	_, err := ParseIndex(make([]byte, IndexRecordSize+1))
	assert.Error(t, err)

	_, err = ParseIndexRecord(make([]byte, IndexRecordSize-1))
	assert.Error(t, err)
}
