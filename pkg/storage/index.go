package storage

import (
	"encoding/binary"
	"fmt"
)

// IndexRecordSize is the fixed width of one index entry. Bulk readers
// stride the index file in these increments without parsing delimiters.
const IndexRecordSize = 40

// IndexRecord locates one block inside a partition's data file
type IndexRecord struct {
	Offset           int64
	Length           int32
	UncompressLength int32
	Crc              int64
	BlockID          int64
	TaskAttemptID    int64
}

// AppendTo serializes the record onto buf in the fixed wire layout
func (r IndexRecord) AppendTo(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Offset))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Length))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.UncompressLength))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Crc))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.BlockID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.TaskAttemptID))
	return buf
}

// ParseIndexRecord decodes one fixed-width record
func ParseIndexRecord(b []byte) (IndexRecord, error) {
	if len(b) < IndexRecordSize {
		return IndexRecord{}, fmt.Errorf("index record truncated: %d bytes", len(b))
	}
	return IndexRecord{
		Offset:           int64(binary.BigEndian.Uint64(b[0:8])),
		Length:           int32(binary.BigEndian.Uint32(b[8:12])),
		UncompressLength: int32(binary.BigEndian.Uint32(b[12:16])),
		Crc:              int64(binary.BigEndian.Uint64(b[16:24])),
		BlockID:          int64(binary.BigEndian.Uint64(b[24:32])),
		TaskAttemptID:    int64(binary.BigEndian.Uint64(b[32:40])),
	}, nil
}

// ParseIndex decodes a whole index file
func ParseIndex(b []byte) ([]IndexRecord, error) {
	if len(b)%IndexRecordSize != 0 {
		return nil, fmt.Errorf("index length %d is not a multiple of %d", len(b), IndexRecordSize)
	}
	records := make([]IndexRecord, 0, len(b)/IndexRecordSize)
	for off := 0; off < len(b); off += IndexRecordSize {
		rec, err := ParseIndexRecord(b[off : off+IndexRecordSize])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
