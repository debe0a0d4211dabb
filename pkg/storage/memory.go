package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hddong/uniffle/pkg/types"
)

// MemoryStorage keeps flushed partitions on the heap. It backs the MEMORY
// deployment type and the in-memory leg of the mixed types.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
	used       int64
	capacity   int64
}

type memoryPartition struct {
	mu    sync.RWMutex
	data  []byte
	index []byte
}

// NewMemoryStorage creates a memory tier bounded by capacity bytes (0 means
// unbounded)
func NewMemoryStorage(capacity int64) *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]*memoryPartition),
		capacity:   capacity,
	}
}

func (m *MemoryStorage) Name() string { return "MEMORY" }

// CanWrite reports whether the event fits in the remaining capacity
func (m *MemoryStorage) CanWrite(event *FlushEvent) bool {
	if m.capacity <= 0 {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used+event.Size <= m.capacity
}

// Write appends the event's blocks to the partition's in-memory data and
// index buffers
func (m *MemoryStorage) Write(event *FlushEvent) error {
	key := shuffleDir(event.AppID, event.ShuffleID, event.Range)

	m.mu.Lock()
	p, ok := m.partitions[key]
	if !ok {
		p = &memoryPartition{}
		m.partitions[key] = p
	}
	m.used += event.Size
	m.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	offset := int64(len(p.data))
	for _, b := range event.Blocks {
		p.data = append(p.data, b.Payload...)
		p.index = IndexRecord{
			Offset:           offset,
			Length:           b.Length,
			UncompressLength: b.UncompressLength,
			Crc:              b.Crc,
			BlockID:          b.BlockID,
			TaskAttemptID:    b.TaskAttemptID,
		}.AppendTo(p.index)
		offset += int64(b.Length)
	}
	return nil
}

// CreateReader opens the partition range for reading
func (m *MemoryStorage) CreateReader(appID string, shuffleID int, rng types.PartitionRange) (Reader, error) {
	key := shuffleDir(appID, shuffleID, rng)
	m.mu.RLock()
	p, ok := m.partitions[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no in-memory data for %s", key)
	}
	return &memoryReader{p: p}, nil
}

// RegisterApp is a no-op for the memory tier
func (m *MemoryStorage) RegisterApp(string, types.RemoteStorageInfo) error { return nil }

// RemoveApp drops every partition the app wrote
func (m *MemoryStorage) RemoveApp(appID string) error {
	prefix := appID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.partitions {
		if strings.HasPrefix(key, prefix) {
			m.used -= int64(len(p.data))
			delete(m.partitions, key)
		}
	}
	return nil
}

type memoryReader struct {
	p *memoryPartition
}

func (r *memoryReader) Index() ([]byte, int64, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	index := make([]byte, len(r.p.index))
	copy(index, r.p.index)
	return index, int64(len(r.p.data)), nil
}

func (r *memoryReader) Data(offset, length int64) ([]byte, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	if offset < 0 || offset > int64(len(r.p.data)) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	end := offset + length
	if end > int64(len(r.p.data)) {
		end = int64(len(r.p.data))
	}
	out := make([]byte, end-offset)
	copy(out, r.p.data[offset:end])
	return out, nil
}

func (r *memoryReader) Close() error { return nil }
