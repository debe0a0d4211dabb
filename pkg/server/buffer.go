package server

import (
	"sync"

	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/types"
)

// bufferKey identifies one partition-range buffer
type bufferKey struct {
	appID     string
	shuffleID int
	rng       types.PartitionRange
}

// BufferPool is the bounded in-memory staging area for incoming blocks.
// Bytes move through three phases: buffered here, in flight in the flush
// pipeline, then released once the event is durable. Admission counts both
// phases against the capacity, which is the NO_BUFFER back-pressure signal.
type BufferPool struct {
	mu             sync.Mutex
	capacity       int64
	buffered       int64
	inFlush        int64
	flushThreshold int64
	buffers        map[bufferKey]*partitionBuffer
}

type partitionBuffer struct {
	blocks []*types.ShuffleBlock
	size   int64
}

// NewBufferPool creates a pool admitting at most capacity bytes
func NewBufferPool(capacity, flushThreshold int64) *BufferPool {
	return &BufferPool{
		capacity:       capacity,
		flushThreshold: flushThreshold,
		buffers:        make(map[bufferKey]*partitionBuffer),
	}
}

// Require reserves nothing but answers whether size more bytes fit
func (p *BufferPool) Require(size int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered+p.inFlush+size <= p.capacity
}

// Append adds blocks to the partition's buffer. When the buffer crosses the
// flush threshold its blocks are detached and returned for flushing; their
// bytes stay accounted as in-flush until Release.
func (p *BufferPool) Append(key bufferKey, blocks []*types.ShuffleBlock) (toFlush []*types.ShuffleBlock) {
	var size int64
	for _, b := range blocks {
		size += int64(b.Length)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[key]
	if !ok {
		buf = &partitionBuffer{}
		p.buffers[key] = buf
	}
	buf.blocks = append(buf.blocks, blocks...)
	buf.size += size
	p.buffered += size
	metrics.UsedMemoryBytes.Set(float64(p.buffered + p.inFlush))

	if buf.size >= p.flushThreshold {
		toFlush = buf.blocks
		p.buffered -= buf.size
		p.inFlush += buf.size
		buf.blocks = nil
		buf.size = 0
	}
	return toFlush
}

// DrainShuffle detaches every buffered block of the shuffle, keyed by
// range. sendCommit uses it to push all remaining data into the pipeline.
func (p *BufferPool) DrainShuffle(appID string, shuffleID int) map[types.PartitionRange][]*types.ShuffleBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[types.PartitionRange][]*types.ShuffleBlock)
	for key, buf := range p.buffers {
		if key.appID != appID || key.shuffleID != shuffleID || len(buf.blocks) == 0 {
			continue
		}
		out[key.rng] = buf.blocks
		p.buffered -= buf.size
		p.inFlush += buf.size
		buf.blocks = nil
		buf.size = 0
	}
	metrics.UsedMemoryBytes.Set(float64(p.buffered + p.inFlush))
	return out
}

// Release returns in-flush bytes to the pool once their event completed
func (p *BufferPool) Release(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlush -= size
	if p.inFlush < 0 {
		p.inFlush = 0
	}
	metrics.UsedMemoryBytes.Set(float64(p.buffered + p.inFlush))
}

// RemoveApp drops every buffer the app owns
func (p *BufferPool) RemoveApp(appID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, buf := range p.buffers {
		if key.appID == appID {
			p.buffered -= buf.size
			delete(p.buffers, key)
		}
	}
	metrics.UsedMemoryBytes.Set(float64(p.buffered + p.inFlush))
}

// UsedBytes reports buffered plus in-flush bytes
func (p *BufferPool) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered + p.inFlush
}

// InFlushBytes reports bytes currently in the flush pipeline
func (p *BufferPool) InFlushBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlush
}

// AvailableBytes reports the remaining admission budget
func (p *BufferPool) AvailableBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - p.buffered - p.inFlush
}

// PartitionCount reports the number of live partition buffers
func (p *BufferPool) PartitionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
