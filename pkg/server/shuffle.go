package server

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/hddong/uniffle/pkg/types"
)

// ShuffleState is the lifecycle of one (app, shuffle) on this server
type ShuffleState int

const (
	StateInit ShuffleState = iota
	StateRegistered
	StateWriting
	StateCommitting
	StateCommitted
	StateReadable
	StateTombstoned
)

// String returns the state name
func (s ShuffleState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRegistered:
		return "REGISTERED"
	case StateWriting:
		return "WRITING"
	case StateCommitting:
		return "COMMITTING"
	case StateCommitted:
		return "COMMITTED"
	case StateReadable:
		return "READABLE"
	case StateTombstoned:
		return "TOMBSTONED"
	default:
		return "UNKNOWN"
	}
}

// shuffle is the server-side record of one registered shuffle
type shuffle struct {
	mu sync.Mutex

	appID  string
	id     int
	ranges []types.PartitionRange
	remote types.RemoteStorageInfo

	state       ShuffleState
	commitCount int

	// Block-id bitmaps are append-only per partition; cross-server
	// reconciliation happens by union at read time.
	bitmaps map[int]*roaring64.Bitmap
}

func newShuffle(appID string, id int, ranges []types.PartitionRange, remote types.RemoteStorageInfo) *shuffle {
	return &shuffle{
		appID:   appID,
		id:      id,
		ranges:  ranges,
		remote:  remote,
		state:   StateRegistered,
		bitmaps: make(map[int]*roaring64.Bitmap),
	}
}

// rangeFor resolves the registered partition range holding the partition
func (s *shuffle) rangeFor(partition int) (types.PartitionRange, bool) {
	for _, r := range s.ranges {
		if r.Include(partition) {
			return r, true
		}
	}
	return types.PartitionRange{}, false
}

// beginWrite admits a data send. Writes are legal until the shuffle is
// finished.
func (s *shuffle) beginWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRegistered, StateWriting, StateCommitting, StateCommitted:
		s.state = StateWriting
		return nil
	default:
		return fmt.Errorf("shuffle is %s, writes are not accepted", s.state)
	}
}

// beginCommit moves the shuffle into COMMITTING
func (s *shuffle) beginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRegistered, StateWriting, StateCommitting, StateCommitted:
		s.state = StateCommitting
		return nil
	default:
		return fmt.Errorf("shuffle is %s, commit is not accepted", s.state)
	}
}

// finishCommit records a drained commit and returns the running count
func (s *shuffle) finishCommit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitting {
		s.state = StateCommitted
	}
	s.commitCount++
	return s.commitCount
}

// finish seals the shuffle for reading
func (s *shuffle) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRegistered, StateWriting, StateCommitting, StateCommitted, StateReadable:
		s.state = StateReadable
		return nil
	default:
		return fmt.Errorf("shuffle is %s, finish is not accepted", s.state)
	}
}

// readable reports whether reads are currently legal
func (s *shuffle) readable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReadable
}

// tombstone marks the shuffle dead; every later operation is a no-op error
func (s *shuffle) tombstone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTombstoned
}

// currentState returns the state for diagnostics
func (s *shuffle) currentState() ShuffleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// addBlockIDs unions the reported ids into the partition's bitmap.
// Duplicate reports collapse, making reportShuffleResult idempotent.
func (s *shuffle) addBlockIDs(partition int, blockIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.bitmaps[partition]
	if !ok {
		bm = roaring64.New()
		s.bitmaps[partition] = bm
	}
	for _, id := range blockIDs {
		bm.Add(uint64(id))
	}
}

// serializedBitmap returns the partition's bitmap in roaring wire format
func (s *shuffle) serializedBitmap(partition int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.bitmaps[partition]
	if !ok {
		bm = roaring64.New()
	}
	return bm.MarshalBinary()
}
