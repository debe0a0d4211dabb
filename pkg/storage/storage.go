package storage

import (
	"path"
	"strconv"

	"github.com/google/uuid"

	"github.com/hddong/uniffle/pkg/types"
)

// FlushEvent is an atomic unit of durability: every block of one partition
// range accumulated since the last flush, bound for exactly one tier.
type FlushEvent struct {
	EventID       string
	AppID         string
	ShuffleID     int
	Range         types.PartitionRange
	Size          int64
	Blocks        []*types.ShuffleBlock
	RemoteStorage types.RemoteStorageInfo

	retries int
}

// NewFlushEvent builds an event over the given blocks. Size is the sum of
// the block payload lengths.
func NewFlushEvent(appID string, shuffleID int, rng types.PartitionRange, remote types.RemoteStorageInfo, blocks []*types.ShuffleBlock) *FlushEvent {
	var size int64
	for _, b := range blocks {
		size += int64(b.Length)
	}
	return &FlushEvent{
		EventID:       uuid.New().String(),
		AppID:         appID,
		ShuffleID:     shuffleID,
		Range:         rng,
		Size:          size,
		Blocks:        blocks,
		RemoteStorage: remote,
	}
}

// Reader serves the read path of one partition range on one tier
type Reader interface {
	// Index returns the raw index records and the data file length
	Index() ([]byte, int64, error)
	// Data returns length bytes of the data stream starting at offset
	Data(offset, length int64) ([]byte, error)
	Close() error
}

// Storage is the fixed capability set of a tier. Backends are a closed set
// of variants (memory, localfile, hdfs) selected by MultiStorageManager;
// adding a tier means adding a variant here, not subclassing elsewhere.
type Storage interface {
	Name() string

	// CanWrite reports whether the tier has room for the event
	CanWrite(event *FlushEvent) bool
	// Write makes the event durable on this tier
	Write(event *FlushEvent) error
	// CreateReader opens the partition range for reading
	CreateReader(appID string, shuffleID int, rng types.PartitionRange) (Reader, error)

	// RegisterApp pins per-app state the tier needs (the remote root for
	// cold storage); RemoveApp drops everything the app ever wrote.
	RegisterApp(appID string, remote types.RemoteStorageInfo) error
	RemoveApp(appID string) error
}

// shuffleDir is the relative layout shared by every tier:
// <appId>/<shuffleId>/<start>-<end>
func shuffleDir(appID string, shuffleID int, rng types.PartitionRange) string {
	return path.Join(appID, strconv.Itoa(shuffleID), rng.Key())
}
