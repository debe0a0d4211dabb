package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/types"
)

func newTestManager(t *testing.T, storageType config.StorageType) *MultiStorageManager {
	t.Helper()
	cfg := &config.ServerConfig{
		RPCAddr:                  "127.0.0.1:19997",
		StorageType:              storageType,
		BasePath:                 t.TempDir(),
		ColdStorageThresholdSize: 2000,
		DiskCapacity:             1 << 30,
		DiskHighWatermark:        0.95,
	}
	require.NoError(t, cfg.Validate())
	m, err := NewMultiStorageManager(cfg)
	require.NoError(t, err)
	return m
}

func eventOfSize(size int64, remote types.RemoteStorageInfo) *FlushEvent {
	return &FlushEvent{
		AppID:         "app-1",
		ShuffleID:     0,
		Range:         types.PartitionRange{Start: 0, End: 1},
		Size:          size,
		RemoteStorage: remote,
	}
}

// TestSelectRouting tests the tier routing table: small events stay local,
// oversized events go cold when a remote root exists
func TestSelectRouting(t *testing.T) {
	remote := types.RemoteStorageInfo{Path: "hdfs://nn1:8020/rss"}

	tests := []struct {
		name        string
		storageType config.StorageType
		size        int64
		remote      types.RemoteStorageInfo
		expected    string
	}{
		{name: "small event routes local", storageType: config.StorageMemoryLocalFileHDFS, size: 1000, remote: remote, expected: "LOCALFILE"},
		{name: "large event routes cold", storageType: config.StorageMemoryLocalFileHDFS, size: 1000000, remote: remote, expected: "HDFS"},
		{name: "threshold boundary stays local", storageType: config.StorageMemoryLocalFileHDFS, size: 2000, remote: remote, expected: "LOCALFILE"},
		{name: "no remote root keeps large events local", storageType: config.StorageMemoryLocalFileHDFS, size: 1000000, remote: types.RemoteStorageInfo{}, expected: "LOCALFILE"},
		{name: "local-only type keeps large events local", storageType: config.StorageMemoryLocalFile, size: 1000000, remote: remote, expected: "LOCALFILE"},
		{name: "memory-only type routes to memory", storageType: config.StorageMemory, size: 1000, remote: types.RemoteStorageInfo{}, expected: "MEMORY"},
		{name: "memory-hdfs small routes cold", storageType: config.StorageMemoryHDFS, size: 1000, remote: remote, expected: "HDFS"},
		{name: "memory-hdfs large routes cold", storageType: config.StorageMemoryHDFS, size: 1000000, remote: remote, expected: "HDFS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.storageType)
			tier := m.Select(eventOfSize(tt.size, tt.remote))
			assert.Equal(t, tt.expected, tier.Name())
		})
	}
}

// TestSelectMonotoneInSize tests that routing never flips backwards as
// event size grows under a fixed config
func TestSelectMonotoneInSize(t *testing.T) {
	m := newTestManager(t, config.StorageMemoryLocalFileHDFS)
	remote := types.RemoteStorageInfo{Path: "hdfs://nn1:8020/rss"}

	sawCold := false
	for size := int64(1); size <= 1<<20; size *= 2 {
		tier := m.Select(eventOfSize(size, remote))
		if tier.Name() == "HDFS" {
			sawCold = true
		} else if sawCold {
			t.Fatalf("routing flipped back to %s at size %d", tier.Name(), size)
		}
	}
	assert.True(t, sawCold)
}

// TestSelectUnderDiskPressure tests the fallback once the local tier is
// past its high watermark
func TestSelectUnderDiskPressure(t *testing.T) {
	cfg := &config.ServerConfig{
		RPCAddr:                  "127.0.0.1:19997",
		StorageType:              config.StorageMemoryLocalFileHDFS,
		BasePath:                 t.TempDir(),
		ColdStorageThresholdSize: 1 << 20,
		DiskCapacity:             1000,
		DiskHighWatermark:        0.5,
	}
	require.NoError(t, cfg.Validate())
	m, err := NewMultiStorageManager(cfg)
	require.NoError(t, err)

	remote := types.RemoteStorageInfo{Path: "hdfs://nn1:8020/rss"}

	// Under the watermark the small event stays local
	assert.Equal(t, "LOCALFILE", m.Select(eventOfSize(400, remote)).Name())

	// An event that would cross capacity*watermark spills to the cold tier
	assert.Equal(t, "HDFS", m.Select(eventOfSize(600, remote)).Name())

	// Without remote storage the local tier remains the last resort
	assert.Equal(t, "LOCALFILE", m.Select(eventOfSize(600, types.RemoteStorageInfo{})).Name())
}
