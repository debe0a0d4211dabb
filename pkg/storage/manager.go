package storage

import (
	"fmt"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/types"
)

// MultiStorageManager routes every flush event to exactly one tier:
//
//   - events larger than the cold threshold go remote when the app has a
//     remote root
//   - everything else goes to local disk while usage stays under the high
//     watermark
//   - past the watermark, events fall back to the remote tier, or to local
//     disk as a last resort when no remote storage exists
//   - without a local tier, events go remote when the app has a remote root
//     and to memory otherwise
//
// Routing is deterministic: for a fixed config the target depends only on
// the event's size, its remote-storage binding and the local tier's current
// usage.
type MultiStorageManager struct {
	memory *MemoryStorage
	local  *LocalStorage
	cold   *HdfsStorage

	coldThreshold int64
}

// NewMultiStorageManager builds the tier set for the configured storage type
func NewMultiStorageManager(cfg *config.ServerConfig) (*MultiStorageManager, error) {
	m := &MultiStorageManager{
		coldThreshold: cfg.ColdStorageThresholdSize,
	}
	m.memory = NewMemoryStorage(0)
	if cfg.StorageType.HasLocal() {
		local, err := NewLocalStorage(cfg.BasePath, cfg.DiskCapacity, cfg.DiskHighWatermark)
		if err != nil {
			return nil, fmt.Errorf("failed to init local storage: %w", err)
		}
		m.local = local
	}
	if cfg.StorageType.HasRemote() {
		m.cold = NewHdfsStorage()
	}
	return m, nil
}

// Select picks the tier for the event
func (m *MultiStorageManager) Select(event *FlushEvent) Storage {
	hasRemote := m.cold != nil && !event.RemoteStorage.Empty()

	if hasRemote && event.Size > m.coldThreshold {
		return m.cold
	}
	if m.local != nil {
		if m.local.CanWrite(event) {
			return m.local
		}
		// Disk past the high watermark: prefer the remote tier, keep the
		// local tier as the last resort.
		if hasRemote {
			return m.cold
		}
		return m.local
	}
	if hasRemote {
		return m.cold
	}
	return m.memory
}

// Promote returns the tier to retry on after a failed local write, or nil
// when no promotion is possible
func (m *MultiStorageManager) Promote(event *FlushEvent, failed Storage) Storage {
	if m.local != nil && failed == m.local && m.cold != nil && !event.RemoteStorage.Empty() {
		return m.cold
	}
	return nil
}

// Tiers returns the active tiers, memory first
func (m *MultiStorageManager) Tiers() []Storage {
	tiers := []Storage{m.memory}
	if m.local != nil {
		tiers = append(tiers, m.local)
	}
	if m.cold != nil {
		tiers = append(tiers, m.cold)
	}
	return tiers
}

// RegisterApp propagates the app's remote-storage binding to every tier
func (m *MultiStorageManager) RegisterApp(appID string, remote types.RemoteStorageInfo) error {
	for _, t := range m.Tiers() {
		if err := t.RegisterApp(appID, remote); err != nil {
			return err
		}
	}
	return nil
}

// RemoveApp drops the app's data from every tier
func (m *MultiStorageManager) RemoveApp(appID string) error {
	var firstErr error
	for _, t := range m.Tiers() {
		if err := t.RemoveApp(appID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CreateReader walks the tiers (memory, local, remote) and opens the first
// one holding data for the partition range
func (m *MultiStorageManager) CreateReader(appID string, shuffleID int, rng types.PartitionRange) (Reader, error) {
	var lastErr error
	for _, t := range m.Tiers() {
		r, err := t.CreateReader(appID, shuffleID, rng)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no tier holds %s/%d/%s: %w", appID, shuffleID, rng.Key(), lastErr)
}

// LocalUsedBytes reports local-disk usage, 0 without a local tier
func (m *MultiStorageManager) LocalUsedBytes() int64 {
	if m.local == nil {
		return 0
	}
	return m.local.UsedBytes()
}
