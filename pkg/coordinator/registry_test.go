package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hddong/uniffle/pkg/types"
)

// TestRegistryHeartbeatAndEviction tests registration, refresh, and stale
// eviction
func TestRegistryHeartbeatAndEviction(t *testing.T) {
	r := NewServerRegistry(50 * time.Millisecond)
	defer r.Stop()

	info := types.ShuffleServerInfo{ID: "s1", Host: "127.0.0.1", Port: 19997}
	r.Heartbeat(info, []string{types.ServerVersionTag}, types.ShuffleServerLoad{UsedMemory: 10})
	assert.Equal(t, 1, r.Count())

	nodes := r.List()
	assert.Len(t, nodes, 1)
	assert.Equal(t, "s1", nodes[0].Info.ID)
	assert.Equal(t, int64(10), nodes[0].Load.UsedMemory)

	// A refresh updates the load report in place
	r.Heartbeat(info, []string{types.ServerVersionTag}, types.ShuffleServerLoad{UsedMemory: 99})
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, int64(99), r.List()[0].Load.UsedMemory)

	// Past the timeout the cleaner drops the server
	time.Sleep(80 * time.Millisecond)
	r.evictStale()
	assert.Equal(t, 0, r.Count())
}

// TestRegistryAppCounts tests the assignment reference counting behind the
// load key
func TestRegistryAppCounts(t *testing.T) {
	r := NewServerRegistry(time.Minute)
	defer r.Stop()

	for _, id := range []string{"s1", "s2"} {
		r.Heartbeat(types.ShuffleServerInfo{ID: id}, nil, types.ShuffleServerLoad{})
	}

	r.RecordAssignment("app-1", []string{"s1", "s2"})
	r.RecordAssignment("app-1", []string{"s1"}) // second shuffle, same app: no double count
	r.RecordAssignment("app-2", []string{"s1"})

	counts := map[string]int{}
	for _, n := range r.List() {
		counts[n.Info.ID] = n.AppCount
	}
	assert.Equal(t, 2, counts["s1"])
	assert.Equal(t, 1, counts["s2"])

	r.ReleaseApp("app-1")
	counts = map[string]int{}
	for _, n := range r.List() {
		counts[n.Info.ID] = n.AppCount
	}
	assert.Equal(t, 1, counts["s1"])
	assert.Equal(t, 0, counts["s2"])
}

// TestAppManagerLifecycle tests TTL-driven app expiry and the expiry hook
func TestAppManagerLifecycle(t *testing.T) {
	var expired []string
	m := NewAppManager(nil, 50*time.Millisecond, func(appID string) {
		expired = append(expired, appID)
	})
	defer m.Stop()

	m.Heartbeat("app-1")
	m.Heartbeat("app-2")
	assert.Equal(t, 2, m.Count())

	time.Sleep(30 * time.Millisecond)
	m.Heartbeat("app-2") // keep app-2 alive
	time.Sleep(30 * time.Millisecond)

	m.expire()
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, []string{"app-1"}, expired)
}

// TestAssignRemoteStorage tests sticky per-app selection with load
// spreading across the configured roots
func TestAssignRemoteStorage(t *testing.T) {
	paths := []string{"hdfs://nn1:8020/rss", "hdfs://nn2:8020/rss"}
	m := NewAppManager(paths, time.Minute, nil)
	defer m.Stop()

	first := m.AssignRemoteStorage("app-1")
	assert.NotEmpty(t, first.Path)

	// Sticky: the same app always gets the same root
	assert.Equal(t, first, m.AssignRemoteStorage("app-1"))

	// The next app lands on the other root
	second := m.AssignRemoteStorage("app-2")
	assert.NotEqual(t, first.Path, second.Path)

	// With no roots configured the result is empty
	empty := NewAppManager(nil, time.Minute, nil)
	defer empty.Stop()
	assert.True(t, empty.AssignRemoteStorage("app-3").Empty())
}
