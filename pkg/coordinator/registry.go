package coordinator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/types"
)

// ServerRegistry tracks live shuffle servers from their heartbeats. The
// coordinator is the sole owner of this state; it is soft state, rebuilt
// from scratch whenever the coordinator restarts.
type ServerRegistry struct {
	mu       sync.RWMutex
	servers  map[string]*types.ServerNode
	appRefs  map[string]map[string]struct{} // appID -> server ids it was assigned
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewServerRegistry creates a registry evicting servers not heard from
// within timeout
func NewServerRegistry(timeout time.Duration) *ServerRegistry {
	return &ServerRegistry{
		servers: make(map[string]*types.ServerNode),
		appRefs: make(map[string]map[string]struct{}),
		timeout: timeout,
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("registry"),
	}
}

// Heartbeat registers the server on first contact and refreshes its load
// report afterwards
func (r *ServerRegistry) Heartbeat(info types.ShuffleServerInfo, tags []string, load types.ShuffleServerLoad) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.servers[info.ID]
	if !ok {
		node = &types.ServerNode{Info: info}
		r.servers[info.ID] = node
		r.logger.Info().Str("server_id", info.ID).Str("addr", info.Addr()).Msg("Shuffle server registered")
	}
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	node.Info = info
	node.Tags = tagSet
	node.Load = load
	node.LastHeartbeat = time.Now()

	metrics.ServersTotal.Set(float64(len(r.servers)))
}

// List returns a snapshot of all live servers
func (r *ServerRegistry) List() []*types.ServerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ServerNode, 0, len(r.servers))
	for _, n := range r.servers {
		c := *n
		out = append(out, &c)
	}
	return out
}

// Count returns the number of live servers
func (r *ServerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// RecordAssignment bumps each server's app count the first time the app is
// assigned to it. The (appCount, usedMemory) pair is the load key the
// assignment algorithm sorts by.
func (r *ServerRegistry) RecordAssignment(appID string, serverIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.appRefs[appID]
	if !ok {
		refs = make(map[string]struct{})
		r.appRefs[appID] = refs
	}
	for _, id := range serverIDs {
		if _, seen := refs[id]; seen {
			continue
		}
		refs[id] = struct{}{}
		if node, ok := r.servers[id]; ok {
			node.AppCount++
		}
	}
}

// ReleaseApp drops the app's contribution to server app counts
func (r *ServerRegistry) ReleaseApp(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.appRefs[appID] {
		if node, ok := r.servers[id]; ok && node.AppCount > 0 {
			node.AppCount--
		}
	}
	delete(r.appRefs, appID)
}

// StartCleaner launches the eviction loop
func (r *ServerRegistry) StartCleaner(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evictStale()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the eviction loop
func (r *ServerRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *ServerRegistry) evictStale() {
	cutoff := time.Now().Add(-r.timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, node := range r.servers {
		if node.LastHeartbeat.Before(cutoff) {
			delete(r.servers, id)
			r.logger.Warn().Str("server_id", id).Msg("Shuffle server evicted after heartbeat timeout")
		}
	}
	metrics.ServersTotal.Set(float64(len(r.servers)))
}
