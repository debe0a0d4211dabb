package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

// Heartbeater keeps an application alive on every coordinator and every
// shuffle server it ever registered with. A missed heartbeat is the
// canonical lifecycle signal: once the gap exceeds the server-side TTL, all
// remote state of the app is garbage-collected.
type Heartbeater struct {
	client *Client
	appID  string

	mu      sync.Mutex
	servers map[string]types.ShuffleServerInfo

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHeartbeater creates a heartbeater for the app. Servers are added as
// shuffles get registered.
func (c *Client) NewHeartbeater(appID string) *Heartbeater {
	return &Heartbeater{
		client:  c,
		appID:   appID,
		servers: make(map[string]types.ShuffleServerInfo),
		stopCh:  make(chan struct{}),
	}
}

// AddServers extends the heartbeat fan-out with newly assigned servers
func (h *Heartbeater) AddServers(servers []types.ShuffleServerInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range servers {
		h.servers[s.ID] = s
	}
}

// Start launches the heartbeat loop
func (h *Heartbeater) Start() {
	go func() {
		ticker := time.NewTicker(h.client.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.BeatOnce()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the loop
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// BeatOnce fans one heartbeat out to every coordinator and server in
// parallel under a single wall-clock deadline; calls still in flight when
// the deadline passes are cancelled.
func (h *Heartbeater) BeatOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), h.client.cfg.HeartbeatTimeout)
	defer cancel()

	h.mu.Lock()
	servers := make([]types.ShuffleServerInfo, 0, len(h.servers))
	for _, s := range h.servers {
		servers = append(servers, s)
	}
	h.mu.Unlock()

	req := &rpc.AppHeartbeatRequest{
		AppID:     h.appID,
		TimeoutMs: h.client.cfg.HeartbeatTimeout.Milliseconds(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.client.cfg.DataTransferPoolSize)
	for _, coord := range h.client.coords {
		coord := coord
		g.Go(func() error {
			coord.AppHeartbeat(ctx, req) //nolint:errcheck // best effort, TTL tolerates misses
			return nil
		})
	}
	for _, info := range servers {
		info := info
		g.Go(func() error {
			client, err := h.client.serverClient(info)
			if err != nil {
				return nil
			}
			client.AppHeartbeat(ctx, req) //nolint:errcheck // best effort, TTL tolerates misses
			return nil
		})
	}
	g.Wait()
}
