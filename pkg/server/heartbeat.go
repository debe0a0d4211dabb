package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

// heartbeatReporter periodically reports this server's identity, tags, and
// load to every configured coordinator. The coordinator registry is soft
// state; these reports are what keeps the server assignable.
type heartbeatReporter struct {
	server   *ShuffleServer
	conns    []*grpc.ClientConn
	clients  []*rpc.CoordinatorClient
	interval time.Duration
	tags     []string

	stopCh chan struct{}
	logger zerolog.Logger
}

func newHeartbeatReporter(s *ShuffleServer) (*heartbeatReporter, error) {
	r := &heartbeatReporter{
		server:   s,
		interval: s.cfg.HeartbeatInterval,
		tags:     append([]string{types.ServerVersionTag}, s.cfg.Tags...),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("heartbeat"),
	}
	for _, addr := range s.cfg.Coordinators {
		conn, err := rpc.Dial(addr)
		if err != nil {
			for _, c := range r.conns {
				c.Close()
			}
			return nil, err
		}
		r.conns = append(r.conns, conn)
		r.clients = append(r.clients, rpc.NewCoordinatorClient(conn))
	}
	return r, nil
}

// Start launches the report loop; the first beat goes out immediately so a
// fresh server becomes assignable without waiting a full interval.
func (r *heartbeatReporter) Start() {
	go func() {
		r.beat()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.beat()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the loop and closes coordinator connections
func (r *heartbeatReporter) Stop() {
	close(r.stopCh)
	for _, c := range r.conns {
		c.Close()
	}
}

func (r *heartbeatReporter) beat() {
	req := &rpc.ServerHeartbeatRequest{
		ServerID: r.server.info.ID,
		Host:     r.server.info.Host,
		Port:     r.server.info.Port,
		Tags:     r.tags,
		Load:     r.server.Load(),
	}
	for i, client := range r.clients {
		ctx, cancel := context.WithTimeout(context.Background(), r.interval)
		resp, err := client.ServerHeartbeat(ctx, req)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Str("coordinator", r.server.cfg.Coordinators[i]).Msg("Heartbeat failed")
			continue
		}
		if !resp.OK() {
			r.logger.Warn().Str("status", resp.Status.String()).Msg("Heartbeat rejected")
		}
	}
}
