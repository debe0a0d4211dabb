package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

// Client is the engine-linked shuffle client. It talks to any configured
// coordinator for control-plane calls and keeps one connection per shuffle
// server for the data plane.
type Client struct {
	cfg *config.ClientConfig

	coordAddrs []string
	coordConns []*grpc.ClientConn
	coords     []*rpc.CoordinatorClient

	mu          sync.Mutex
	serverConns map[string]*grpc.ClientConn
	servers     map[string]*rpc.ShuffleServerClient

	logger zerolog.Logger
}

// New dials the configured coordinators and returns a ready client
func New(cfg *config.ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:         cfg,
		coordAddrs:  cfg.Coordinators,
		serverConns: make(map[string]*grpc.ClientConn),
		servers:     make(map[string]*rpc.ShuffleServerClient),
		logger:      log.WithComponent("client"),
	}
	for _, addr := range cfg.Coordinators {
		conn, err := rpc.Dial(addr)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.coordConns = append(c.coordConns, conn)
		c.coords = append(c.coords, rpc.NewCoordinatorClient(conn))
	}
	return c, nil
}

// Close releases every connection
func (c *Client) Close() error {
	for _, conn := range c.coordConns {
		conn.Close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.serverConns {
		conn.Close()
	}
	c.serverConns = make(map[string]*grpc.ClientConn)
	c.servers = make(map[string]*rpc.ShuffleServerClient)
	return nil
}

// serverClient returns a cached connection to the server, dialing on first
// use
func (c *Client) serverClient(info types.ShuffleServerInfo) (*rpc.ShuffleServerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.servers[info.ID]; ok {
		return client, nil
	}
	conn, err := rpc.Dial(info.Addr())
	if err != nil {
		return nil, err
	}
	client := rpc.NewShuffleServerClient(conn)
	c.serverConns[info.ID] = conn
	c.servers[info.ID] = client
	return client, nil
}

// eachCoordinator tries fn against the coordinators in order and returns
// the first success. Coordinator errors degrade to the next in the list.
func eachCoordinator[T any](c *Client, fn func(*rpc.CoordinatorClient) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, coord := range c.coords {
		out, err := fn(coord)
		if err == nil {
			return out, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("coordinator", c.coordAddrs[i]).Msg("Coordinator call failed")
	}
	return zero, fmt.Errorf("all coordinators failed: %w", lastErr)
}

// AccessCluster asks the coordinator's admission pipeline whether this
// application may use the cluster. A denial is terminal for the app; the
// message names the deciding checker.
func (c *Client) AccessCluster(ctx context.Context, accessID string, tags []string, timeoutMs int64) (types.StatusCode, string, error) {
	resp, err := eachCoordinator(c, func(coord *rpc.CoordinatorClient) (*rpc.AccessClusterResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		return coord.AccessCluster(ctx, &rpc.AccessClusterRequest{AccessID: accessID, Tags: tags, TimeoutMs: timeoutMs})
	})
	if err != nil {
		return types.StatusInternalError, "", err
	}
	return resp.Status, resp.Message, nil
}

// FetchClientConf retrieves the coordinator-curated knob map. Callers
// overlay it via config.ClientConfig.ApplyDynamic before validation.
func (c *Client) FetchClientConf(ctx context.Context) (map[string]string, error) {
	resp, err := eachCoordinator(c, func(coord *rpc.CoordinatorClient) (*rpc.FetchClientConfResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		return coord.FetchClientConf(ctx, &rpc.FetchClientConfRequest{TimeoutMs: c.cfg.RPCTimeout.Milliseconds()})
	})
	if err != nil {
		return nil, err
	}
	return resp.ClientConf, nil
}

// FetchRemoteStorage returns the remote storage root assigned to the app
func (c *Client) FetchRemoteStorage(ctx context.Context, appID string) (types.RemoteStorageInfo, error) {
	resp, err := eachCoordinator(c, func(coord *rpc.CoordinatorClient) (*rpc.FetchRemoteStorageResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		return coord.FetchRemoteStorage(ctx, &rpc.FetchRemoteStorageRequest{AppID: appID})
	})
	if err != nil {
		return types.RemoteStorageInfo{}, err
	}
	return resp.RemoteStorage, nil
}

// GetShuffleAssignments obtains the shuffle's placement from any
// coordinator. The server version tag is always required so assignments
// only land on compatible servers.
func (c *Client) GetShuffleAssignments(ctx context.Context, appID string, shuffleID, partitionNum, partitionNumPerRange int, requiredTags []string) (*types.ShuffleAssignment, error) {
	tags := append([]string{types.ServerVersionTag}, requiredTags...)
	resp, err := eachCoordinator(c, func(coord *rpc.CoordinatorClient) (*rpc.GetShuffleAssignmentsResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		defer cancel()
		resp, err := coord.GetShuffleAssignments(ctx, &rpc.GetShuffleAssignmentsRequest{
			AppID:                appID,
			ShuffleID:            shuffleID,
			PartitionNum:         partitionNum,
			PartitionNumPerRange: partitionNumPerRange,
			Replica:              c.cfg.Replica,
			RequiredTags:         tags,
		})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, fmt.Errorf("assignment rejected: %s (%s)", resp.Message, resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Assignment, nil
}

// RegisterShuffle registers the shuffle on every assigned server with the
// ranges that server owns. Registration must succeed everywhere before any
// data is sent.
func (c *Client) RegisterShuffle(ctx context.Context, appID string, shuffleID int, assignment *types.ShuffleAssignment, remote types.RemoteStorageInfo) error {
	for _, info := range assignment.AssignedServers() {
		ranges := assignment.ServerToRanges[info.ID]
		client, err := c.serverClient(info)
		if err != nil {
			return fmt.Errorf("failed to reach server %s: %w", info.ID, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		resp, err := client.RegisterShuffle(callCtx, &rpc.RegisterShuffleRequest{
			AppID:           appID,
			ShuffleID:       shuffleID,
			PartitionRanges: ranges,
			RemoteStorage:   remote,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to register shuffle on %s: %w", info.ID, err)
		}
		if !resp.OK() {
			return fmt.Errorf("server %s rejected registration: %s (%s)", info.ID, resp.Message, resp.Status)
		}
	}
	return nil
}
