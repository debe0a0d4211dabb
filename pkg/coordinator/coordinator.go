package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

const cleanerInterval = 5 * time.Second

// Coordinator is the control-plane daemon: it owns the server registry and
// app lifecycle, places partition ranges, and gates cluster access.
type Coordinator struct {
	cfg      *config.CoordinatorConfig
	registry *ServerRegistry
	apps     *AppManager
	access   *AccessManager

	grpc       *grpc.Server
	metricsSrv *http.Server
	logger     zerolog.Logger
}

// New wires a coordinator from its validated config
func New(cfg *config.CoordinatorConfig) (*Coordinator, error) {
	registry := NewServerRegistry(cfg.ServerHeartbeatTimeout)
	apps := NewAppManager(cfg.RemoteStoragePaths, cfg.AppHeartbeatTimeout, registry.ReleaseApp)
	access, err := NewAccessManager(cfg, registry)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		apps:     apps,
		access:   access,
		logger:   log.WithComponent("coordinator"),
	}, nil
}

// Start serves RPCs until Stop; it blocks
func (c *Coordinator) Start() error {
	c.registry.StartCleaner(cleanerInterval)
	c.apps.StartCleaner(cleanerInterval)

	if c.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, "ok")
		})
		c.metricsSrv = &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := c.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	lis, err := net.Listen("tcp", c.cfg.RPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.RPCAddr, err)
	}
	c.grpc = rpc.NewServer()
	rpc.RegisterCoordinatorServer(c.grpc, c)

	c.logger.Info().Str("addr", c.cfg.RPCAddr).Msg("Coordinator listening")
	return c.grpc.Serve(lis)
}

// Stop shuts down the daemon gracefully
func (c *Coordinator) Stop() {
	if c.grpc != nil {
		c.grpc.GracefulStop()
	}
	if c.metricsSrv != nil {
		c.metricsSrv.Close()
	}
	c.registry.Stop()
	c.apps.Stop()
	c.access.Close()
}

// GetShuffleAssignments implements rpc.CoordinatorServer
func (c *Coordinator) GetShuffleAssignments(ctx context.Context, req *rpc.GetShuffleAssignmentsRequest) (*rpc.GetShuffleAssignmentsResponse, error) {
	assignment, err := Assign(c.registry.List(), AssignmentRequest{
		AppID:                req.AppID,
		ShuffleID:            req.ShuffleID,
		PartitionNum:         req.PartitionNum,
		PartitionNumPerRange: req.PartitionNumPerRange,
		Replica:              req.Replica,
		RequiredTags:         req.RequiredTags,
	})
	if err != nil {
		status := types.StatusInternalError
		if errors.Is(err, ErrInsufficientServers) {
			status = types.StatusInvalidRequest
		}
		c.logger.Warn().Err(err).Str("app_id", req.AppID).Int("shuffle_id", req.ShuffleID).Msg("Assignment failed")
		return &rpc.GetShuffleAssignmentsResponse{
			ResponseStatus: rpc.ResponseStatus{Status: status, Message: err.Error()},
		}, nil
	}

	serverIDs := make([]string, 0, len(assignment.Servers))
	for id := range assignment.Servers {
		serverIDs = append(serverIDs, id)
	}
	c.registry.RecordAssignment(req.AppID, serverIDs)
	c.apps.Heartbeat(req.AppID)
	metrics.AssignmentsTotal.Inc()

	c.logger.Info().
		Str("app_id", req.AppID).
		Int("shuffle_id", req.ShuffleID).
		Int("partitions", req.PartitionNum).
		Int("servers", len(serverIDs)).
		Msg("Served shuffle assignment")

	return &rpc.GetShuffleAssignmentsResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		Assignment:     assignment,
	}, nil
}

// AccessCluster implements rpc.CoordinatorServer
func (c *Coordinator) AccessCluster(ctx context.Context, req *rpc.AccessClusterRequest) (*rpc.AccessClusterResponse, error) {
	result := c.access.CheckAccess(AccessInfo{AccessID: req.AccessID, Tags: req.Tags})
	if !result.Granted() {
		c.logger.Info().Str("access_id", req.AccessID).Str("reason", result.Message).Msg("Access denied")
	}
	return &rpc.AccessClusterResponse{
		ResponseStatus: rpc.ResponseStatus{Status: result.Status, Message: result.Message},
	}, nil
}

// FetchClientConf implements rpc.CoordinatorServer
func (c *Coordinator) FetchClientConf(ctx context.Context, req *rpc.FetchClientConfRequest) (*rpc.FetchClientConfResponse, error) {
	return &rpc.FetchClientConfResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		ClientConf:     c.cfg.ClientConf,
	}, nil
}

// FetchRemoteStorage implements rpc.CoordinatorServer
func (c *Coordinator) FetchRemoteStorage(ctx context.Context, req *rpc.FetchRemoteStorageRequest) (*rpc.FetchRemoteStorageResponse, error) {
	return &rpc.FetchRemoteStorageResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		RemoteStorage:  c.apps.AssignRemoteStorage(req.AppID),
	}, nil
}

// ServerHeartbeat implements rpc.CoordinatorServer
func (c *Coordinator) ServerHeartbeat(ctx context.Context, req *rpc.ServerHeartbeatRequest) (*rpc.ServerHeartbeatResponse, error) {
	if req.ServerID == "" {
		return &rpc.ServerHeartbeatResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInvalidRequest, Message: "server id is required"},
		}, nil
	}
	c.registry.Heartbeat(types.ShuffleServerInfo{ID: req.ServerID, Host: req.Host, Port: req.Port}, req.Tags, req.Load)
	return &rpc.ServerHeartbeatResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}

// AppHeartbeat implements rpc.CoordinatorServer
func (c *Coordinator) AppHeartbeat(ctx context.Context, req *rpc.AppHeartbeatRequest) (*rpc.AppHeartbeatResponse, error) {
	c.apps.Heartbeat(req.AppID)
	return &rpc.AppHeartbeatResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}
