package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/hddong/uniffle/pkg/config"
	"github.com/hddong/uniffle/pkg/log"
	"github.com/hddong/uniffle/pkg/metrics"
	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/storage"
	"github.com/hddong/uniffle/pkg/types"
)

const gcInterval = 10 * time.Second

// ShuffleServer is the data-plane daemon: it buffers incoming blocks,
// flushes them through the tiered storage pipeline, and serves the reduce
// side.
type ShuffleServer struct {
	cfg     *config.ServerConfig
	info    types.ShuffleServerInfo
	pool    *BufferPool
	tiers   *storage.MultiStorageManager
	flush   *storage.FlushManager
	meta    *MetaStore
	beater  *heartbeatReporter

	mu   sync.Mutex
	apps map[string]*appState

	grpc       *grpc.Server
	metricsSrv *http.Server
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

type appState struct {
	lastHeartbeat time.Time
	remote        types.RemoteStorageInfo
	shuffles      map[int]*shuffle
}

// New wires a shuffle server from its validated config
func New(cfg *config.ServerConfig) (*ShuffleServer, error) {
	host, port, err := splitAddr(cfg.RPCAddr)
	if err != nil {
		return nil, err
	}
	info := types.ShuffleServerInfo{ID: cfg.ID, Host: host, Port: port}
	if info.ID == "" {
		info.ID = info.Addr()
	}

	tiers, err := storage.NewMultiStorageManager(cfg)
	if err != nil {
		return nil, err
	}

	s := &ShuffleServer{
		cfg:    cfg,
		info:   info,
		pool:   NewBufferPool(cfg.BufferCapacity, cfg.BufferFlushThreshold),
		tiers:  tiers,
		apps:   make(map[string]*appState),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("server"),
	}
	s.flush = storage.NewFlushManager(tiers, cfg.StorageRetryMax, s.onFlushComplete)

	if cfg.StorageType.HasLocal() {
		meta, err := OpenMetaStore(filepath.Join(cfg.BasePath, "meta.db"))
		if err != nil {
			return nil, err
		}
		s.meta = meta
		if err := s.clearOrphans(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to clear orphaned app data")
		}
	}

	return s, nil
}

// clearOrphans removes on-disk data of apps recorded before a restart.
// Their buffers and shuffle state died with the old process, so the data
// can never become readable again.
func (s *ShuffleServer) clearOrphans() error {
	apps, err := s.meta.ListApps()
	if err != nil {
		return err
	}
	for _, meta := range apps {
		s.logger.Info().Str("app_id", meta.AppID).Msg("Clearing orphaned app data after restart")
		if err := os.RemoveAll(filepath.Join(s.cfg.BasePath, meta.AppID)); err != nil {
			return err
		}
		if err := s.meta.DeleteApp(meta.AppID); err != nil {
			return err
		}
	}
	return nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid rpc address %q: %w", addr, err)
	}
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "localhost"
		}
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid rpc port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Start serves RPCs until Stop; it blocks
func (s *ShuffleServer) Start() error {
	s.flush.Start()
	go s.gcLoop()

	if len(s.cfg.Coordinators) > 0 {
		beater, err := newHeartbeatReporter(s)
		if err != nil {
			return err
		}
		s.beater = beater
		s.beater.Start()
	}

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, "ok")
		})
		s.metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	lis, err := net.Listen("tcp", s.cfg.RPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.RPCAddr, err)
	}
	s.grpc = rpc.NewServer()
	rpc.RegisterShuffleServerServer(s.grpc, s)

	s.logger.Info().Str("addr", s.cfg.RPCAddr).Str("server_id", s.info.ID).Msg("Shuffle server listening")
	return s.grpc.Serve(lis)
}

// Stop shuts down the daemon gracefully
func (s *ShuffleServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.beater != nil {
		s.beater.Stop()
	}
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}
	s.flush.Stop()
	if s.meta != nil {
		s.meta.Close()
	}
}

// Load assembles the heartbeat load report
func (s *ShuffleServer) Load() types.ShuffleServerLoad {
	s.mu.Lock()
	partitions := 0
	for _, app := range s.apps {
		for _, sh := range app.shuffles {
			partitions += len(sh.ranges)
		}
	}
	s.mu.Unlock()

	used := s.pool.UsedBytes()
	return types.ShuffleServerLoad{
		UsedMemory:       used,
		PreAllocatedSize: s.pool.InFlushBytes(),
		AvailableMemory:  s.pool.AvailableBytes(),
		EventNum:         s.flush.PendingEvents(),
		PartitionNum:     partitions,
	}
}

func (s *ShuffleServer) onFlushComplete(event *storage.FlushEvent, err error) {
	s.pool.Release(event.Size)
}

func (s *ShuffleServer) getShuffle(appID string, shuffleID int) (*shuffle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appID]
	if !ok {
		return nil, false
	}
	sh, ok := app.shuffles[shuffleID]
	return sh, ok
}

func (s *ShuffleServer) touchApp(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appID]
	if !ok {
		return false
	}
	app.lastHeartbeat = time.Now()
	return true
}

// gcLoop tombstones and removes every trace of apps whose heartbeat gap
// exceeded the TTL
func (s *ShuffleServer) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.gcExpiredApps()
		case <-s.stopCh:
			return
		}
	}
}

func (s *ShuffleServer) gcExpiredApps() {
	cutoff := time.Now().Add(-s.cfg.AppHeartbeatTimeout)

	s.mu.Lock()
	var expired []string
	for appID, app := range s.apps {
		if app.lastHeartbeat.Before(cutoff) {
			expired = append(expired, appID)
			for _, sh := range app.shuffles {
				sh.tombstone()
			}
			delete(s.apps, appID)
		}
	}
	s.mu.Unlock()

	for _, appID := range expired {
		s.logger.Info().Str("app_id", appID).Msg("Removing expired application")
		s.pool.RemoveApp(appID)
		s.flush.ClearApp(appID)
		if err := s.tiers.RemoveApp(appID); err != nil {
			s.logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to remove app storage")
		}
		if s.meta != nil {
			if err := s.meta.DeleteApp(appID); err != nil {
				s.logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to remove app meta")
			}
		}
	}
	s.updateShuffleGauge()
}

func (s *ShuffleServer) updateShuffleGauge() {
	s.mu.Lock()
	total := 0
	for _, app := range s.apps {
		total += len(app.shuffles)
	}
	s.mu.Unlock()
	metrics.RegisteredShufflesTotal.Set(float64(total))
}

// RegisterShuffle implements rpc.ShuffleServerServer
func (s *ShuffleServer) RegisterShuffle(ctx context.Context, req *rpc.RegisterShuffleRequest) (*rpc.RegisterShuffleResponse, error) {
	if req.AppID == "" || len(req.PartitionRanges) == 0 {
		return &rpc.RegisterShuffleResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInvalidRequest, Message: "appId and partitionRanges are required"},
		}, nil
	}

	s.mu.Lock()
	app, ok := s.apps[req.AppID]
	if !ok {
		app = &appState{shuffles: make(map[int]*shuffle)}
		s.apps[req.AppID] = app
	}
	app.lastHeartbeat = time.Now()
	app.remote = req.RemoteStorage
	if _, exists := app.shuffles[req.ShuffleID]; !exists {
		app.shuffles[req.ShuffleID] = newShuffle(req.AppID, req.ShuffleID, req.PartitionRanges, req.RemoteStorage)
	}
	s.mu.Unlock()

	if err := s.tiers.RegisterApp(req.AppID, req.RemoteStorage); err != nil {
		return &rpc.RegisterShuffleResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	if s.meta != nil {
		meta := AppMeta{AppID: req.AppID, RemoteStorage: req.RemoteStorage, RegisteredAt: time.Now()}
		if err := s.meta.SaveApp(meta); err != nil {
			s.logger.Warn().Err(err).Str("app_id", req.AppID).Msg("Failed to persist app meta")
		}
	}
	s.updateShuffleGauge()

	s.logger.Info().
		Str("app_id", req.AppID).
		Int("shuffle_id", req.ShuffleID).
		Int("ranges", len(req.PartitionRanges)).
		Msg("Registered shuffle")

	return &rpc.RegisterShuffleResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}

// SendShuffleData implements rpc.ShuffleServerServer
func (s *ShuffleServer) SendShuffleData(ctx context.Context, req *rpc.SendShuffleDataRequest) (*rpc.SendShuffleDataResponse, error) {
	sh, ok := s.getShuffle(req.AppID, req.ShuffleID)
	if !ok {
		return &rpc.SendShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "shuffle is not registered"},
		}, nil
	}
	if err := sh.beginWrite(); err != nil {
		return &rpc.SendShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusStateUnexpected, Message: err.Error()},
		}, nil
	}

	var total int64
	var blockCount int
	for _, blocks := range req.PartitionToBlocks {
		for _, b := range blocks {
			total += int64(b.Length)
			blockCount++
		}
	}
	if !s.pool.Require(total) {
		metrics.NoBufferTotal.Inc()
		return &rpc.SendShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoBuffer, Message: "buffer pool is full"},
		}, nil
	}

	s.touchApp(req.AppID)

	for partition, blocks := range req.PartitionToBlocks {
		rng, ok := sh.rangeFor(partition)
		if !ok {
			return &rpc.SendShuffleDataResponse{
				ResponseStatus: rpc.ResponseStatus{
					Status:  types.StatusInvalidRequest,
					Message: fmt.Sprintf("partition %d is not registered on this server", partition),
				},
			}, nil
		}
		key := bufferKey{appID: req.AppID, shuffleID: req.ShuffleID, rng: rng}
		if toFlush := s.pool.Append(key, blocks); len(toFlush) > 0 {
			s.flush.Submit(storage.NewFlushEvent(req.AppID, req.ShuffleID, rng, sh.remote, toFlush))
		}
	}

	metrics.ReceivedBlocksTotal.Add(float64(blockCount))
	metrics.ReceivedBytesTotal.Add(float64(total))

	return &rpc.SendShuffleDataResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}

// SendCommit implements rpc.ShuffleServerServer. It flushes everything the
// shuffle buffered, waits for the pipeline to drain, and returns the
// running commit count. Any write acknowledged before this call is durable
// on its tier by the time the response leaves.
func (s *ShuffleServer) SendCommit(ctx context.Context, req *rpc.SendCommitRequest) (*rpc.SendCommitResponse, error) {
	sh, ok := s.getShuffle(req.AppID, req.ShuffleID)
	if !ok {
		return &rpc.SendCommitResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "shuffle is not registered"},
		}, nil
	}
	if err := sh.beginCommit(); err != nil {
		return &rpc.SendCommitResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusStateUnexpected, Message: err.Error()},
		}, nil
	}

	s.touchApp(req.AppID)

	for rng, blocks := range s.pool.DrainShuffle(req.AppID, req.ShuffleID) {
		s.flush.Submit(storage.NewFlushEvent(req.AppID, req.ShuffleID, rng, sh.remote, blocks))
	}
	if err := s.flush.Drain(ctx, req.AppID, req.ShuffleID); err != nil {
		return &rpc.SendCommitResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusTimeout, Message: err.Error()},
		}, nil
	}
	if s.flush.Faulted(req.AppID, req.ShuffleID) {
		return &rpc.SendCommitResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: "shuffle storage is faulted"},
		}, nil
	}

	count := sh.finishCommit()
	return &rpc.SendCommitResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		CommitCount:    count,
	}, nil
}

// FinishShuffle implements rpc.ShuffleServerServer
func (s *ShuffleServer) FinishShuffle(ctx context.Context, req *rpc.FinishShuffleRequest) (*rpc.FinishShuffleResponse, error) {
	sh, ok := s.getShuffle(req.AppID, req.ShuffleID)
	if !ok {
		return &rpc.FinishShuffleResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "shuffle is not registered"},
		}, nil
	}
	if err := sh.finish(); err != nil {
		return &rpc.FinishShuffleResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusStateUnexpected, Message: err.Error()},
		}, nil
	}
	s.touchApp(req.AppID)
	s.logger.Info().Str("app_id", req.AppID).Int("shuffle_id", req.ShuffleID).Msg("Shuffle finished, now readable")
	return &rpc.FinishShuffleResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}

// ReportShuffleResult implements rpc.ShuffleServerServer
func (s *ShuffleServer) ReportShuffleResult(ctx context.Context, req *rpc.ReportShuffleResultRequest) (*rpc.ReportShuffleResultResponse, error) {
	sh, ok := s.getShuffle(req.AppID, req.ShuffleID)
	if !ok {
		return &rpc.ReportShuffleResultResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "shuffle is not registered"},
		}, nil
	}
	s.touchApp(req.AppID)
	for partition, blockIDs := range req.PartitionToBlockIDs {
		sh.addBlockIDs(partition, blockIDs)
	}
	return &rpc.ReportShuffleResultResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}

// GetShuffleResult implements rpc.ShuffleServerServer
func (s *ShuffleServer) GetShuffleResult(ctx context.Context, req *rpc.GetShuffleResultRequest) (*rpc.GetShuffleResultResponse, error) {
	sh, bad := s.readCheck(req.AppID, req.ShuffleID)
	if bad != nil {
		return &rpc.GetShuffleResultResponse{ResponseStatus: *bad}, nil
	}
	data, err := sh.serializedBitmap(req.PartitionID)
	if err != nil {
		return &rpc.GetShuffleResultResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	return &rpc.GetShuffleResultResponse{
		ResponseStatus:   rpc.ResponseStatus{Status: types.StatusSuccess},
		SerializedBitmap: data,
	}, nil
}

// readCheck gates the data read path: the shuffle must exist, be READABLE,
// and not be faulted
func (s *ShuffleServer) readCheck(appID string, shuffleID int) (*shuffle, *rpc.ResponseStatus) {
	sh, ok := s.getShuffle(appID, shuffleID)
	if !ok {
		return nil, &rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "shuffle is not registered"}
	}
	if !sh.readable() {
		return nil, &rpc.ResponseStatus{
			Status:  types.StatusStateUnexpected,
			Message: fmt.Sprintf("shuffle is %s, reads require READABLE", sh.currentState()),
		}
	}
	if s.flush.Faulted(appID, shuffleID) {
		return nil, &rpc.ResponseStatus{Status: types.StatusInternalError, Message: "shuffle storage is faulted"}
	}
	return sh, nil
}

// GetShuffleIndex implements rpc.ShuffleServerServer
func (s *ShuffleServer) GetShuffleIndex(ctx context.Context, req *rpc.GetShuffleIndexRequest) (*rpc.GetShuffleIndexResponse, error) {
	sh, bad := s.readCheck(req.AppID, req.ShuffleID)
	if bad != nil {
		return &rpc.GetShuffleIndexResponse{ResponseStatus: *bad}, nil
	}
	rng, ok := sh.rangeFor(req.PartitionID)
	if !ok {
		return &rpc.GetShuffleIndexResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInvalidRequest, Message: "partition is not on this server"},
		}, nil
	}
	reader, err := s.tiers.CreateReader(req.AppID, req.ShuffleID, rng)
	if err != nil {
		return &rpc.GetShuffleIndexResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	defer reader.Close()
	index, dataLen, err := reader.Index()
	if err != nil {
		return &rpc.GetShuffleIndexResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	return &rpc.GetShuffleIndexResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		IndexData:      index,
		DataFileLength: dataLen,
	}, nil
}

// GetShuffleData implements rpc.ShuffleServerServer
func (s *ShuffleServer) GetShuffleData(ctx context.Context, req *rpc.GetShuffleDataRequest) (*rpc.GetShuffleDataResponse, error) {
	sh, bad := s.readCheck(req.AppID, req.ShuffleID)
	if bad != nil {
		return &rpc.GetShuffleDataResponse{ResponseStatus: *bad}, nil
	}
	rng, ok := sh.rangeFor(req.PartitionID)
	if !ok {
		return &rpc.GetShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInvalidRequest, Message: "partition is not on this server"},
		}, nil
	}
	reader, err := s.tiers.CreateReader(req.AppID, req.ShuffleID, rng)
	if err != nil {
		return &rpc.GetShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	defer reader.Close()
	data, err := reader.Data(req.Offset, req.Length)
	if err != nil {
		return &rpc.GetShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: err.Error()},
		}, nil
	}
	return &rpc.GetShuffleDataResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		Data:           data,
	}, nil
}

// AppHeartbeat implements rpc.ShuffleServerServer
func (s *ShuffleServer) AppHeartbeat(ctx context.Context, req *rpc.AppHeartbeatRequest) (*rpc.AppHeartbeatResponse, error) {
	if !s.touchApp(req.AppID) {
		return &rpc.AppHeartbeatResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusNoRegister, Message: "app is not registered"},
		}, nil
	}
	return &rpc.AppHeartbeatResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
	}, nil
}
