package client

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hddong/uniffle/pkg/rpc"
	"github.com/hddong/uniffle/pkg/types"
)

// stubShuffleServer is an in-process shuffle server used to script
// data-plane behaviour in client tests
type stubShuffleServer struct {
	mu sync.Mutex

	failSend   bool
	failReport bool
	failResult bool

	sendCalls   int
	reportCalls int
	gotBlockIDs []int64

	bitmaps     map[int][]byte
	indexData   []byte
	dataFile    []byte
	commitCount int
}

func newStubShuffleServer() *stubShuffleServer {
	return &stubShuffleServer{bitmaps: make(map[int][]byte)}
}

func (s *stubShuffleServer) RegisterShuffle(context.Context, *rpc.RegisterShuffleRequest) (*rpc.RegisterShuffleResponse, error) {
	return &rpc.RegisterShuffleResponse{ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess}}, nil
}

func (s *stubShuffleServer) SendShuffleData(_ context.Context, req *rpc.SendShuffleDataRequest) (*rpc.SendShuffleDataResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	if s.failSend {
		return &rpc.SendShuffleDataResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: "scripted failure"},
		}, nil
	}
	for _, blocks := range req.PartitionToBlocks {
		for _, b := range blocks {
			s.gotBlockIDs = append(s.gotBlockIDs, b.BlockID)
		}
	}
	return &rpc.SendShuffleDataResponse{ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess}}, nil
}

func (s *stubShuffleServer) SendCommit(context.Context, *rpc.SendCommitRequest) (*rpc.SendCommitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitCount++
	return &rpc.SendCommitResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		CommitCount:    s.commitCount,
	}, nil
}

func (s *stubShuffleServer) FinishShuffle(context.Context, *rpc.FinishShuffleRequest) (*rpc.FinishShuffleResponse, error) {
	return &rpc.FinishShuffleResponse{ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess}}, nil
}

func (s *stubShuffleServer) ReportShuffleResult(_ context.Context, req *rpc.ReportShuffleResultRequest) (*rpc.ReportShuffleResultResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportCalls++
	if s.failReport {
		return &rpc.ReportShuffleResultResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: "scripted failure"},
		}, nil
	}
	return &rpc.ReportShuffleResultResponse{ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess}}, nil
}

func (s *stubShuffleServer) GetShuffleResult(_ context.Context, req *rpc.GetShuffleResultRequest) (*rpc.GetShuffleResultResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failResult {
		return &rpc.GetShuffleResultResponse{
			ResponseStatus: rpc.ResponseStatus{Status: types.StatusInternalError, Message: "scripted failure"},
		}, nil
	}
	return &rpc.GetShuffleResultResponse{
		ResponseStatus:   rpc.ResponseStatus{Status: types.StatusSuccess},
		SerializedBitmap: s.bitmaps[req.PartitionID],
	}, nil
}

func (s *stubShuffleServer) GetShuffleIndex(context.Context, *rpc.GetShuffleIndexRequest) (*rpc.GetShuffleIndexResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &rpc.GetShuffleIndexResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		IndexData:      s.indexData,
		DataFileLength: int64(len(s.dataFile)),
	}, nil
}

func (s *stubShuffleServer) GetShuffleData(_ context.Context, req *rpc.GetShuffleDataRequest) (*rpc.GetShuffleDataResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := req.Offset + req.Length
	if end > int64(len(s.dataFile)) {
		end = int64(len(s.dataFile))
	}
	return &rpc.GetShuffleDataResponse{
		ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess},
		Data:           s.dataFile[req.Offset:end],
	}, nil
}

func (s *stubShuffleServer) AppHeartbeat(context.Context, *rpc.AppHeartbeatRequest) (*rpc.AppHeartbeatResponse, error) {
	return &rpc.AppHeartbeatResponse{ResponseStatus: rpc.ResponseStatus{Status: types.StatusSuccess}}, nil
}

func (s *stubShuffleServer) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

// startStub serves the stub on an ephemeral port and returns its identity
func startStub(t *testing.T, stub *stubShuffleServer) types.ShuffleServerInfo {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := rpc.NewServer()
	rpc.RegisterShuffleServerServer(srv, stub)
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	addr := lis.Addr().(*net.TCPAddr)
	return types.ShuffleServerInfo{ID: addr.String(), Host: "127.0.0.1", Port: addr.Port}
}
