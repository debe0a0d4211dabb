package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ShuffleServerService is the full method-name prefix of the data-plane RPCs
const ShuffleServerService = "rss.ShuffleServer"

// ShuffleServerServer is the server-side contract of the shuffle server
// service
type ShuffleServerServer interface {
	RegisterShuffle(context.Context, *RegisterShuffleRequest) (*RegisterShuffleResponse, error)
	SendShuffleData(context.Context, *SendShuffleDataRequest) (*SendShuffleDataResponse, error)
	SendCommit(context.Context, *SendCommitRequest) (*SendCommitResponse, error)
	FinishShuffle(context.Context, *FinishShuffleRequest) (*FinishShuffleResponse, error)
	ReportShuffleResult(context.Context, *ReportShuffleResultRequest) (*ReportShuffleResultResponse, error)
	GetShuffleResult(context.Context, *GetShuffleResultRequest) (*GetShuffleResultResponse, error)
	GetShuffleIndex(context.Context, *GetShuffleIndexRequest) (*GetShuffleIndexResponse, error)
	GetShuffleData(context.Context, *GetShuffleDataRequest) (*GetShuffleDataResponse, error)
	AppHeartbeat(context.Context, *AppHeartbeatRequest) (*AppHeartbeatResponse, error)
}

// RegisterShuffleServerServer registers the shuffle server service
// implementation
func RegisterShuffleServerServer(s *grpc.Server, srv ShuffleServerServer) {
	s.RegisterService(&shuffleServerServiceDesc, srv)
}

var shuffleServerServiceDesc = grpc.ServiceDesc{
	ServiceName: ShuffleServerService,
	HandlerType: (*ShuffleServerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterShuffle",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "RegisterShuffle", ShuffleServerServer.RegisterShuffle),
		},
		{
			MethodName: "SendShuffleData",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "SendShuffleData", ShuffleServerServer.SendShuffleData),
		},
		{
			MethodName: "SendCommit",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "SendCommit", ShuffleServerServer.SendCommit),
		},
		{
			MethodName: "FinishShuffle",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "FinishShuffle", ShuffleServerServer.FinishShuffle),
		},
		{
			MethodName: "ReportShuffleResult",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "ReportShuffleResult", ShuffleServerServer.ReportShuffleResult),
		},
		{
			MethodName: "GetShuffleResult",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "GetShuffleResult", ShuffleServerServer.GetShuffleResult),
		},
		{
			MethodName: "GetShuffleIndex",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "GetShuffleIndex", ShuffleServerServer.GetShuffleIndex),
		},
		{
			MethodName: "GetShuffleData",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "GetShuffleData", ShuffleServerServer.GetShuffleData),
		},
		{
			MethodName: "AppHeartbeat",
			Handler:    unaryHandler[ShuffleServerServer](ShuffleServerService, "AppHeartbeat", ShuffleServerServer.AppHeartbeat),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// ShuffleServerClient is the client side of the shuffle server service
type ShuffleServerClient struct {
	cc *grpc.ClientConn
}

// NewShuffleServerClient wraps an established connection
func NewShuffleServerClient(cc *grpc.ClientConn) *ShuffleServerClient {
	return &ShuffleServerClient{cc: cc}
}

func (c *ShuffleServerClient) RegisterShuffle(ctx context.Context, in *RegisterShuffleRequest) (*RegisterShuffleResponse, error) {
	return invoke[RegisterShuffleResponse](ctx, c.cc, ShuffleServerService, "RegisterShuffle", in)
}

func (c *ShuffleServerClient) SendShuffleData(ctx context.Context, in *SendShuffleDataRequest) (*SendShuffleDataResponse, error) {
	return invoke[SendShuffleDataResponse](ctx, c.cc, ShuffleServerService, "SendShuffleData", in)
}

func (c *ShuffleServerClient) SendCommit(ctx context.Context, in *SendCommitRequest) (*SendCommitResponse, error) {
	return invoke[SendCommitResponse](ctx, c.cc, ShuffleServerService, "SendCommit", in)
}

func (c *ShuffleServerClient) FinishShuffle(ctx context.Context, in *FinishShuffleRequest) (*FinishShuffleResponse, error) {
	return invoke[FinishShuffleResponse](ctx, c.cc, ShuffleServerService, "FinishShuffle", in)
}

func (c *ShuffleServerClient) ReportShuffleResult(ctx context.Context, in *ReportShuffleResultRequest) (*ReportShuffleResultResponse, error) {
	return invoke[ReportShuffleResultResponse](ctx, c.cc, ShuffleServerService, "ReportShuffleResult", in)
}

func (c *ShuffleServerClient) GetShuffleResult(ctx context.Context, in *GetShuffleResultRequest) (*GetShuffleResultResponse, error) {
	return invoke[GetShuffleResultResponse](ctx, c.cc, ShuffleServerService, "GetShuffleResult", in)
}

func (c *ShuffleServerClient) GetShuffleIndex(ctx context.Context, in *GetShuffleIndexRequest) (*GetShuffleIndexResponse, error) {
	return invoke[GetShuffleIndexResponse](ctx, c.cc, ShuffleServerService, "GetShuffleIndex", in)
}

func (c *ShuffleServerClient) GetShuffleData(ctx context.Context, in *GetShuffleDataRequest) (*GetShuffleDataResponse, error) {
	return invoke[GetShuffleDataResponse](ctx, c.cc, ShuffleServerService, "GetShuffleData", in)
}

func (c *ShuffleServerClient) AppHeartbeat(ctx context.Context, in *AppHeartbeatRequest) (*AppHeartbeatResponse, error) {
	return invoke[AppHeartbeatResponse](ctx, c.cc, ShuffleServerService, "AppHeartbeat", in)
}
