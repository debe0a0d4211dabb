package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// CoordinatorService is the full method-name prefix of the coordinator RPCs
const CoordinatorService = "rss.Coordinator"

// CoordinatorServer is the server-side contract of the coordinator service
type CoordinatorServer interface {
	GetShuffleAssignments(context.Context, *GetShuffleAssignmentsRequest) (*GetShuffleAssignmentsResponse, error)
	AccessCluster(context.Context, *AccessClusterRequest) (*AccessClusterResponse, error)
	FetchClientConf(context.Context, *FetchClientConfRequest) (*FetchClientConfResponse, error)
	FetchRemoteStorage(context.Context, *FetchRemoteStorageRequest) (*FetchRemoteStorageResponse, error)
	ServerHeartbeat(context.Context, *ServerHeartbeatRequest) (*ServerHeartbeatResponse, error)
	AppHeartbeat(context.Context, *AppHeartbeatRequest) (*AppHeartbeatResponse, error)
}

// RegisterCoordinatorServer registers the coordinator service implementation
func RegisterCoordinatorServer(s *grpc.Server, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorService,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetShuffleAssignments",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "GetShuffleAssignments", CoordinatorServer.GetShuffleAssignments),
		},
		{
			MethodName: "AccessCluster",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "AccessCluster", CoordinatorServer.AccessCluster),
		},
		{
			MethodName: "FetchClientConf",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "FetchClientConf", CoordinatorServer.FetchClientConf),
		},
		{
			MethodName: "FetchRemoteStorage",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "FetchRemoteStorage", CoordinatorServer.FetchRemoteStorage),
		},
		{
			MethodName: "ServerHeartbeat",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "ServerHeartbeat", CoordinatorServer.ServerHeartbeat),
		},
		{
			MethodName: "AppHeartbeat",
			Handler:    unaryHandler[CoordinatorServer](CoordinatorService, "AppHeartbeat", CoordinatorServer.AppHeartbeat),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// CoordinatorClient is the client side of the coordinator service
type CoordinatorClient struct {
	cc *grpc.ClientConn
}

// NewCoordinatorClient wraps an established connection
func NewCoordinatorClient(cc *grpc.ClientConn) *CoordinatorClient {
	return &CoordinatorClient{cc: cc}
}

func (c *CoordinatorClient) GetShuffleAssignments(ctx context.Context, in *GetShuffleAssignmentsRequest) (*GetShuffleAssignmentsResponse, error) {
	return invoke[GetShuffleAssignmentsResponse](ctx, c.cc, CoordinatorService, "GetShuffleAssignments", in)
}

func (c *CoordinatorClient) AccessCluster(ctx context.Context, in *AccessClusterRequest) (*AccessClusterResponse, error) {
	return invoke[AccessClusterResponse](ctx, c.cc, CoordinatorService, "AccessCluster", in)
}

func (c *CoordinatorClient) FetchClientConf(ctx context.Context, in *FetchClientConfRequest) (*FetchClientConfResponse, error) {
	return invoke[FetchClientConfResponse](ctx, c.cc, CoordinatorService, "FetchClientConf", in)
}

func (c *CoordinatorClient) FetchRemoteStorage(ctx context.Context, in *FetchRemoteStorageRequest) (*FetchRemoteStorageResponse, error) {
	return invoke[FetchRemoteStorageResponse](ctx, c.cc, CoordinatorService, "FetchRemoteStorage", in)
}

func (c *CoordinatorClient) ServerHeartbeat(ctx context.Context, in *ServerHeartbeatRequest) (*ServerHeartbeatResponse, error) {
	return invoke[ServerHeartbeatResponse](ctx, c.cc, CoordinatorService, "ServerHeartbeat", in)
}

func (c *CoordinatorClient) AppHeartbeat(ctx context.Context, in *AppHeartbeatRequest) (*AppHeartbeatResponse, error) {
	return invoke[AppHeartbeatResponse](ctx, c.cc, CoordinatorService, "AppHeartbeat", in)
}
