package workerpool

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

// FetchBlockRequest asks a worker to fetch and assemble one height.
type FetchBlockRequest struct {
	Height int64 `json:"height"`
}

// FetchBlockResponse carries the assembled block, or Unavailable=true for a
// permanent 404 at that height (spec.md §4.7's BlockUnavailableError case).
type FetchBlockResponse struct {
	Height      int64           `json:"height"`
	Block       json.RawMessage `json:"block,omitempty"`
	Unavailable bool            `json:"unavailable"`
	Error       string          `json:"error,omitempty"`
}

// ProcessBlockRequest asks a worker to run every matching handler against an
// already-fetched block.
type ProcessBlockRequest struct {
	Height int64           `json:"height"`
	Block  json.RawMessage `json:"block"`
}

// ProcessBlockResponse mirrors indexer.ProcessBlockResponse over the wire.
type ProcessBlockResponse struct {
	Height             int64              `json:"height"`
	BlockHash          string             `json:"blockHash"`
	DynamicDsCreated   []DynamicDsRequest `json:"dynamicDsCreated,omitempty"`
	ReindexBlockHeight *int64             `json:"reindexBlockHeight,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// DynamicDsRequest mirrors indexer.DynamicDsRequest over the wire.
type DynamicDsRequest struct {
	TemplateName string            `json:"templateName"`
	Args         map[string]string `json:"args,omitempty"`
}

// WorkerService is the RPC surface a worker process exposes: fetch a block
// at a height, then process it (spec.md §4.7's worker-pool mode).
type WorkerService interface {
	FetchBlock(ctx context.Context, req *FetchBlockRequest) (*FetchBlockResponse, error)
	ProcessBlock(ctx context.Context, req *ProcessBlockRequest) (*ProcessBlockResponse, error)
}

const serviceName = "near_indexer.workerpool.WorkerService"

// serviceDesc is authored by hand in place of a protoc-generated
// ServiceDesc; the wire format is JSON via jsonCodec rather than protobuf,
// so no .proto IDL or generated marshaling code is required.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WorkerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchBlock",
			Handler:    fetchBlockHandler,
		},
		{
			MethodName: "ProcessBlock",
			Handler:    processBlockHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "near_indexer/workerpool.proto",
}

func fetchBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(FetchBlockRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerService).FetchBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FetchBlock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerService).FetchBlock(ctx, req.(*FetchBlockRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func processBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ProcessBlockRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerService).ProcessBlock(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ProcessBlock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerService).ProcessBlock(ctx, req.(*ProcessBlockRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterWorkerServiceServer registers an implementation of WorkerService
// with a grpc.Server, mirroring the _grpc.pb.go RegisterXxxServer functions
// protoc would otherwise generate.
func RegisterWorkerServiceServer(s *grpc.Server, impl WorkerService) {
	s.RegisterService(&serviceDesc, impl)
}
