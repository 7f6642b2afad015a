package workerpool

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// WorkerClient is a client stub for one worker process, hand-written in
// place of a protoc-generated Xxx_grpc.pb.go client (see package doc).
// Grounded on the teacher's normalizer.Normalizer dial pattern:
// grpc.NewClient + insecure.NewCredentials(), one conn per remote.
type WorkerClient struct {
	addr    string
	timeout time.Duration
	conn    *grpc.ClientConn
}

// DialWorker connects to a worker process listening at addr.
func DialWorker(addr string, timeout time.Duration) (*WorkerClient, error) {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	return &WorkerClient{addr: addr, timeout: timeout, conn: conn}, nil
}

func (c *WorkerClient) Close() error { return c.conn.Close() }

func (c *WorkerClient) FetchBlock(ctx context.Context, height int64) (*FetchBlockResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(FetchBlockResponse)
	if err := c.conn.Invoke(callCtx, "/"+serviceName+"/FetchBlock", &FetchBlockRequest{Height: height}, resp); err != nil {
		return nil, fmt.Errorf("fetchBlock(%d) to %s: %w", height, c.addr, err)
	}
	return resp, nil
}

func (c *WorkerClient) ProcessBlock(ctx context.Context, req *ProcessBlockRequest) (*ProcessBlockResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(ProcessBlockResponse)
	if err := c.conn.Invoke(callCtx, "/"+serviceName+"/ProcessBlock", req, resp); err != nil {
		return nil, fmt.Errorf("processBlock(%d) to %s: %w", req.Height, c.addr, err)
	}
	return resp, nil
}
