package workerpool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/model"
)

// Assembler fetches and materializes a single unified block. Satisfied by
// internal/assembler.Assembler.
type Assembler interface {
	Assemble(ctx context.Context, height int64) (*model.Block, error)
}

// Indexer runs every matching handler against a fetched block. Satisfied by
// internal/indexer.Indexer.
type Indexer interface {
	ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error)
}

// Server adapts an Assembler+Indexer pair to the WorkerService RPC surface,
// run inside each worker process. memoryGate is a process-wide semaphore
// (spec.md §5: "worker memory lock is a process-wide gate") bounding how
// many fetch/process calls run concurrently within one worker, independent
// of the dispatcher's own per-height concurrency budget.
type Server struct {
	Assembler Assembler
	Indexer   Indexer

	memoryGate chan struct{}
}

// NewServer constructs a Server whose memory gate admits at most
// concurrency simultaneous FetchBlock/ProcessBlock calls.
func NewServer(asm Assembler, idx Indexer, concurrency int) *Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Server{Assembler: asm, Indexer: idx, memoryGate: make(chan struct{}, concurrency)}
}

var _ WorkerService = (*Server)(nil)

func (s *Server) FetchBlock(ctx context.Context, req *FetchBlockRequest) (*FetchBlockResponse, error) {
	select {
	case s.memoryGate <- struct{}{}:
		defer func() { <-s.memoryGate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	block, err := s.Assembler.Assemble(ctx, req.Height)
	if err != nil {
		var unavail *engineerr.BlockUnavailableError
		if asBlockUnavailable(err, &unavail) {
			return &FetchBlockResponse{Height: req.Height, Unavailable: true}, nil
		}
		return &FetchBlockResponse{Height: req.Height, Error: err.Error()}, nil
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal block %d: %w", req.Height, err)
	}
	return &FetchBlockResponse{Height: req.Height, Block: raw}, nil
}

func (s *Server) ProcessBlock(ctx context.Context, req *ProcessBlockRequest) (*ProcessBlockResponse, error) {
	select {
	case s.memoryGate <- struct{}{}:
		defer func() { <-s.memoryGate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var block model.Block
	if err := json.Unmarshal(req.Block, &block); err != nil {
		return nil, fmt.Errorf("unmarshal block %d: %w", req.Height, err)
	}

	resp, err := s.Indexer.ProcessBlock(ctx, &block)
	if err != nil {
		return &ProcessBlockResponse{Height: req.Height, Error: err.Error()}, nil
	}

	out := &ProcessBlockResponse{Height: resp.Height, BlockHash: resp.BlockHash, ReindexBlockHeight: resp.ReindexBlockHeight}
	for _, d := range resp.DynamicDsCreated {
		out.DynamicDsCreated = append(out.DynamicDsCreated, DynamicDsRequest{TemplateName: d.TemplateName, Args: d.Args})
	}
	return out, nil
}

func asBlockUnavailable(err error, target **engineerr.BlockUnavailableError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if bu, ok := err.(*engineerr.BlockUnavailableError); ok {
			*target = bu
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
