package workerpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/model"
)

// Pool round-robins fetchBlock/processBlock RPCs across a fixed set of
// worker processes (spec.md §4.7's worker-pool mode: "round-robin height
// assignment"). It implements the same Assembler/Indexer interfaces
// internal/dispatcher.Dispatcher already drives in single-process mode, so
// the dispatcher's commit sequencer serializes worker-pool completions back
// into ascending height order exactly as it does for local execution —
// no separate ordering logic is needed for this mode.
type Pool struct {
	clients []*WorkerClient
	next    atomic.Int64
}

// NewPool dials every address in addrs.
func NewPool(addrs []string, timeout time.Duration) (*Pool, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("workerpool: no worker addresses configured")
	}
	clients := make([]*WorkerClient, 0, len(addrs))
	for _, addr := range addrs {
		c, err := DialWorker(addr, timeout)
		if err != nil {
			for _, opened := range clients {
				opened.Close()
			}
			return nil, err
		}
		clients = append(clients, c)
	}
	return &Pool{clients: clients}, nil
}

func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pick selects a worker round-robin. Height is not used for the selection
// itself (successive calls rotate regardless of which heights they carry),
// matching the teacher's stateless round-robin style rather than a
// height-modulo assignment that would need rebalancing as the pool resizes.
func (p *Pool) pick() *WorkerClient {
	idx := p.next.Add(1) % int64(len(p.clients))
	return p.clients[idx]
}

// Assemble satisfies internal/dispatcher.Assembler by delegating to a
// round-robin worker's FetchBlock RPC.
func (p *Pool) Assemble(ctx context.Context, height int64) (*model.Block, error) {
	client := p.pick()
	resp, err := client.FetchBlock(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("worker fetchBlock: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("worker fetchBlock(%d): %s", height, resp.Error)
	}
	if resp.Unavailable {
		return nil, engineerr.NewBlockUnavailableError(height)
	}
	var block model.Block
	if err := json.Unmarshal(resp.Block, &block); err != nil {
		return nil, fmt.Errorf("unmarshal worker block %d: %w", height, err)
	}
	return &block, nil
}

// ProcessBlock satisfies internal/dispatcher.Indexer by delegating to a
// round-robin worker's ProcessBlock RPC.
func (p *Pool) ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error) {
	raw, err := json.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("marshal block %d: %w", block.Header.Height, err)
	}
	client := p.pick()
	resp, err := client.ProcessBlock(ctx, &ProcessBlockRequest{Height: block.Header.Height, Block: raw})
	if err != nil {
		return nil, fmt.Errorf("worker processBlock: %w", err)
	}
	if resp.Error != "" {
		return nil, engineerr.NewHandlerError("", block.Header.Height, errors.New(resp.Error))
	}

	out := &indexer.ProcessBlockResponse{Height: resp.Height, BlockHash: resp.BlockHash, ReindexBlockHeight: resp.ReindexBlockHeight}
	for _, d := range resp.DynamicDsCreated {
		out.DynamicDsCreated = append(out.DynamicDsCreated, indexer.DynamicDsRequest{TemplateName: d.TemplateName, Args: d.Args})
	}
	return out, nil
}
