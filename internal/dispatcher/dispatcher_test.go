package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssembler struct {
	mu      sync.Mutex
	delay   map[int64]time.Duration
	unavail map[int64]bool
}

func (f *fakeAssembler) Assemble(ctx context.Context, height int64) (*model.Block, error) {
	f.mu.Lock()
	d := f.delay[height]
	u := f.unavail[height]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if u {
		return nil, engineerr.NewBlockUnavailableError(height)
	}
	return &model.Block{Header: model.Header{Height: height, Hash: "h"}}, nil
}

type fakeIndexer struct {
	mu        sync.Mutex
	processed []int64
	dynamicAt int64 // height at which to report dynamic ds creation
}

func (f *fakeIndexer) ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, block.Header.Height)
	resp := &indexer.ProcessBlockResponse{Height: block.Header.Height, BlockHash: block.Header.Hash}
	if f.dynamicAt != 0 && block.Header.Height == f.dynamicAt {
		resp.DynamicDsCreated = []indexer.DynamicDsRequest{{TemplateName: "pool"}}
	}
	return resp, nil
}

func (f *fakeIndexer) order() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.processed))
	copy(out, f.processed)
	return out
}

func TestDispatcherCommitsInAscendingOrderDespiteOutOfOrderCompletion(t *testing.T) {
	asm := &fakeAssembler{delay: map[int64]time.Duration{10: 30 * time.Millisecond}}
	idx := &fakeIndexer{}
	d := New(Config{Capacity: 100, Concurrency: 5, Assembler: asm, Indexer: idx})
	d.Init(10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go d.Run(ctx)

	require.NoError(t, d.EnqueueBlocks([]int64{10, 11, 12, 13, 14}, 14))

	require.Eventually(t, func() bool {
		return d.LastProcessedHeight() == 14
	}, 250*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, []int64{10, 11, 12, 13, 14}, idx.order())
}

func TestDispatcherSkipsUnavailableBlockAndKeepsGoing(t *testing.T) {
	asm := &fakeAssembler{unavail: map[int64]bool{11: true}}
	idx := &fakeIndexer{}
	d := New(Config{Capacity: 100, Concurrency: 3, Assembler: asm, Indexer: idx})
	d.Init(10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.EnqueueBlocks([]int64{10, 11, 12}, 12))

	require.Eventually(t, func() bool {
		return d.LastProcessedHeight() == 12
	}, 150*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, []int64{10, 12}, idx.order())
}

func TestDispatcherInvokesDynamicDsCallbackOnCreation(t *testing.T) {
	asm := &fakeAssembler{}
	idx := &fakeIndexer{dynamicAt: 11}
	var resetFrom int64 = -1
	var mu sync.Mutex

	d := New(Config{
		Capacity:    100,
		Concurrency: 3,
		Assembler:   asm,
		Indexer:     idx,
		OnDynamicDsCreated: func(ctx context.Context, fromHeight int64) {
			mu.Lock()
			resetFrom = fromHeight
			mu.Unlock()
		},
	})
	d.Init(10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.EnqueueBlocks([]int64{10, 11, 12}, 12))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resetFrom == 12
	}, 150*time.Millisecond, 5*time.Millisecond)
}

func TestDispatcherAbortsRunOnFatalHandlerError(t *testing.T) {
	asm := &fakeAssembler{}
	idx := &erroringIndexer{failAt: 11}
	d := New(Config{Capacity: 100, Concurrency: 3, Assembler: asm, Indexer: idx})
	d.Init(10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.NoError(t, d.EnqueueBlocks([]int64{10, 11, 12}, 12))

	err := <-errCh
	var herr *engineerr.HandlerError
	require.True(t, isHandlerError(err, &herr))
	assert.Equal(t, int64(10), d.LastProcessedHeight())
}

type erroringIndexer struct {
	failAt int64
}

func (f *erroringIndexer) ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error) {
	if block.Header.Height == f.failAt {
		return nil, engineerr.NewHandlerError("onBlock", block.Header.Height, assert.AnError)
	}
	return &indexer.ProcessBlockResponse{Height: block.Header.Height, BlockHash: block.Header.Hash}, nil
}

func TestFlushQueueDiscardsHeightsAtOrAboveThreshold(t *testing.T) {
	d := New(Config{Capacity: 100, Concurrency: 1, Assembler: &fakeAssembler{}, Indexer: &fakeIndexer{}})
	d.Init(10)
	require.NoError(t, d.EnqueueBlocks([]int64{10, 11, 12, 13, 14}, 14))

	d.FlushQueue(12)

	assert.Equal(t, int64(11), d.LatestBufferedHeight())
	d.mu.Lock()
	assert.Equal(t, []int64{10, 11}, d.queue)
	d.mu.Unlock()
}

func TestFreeSizeReflectsQueueAndInFlight(t *testing.T) {
	d := New(Config{Capacity: 10, Concurrency: 1, Assembler: &fakeAssembler{}, Indexer: &fakeIndexer{}})
	d.Init(0)
	require.NoError(t, d.EnqueueBlocks([]int64{0, 1, 2}, 2))
	assert.Equal(t, 7, d.FreeSize())
}
