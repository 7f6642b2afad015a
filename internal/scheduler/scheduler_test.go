package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/near-indexer/engine/internal/eventbus"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu             sync.Mutex
	free           int
	latestBuffered int64
	enqueued       [][]int64
}

func (f *fakeDispatcher) FreeSize() int { f.mu.Lock(); defer f.mu.Unlock(); return f.free }

func (f *fakeDispatcher) LatestBufferedHeight() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestBuffered
}

func (f *fakeDispatcher) EnqueueBlocks(heights []int64, latestRawHeight int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, heights)
	f.latestBuffered = latestRawHeight
	f.free -= len(heights)
	return nil
}

type fakeHeadClient struct {
	height int64
}

func (f *fakeHeadClient) Block(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error) {
	body := fmt.Sprintf(`{"header":{"height":%d,"hash":"h","prev_hash":"p"}}`, f.height)
	return json.RawMessage(body), nil
}

func blockOnlyDatasources(filter *model.BlockFilter) []*model.Datasource {
	return []*model.Datasource{{
		Mapping: model.Mapping{Handlers: []model.Handler{
			{Kind: "Block", Handler: "h1", Filter: filter},
		}},
	}}
}

func TestTickWithoutDictionaryEnqueuesSequentialRange(t *testing.T) {
	disp := &fakeDispatcher{free: 100, latestBuffered: -1}
	sched := New(Config{BatchSize: 5, InitHeight: 10}, disp, &fakeHeadClient{}, func() []*model.Datasource {
		return blockOnlyDatasources(&model.BlockFilter{})
	}, eventbus.New())
	sched.latestFinalizedHeight.Store(100)

	progressed, err := sched.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	require.Len(t, disp.enqueued, 1)
	assert.Equal(t, []int64{10, 11, 12, 13, 14}, disp.enqueued[0])
}

func TestTickBlocksWhenStartExceedsTarget(t *testing.T) {
	disp := &fakeDispatcher{free: 100, latestBuffered: 100}
	sched := New(Config{BatchSize: 5, InitHeight: 10}, disp, &fakeHeadClient{}, func() []*model.Datasource {
		return blockOnlyDatasources(&model.BlockFilter{})
	}, eventbus.New())
	sched.latestFinalizedHeight.Store(100)

	progressed, err := sched.tick(context.Background())
	require.NoError(t, err)
	assert.False(t, progressed)
	assert.Empty(t, disp.enqueued)
}

func TestTickBlocksWhenDispatcherHasNoFreeSpace(t *testing.T) {
	disp := &fakeDispatcher{free: 2, latestBuffered: -1}
	sched := New(Config{BatchSize: 5, InitHeight: 10}, disp, &fakeHeadClient{}, func() []*model.Datasource {
		return blockOnlyDatasources(&model.BlockFilter{})
	}, eventbus.New())
	sched.latestFinalizedHeight.Store(1000)

	progressed, err := sched.tick(context.Background())
	require.NoError(t, err)
	assert.False(t, progressed)
}

func TestEnqueueWithBypassRemovesBypassedHeights(t *testing.T) {
	disp := &fakeDispatcher{free: 100, latestBuffered: -1}
	sched := New(Config{BatchSize: 5, InitHeight: 10, BypassBlocks: []int64{12}}, disp, &fakeHeadClient{}, func() []*model.Datasource {
		return blockOnlyDatasources(&model.BlockFilter{})
	}, eventbus.New())
	sched.latestFinalizedHeight.Store(100)

	progressed, err := sched.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	require.Len(t, disp.enqueued, 1)
	assert.Equal(t, []int64{10, 11, 13, 14}, disp.enqueued[0])
	assert.Equal(t, int64(14), disp.latestBuffered)
}

func TestModuloOnlyFastPathSkipsNonMatchingHeights(t *testing.T) {
	disp := &fakeDispatcher{free: 100, latestBuffered: -1}
	sched := New(Config{BatchSize: 3, InitHeight: 10}, disp, &fakeHeadClient{}, func() []*model.Datasource {
		return blockOnlyDatasources(&model.BlockFilter{Modulo: 5})
	}, eventbus.New())
	sched.latestFinalizedHeight.Store(1000)

	progressed, err := sched.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	require.Len(t, disp.enqueued, 1)
	for _, h := range disp.enqueued[0] {
		assert.Zero(t, h%5)
	}
	assert.Len(t, disp.enqueued[0], 3)
}

func TestBlockTimeVarianceClampsToCeiling(t *testing.T) {
	assert.Equal(t, maxBlockTimeVariance, BlockTimeVariance(60*time.Second))
}

func TestBlockTimeVarianceScalesWithChainInterval(t *testing.T) {
	assert.Equal(t, 900*time.Millisecond, BlockTimeVariance(1*time.Second))
}

func TestLcmAllComputesLeastCommonMultiple(t *testing.T) {
	assert.Equal(t, int64(12), lcmAll([]int64{4, 6}))
	assert.Equal(t, int64(30), lcmAll([]int64{2, 3, 5}))
}

func TestEnqueueNextModuloMatchesRespectsLatestTarget(t *testing.T) {
	matches := enqueueNextModuloMatches(10, []int64{7}, 5, 20)
	for _, h := range matches {
		assert.LessOrEqual(t, h, int64(20))
		assert.Zero(t, h%7)
	}
}

func TestFinalizedHeadLoopEmitsBlockTargetWhenNotUnfinalized(t *testing.T) {
	disp := &fakeDispatcher{free: 100, latestBuffered: -1}
	bus := eventbus.New()
	var got []eventbus.Event
	var mu sync.Mutex
	bus.Subscribe(eventbus.EventBlockTarget, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	sched := New(Config{BatchSize: 5, ChainInterval: 10 * time.Millisecond}, disp, &fakeHeadClient{height: 42}, func() []*model.Datasource {
		return nil
	}, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = sched.finalizedHeadLoop(ctx, 15*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, int64(42), got[0].Height)
}
