package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	lastProcessed int64
	flushedTo     int64
	flushed       bool
}

func (f *fakeDispatcher) FlushQueue(height int64) {
	f.flushed = true
	f.flushedTo = height
}

func (f *fakeDispatcher) LastProcessedHeight() int64 { return f.lastProcessed }

type fakeDynamicDs struct {
	deletedFrom int64
	toDelete    int
}

func (f *fakeDynamicDs) DeleteTempDsRecords(height int64) int {
	f.deletedFrom = height
	return f.toDelete
}

type fakeFinalized struct{ height int64 }

func (f *fakeFinalized) LatestFinalizedHeight() int64 { return f.height }

func TestReplayRejectsFinalizedHeightWithoutForce(t *testing.T) {
	svc := NewService(&fakeDispatcher{}, &fakeDynamicDs{}, &fakeFinalized{height: 100}, nil)
	_, err := svc.Replay(context.Background(), Request{FromHeight: 50})
	require.ErrorIs(t, err, ErrFinalizedHeight)
}

func TestReplayAllowsFinalizedHeightWithForce(t *testing.T) {
	disp := &fakeDispatcher{lastProcessed: 120}
	dyn := &fakeDynamicDs{toDelete: 2}
	svc := NewService(disp, dyn, &fakeFinalized{height: 100}, nil)

	result, err := svc.Replay(context.Background(), Request{FromHeight: 50, Force: true})
	require.NoError(t, err)
	assert.True(t, disp.flushed)
	assert.Equal(t, int64(50), disp.flushedTo)
	assert.Equal(t, int64(50), dyn.deletedFrom)
	assert.Equal(t, 2, result.DynamicDsRecordsDeleted)
	assert.Equal(t, int64(71), result.BlocksDiscarded) // 120 - 50 + 1
	assert.Equal(t, int64(49), result.NewWatermark)
}

func TestReplayDryRunDoesNotMutateState(t *testing.T) {
	disp := &fakeDispatcher{lastProcessed: 120}
	dyn := &fakeDynamicDs{toDelete: 2}
	svc := NewService(disp, dyn, &fakeFinalized{height: 10}, nil)

	result, err := svc.Replay(context.Background(), Request{FromHeight: 50, DryRun: true})
	require.NoError(t, err)
	assert.False(t, disp.flushed)
	assert.True(t, result.DryRun)
	assert.Equal(t, int64(71), result.BlocksDiscarded)
}

func TestReplayClampsNegativeDiscardToZero(t *testing.T) {
	disp := &fakeDispatcher{lastProcessed: 10}
	dyn := &fakeDynamicDs{}
	svc := NewService(disp, dyn, &fakeFinalized{height: 0}, nil)

	result, err := svc.Replay(context.Background(), Request{FromHeight: 50, Force: true})
	require.NoError(t, err)
	assert.Zero(t, result.BlocksDiscarded)
}
