package rpcadapter

import (
	"context"
	"encoding/json"
)

// ChainClient is the subset of Adapter the height-pinned view and the
// engine's internal components depend on; satisfied by *Adapter and by
// test doubles.
type ChainClient interface {
	Block(ctx context.Context, id BlockID) (json.RawMessage, error)
	Chunk(ctx context.Context, hash string) (json.RawMessage, error)
	TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error)
	Status(ctx context.Context) (*StatusResult, error)
	Validators(ctx context.Context, id BlockID) (json.RawMessage, error)
	AccessKeyChanges(ctx context.Context, accountIDs []string, id BlockID) (json.RawMessage, error)
}

// HeightPinnedView wraps an underlying ChainClient and substitutes a fixed
// height wherever a call would otherwise accept a block reference
// (spec.md §4.1). It is handed to user handlers for the duration of a
// single block-indexing step and must not be retained past that call —
// this type carries no lifetime guard itself (the sandboxed handler
// runtime that enforces non-retention is out of scope, spec.md §1), but
// every accessor is built from a single `height` field captured at
// construction, so retaining a stale view simply replays stale data rather
// than corrupting shared state.
type HeightPinnedView struct {
	underlying ChainClient
	height     int64
}

// NewHeightPinnedView pins `underlying` to `height`.
func NewHeightPinnedView(underlying ChainClient, height int64) *HeightPinnedView {
	return &HeightPinnedView{underlying: underlying, height: height}
}

func (v *HeightPinnedView) Height() int64 { return v.height }

func (v *HeightPinnedView) Block(ctx context.Context) (json.RawMessage, error) {
	return v.underlying.Block(ctx, ByHeight(v.height))
}

func (v *HeightPinnedView) Chunk(ctx context.Context, hash string) (json.RawMessage, error) {
	return v.underlying.Chunk(ctx, hash)
}

func (v *HeightPinnedView) TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error) {
	return v.underlying.TxStatusReceipts(ctx, hash, signerID)
}

func (v *HeightPinnedView) Status(ctx context.Context) (*StatusResult, error) {
	return v.underlying.Status(ctx)
}

func (v *HeightPinnedView) Validators(ctx context.Context) (json.RawMessage, error) {
	return v.underlying.Validators(ctx, ByHeight(v.height))
}

func (v *HeightPinnedView) AccessKeyChanges(ctx context.Context, accountIDs []string) (json.RawMessage, error) {
	return v.underlying.AccessKeyChanges(ctx, accountIDs, ByHeight(v.height))
}
