package workerpool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/indexer"
	"github.com/near-indexer/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssembler struct {
	unavailable map[int64]bool
}

func (f *fakeAssembler) Assemble(ctx context.Context, height int64) (*model.Block, error) {
	if f.unavailable[height] {
		return nil, engineerr.NewBlockUnavailableError(height)
	}
	return &model.Block{Header: model.Header{Height: height, Hash: "h"}}, nil
}

type fakeIndexer struct{}

func (fakeIndexer) ProcessBlock(ctx context.Context, block *model.Block) (*indexer.ProcessBlockResponse, error) {
	return &indexer.ProcessBlockResponse{
		Height:           block.Header.Height,
		BlockHash:        block.Header.Hash,
		DynamicDsCreated: []indexer.DynamicDsRequest{{TemplateName: "pool", Args: map[string]string{"a": "1"}}},
	}, nil
}

func TestServerFetchBlockReturnsMarshaledBlock(t *testing.T) {
	s := NewServer(&fakeAssembler{}, fakeIndexer{}, 2)
	resp, err := s.FetchBlock(context.Background(), &FetchBlockRequest{Height: 10})
	require.NoError(t, err)
	assert.False(t, resp.Unavailable)

	var block model.Block
	require.NoError(t, json.Unmarshal(resp.Block, &block))
	assert.Equal(t, int64(10), block.Header.Height)
}

func TestServerFetchBlockReportsUnavailable(t *testing.T) {
	s := NewServer(&fakeAssembler{unavailable: map[int64]bool{11: true}}, fakeIndexer{}, 2)
	resp, err := s.FetchBlock(context.Background(), &FetchBlockRequest{Height: 11})
	require.NoError(t, err)
	assert.True(t, resp.Unavailable)
}

func TestServerProcessBlockPropagatesDynamicDsCreated(t *testing.T) {
	s := NewServer(&fakeAssembler{}, fakeIndexer{}, 2)
	raw, err := json.Marshal(&model.Block{Header: model.Header{Height: 10, Hash: "h"}})
	require.NoError(t, err)

	resp, err := s.ProcessBlock(context.Background(), &ProcessBlockRequest{Height: 10, Block: raw})
	require.NoError(t, err)
	require.Len(t, resp.DynamicDsCreated, 1)
	assert.Equal(t, "pool", resp.DynamicDsCreated[0].TemplateName)
	assert.Equal(t, "1", resp.DynamicDsCreated[0].Args["a"])
}

func TestJSONCodecRoundTripsRequestPayloads(t *testing.T) {
	var codec jsonCodec
	req := &FetchBlockRequest{Height: 42}
	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var decoded FetchBlockRequest
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, int64(42), decoded.Height)
}

func TestPoolPickRotatesAcrossClients(t *testing.T) {
	p := &Pool{clients: []*WorkerClient{{addr: "a"}, {addr: "b"}, {addr: "c"}}}
	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		seen[p.pick().addr]++
	}
	assert.Equal(t, 3, seen["a"])
	assert.Equal(t, 3, seen["b"])
	assert.Equal(t, 3, seen["c"])
}
