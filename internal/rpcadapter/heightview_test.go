package rpcadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	lastBlockID BlockID
}

func (c *recordingClient) Block(ctx context.Context, id BlockID) (json.RawMessage, error) {
	c.lastBlockID = id
	return json.RawMessage(`{}`), nil
}
func (c *recordingClient) Chunk(ctx context.Context, hash string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (c *recordingClient) TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (c *recordingClient) Status(ctx context.Context) (*StatusResult, error) { return &StatusResult{}, nil }
func (c *recordingClient) Validators(ctx context.Context, id BlockID) (json.RawMessage, error) {
	c.lastBlockID = id
	return json.RawMessage(`{}`), nil
}
func (c *recordingClient) AccessKeyChanges(ctx context.Context, accountIDs []string, id BlockID) (json.RawMessage, error) {
	c.lastBlockID = id
	return json.RawMessage(`{}`), nil
}

func TestHeightPinnedViewSubstitutesHeight(t *testing.T) {
	client := &recordingClient{}
	view := NewHeightPinnedView(client, 12345)

	_, err := view.Block(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), client.lastBlockID.Height)

	_, err = view.Validators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12345), client.lastBlockID.Height)

	assert.Equal(t, int64(12345), view.Height())
}
