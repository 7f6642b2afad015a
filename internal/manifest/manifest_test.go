package manifest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"github.com/near-indexer/engine/internal/rpcadapter/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const validManifest = `
specVersion: "1.0.0"
name: near-example
version: "0.1.0"
schema:
  file: ./schema.graphql
network:
  chainId: near-mainnet
  endpoint:
    - https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 1000
    mapping:
      file: ./mappings.js
      handlers:
        - kind: Block
          handler: handleBlock
runner:
  node:
    name: subql-node-near
    version: "3.0.0"
`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	require.NoError(t, err)
	assert.Equal(t, "near-example", m.Name)
	assert.Equal(t, []string{"https://rpc.mainnet.near.org"}, m.Network.Endpoint.Values)
	assert.Len(t, m.DataSources, 1)
}

func TestParseRejectsOldSpecVersion(t *testing.T) {
	doc := `
specVersion: "0.2.0"
network:
  chainId: near-mainnet
  endpoint: https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 0
    mapping:
      file: ./m.js
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specVersion")
}

func TestParseAcceptsSingleEndpointString(t *testing.T) {
	doc := `
specVersion: "1.0.0"
network:
  chainId: near-mainnet
  endpoint: https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 0
    mapping:
      file: ./m.js
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rpc.mainnet.near.org"}, m.Network.Endpoint.Values)
}

func TestParseRejectsMissingDataSources(t *testing.T) {
	doc := `
specVersion: "1.0.0"
network:
  chainId: near-mainnet
  endpoint: https://rpc.mainnet.near.org
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataSources")
}

func TestParseRejectsMissingChainIdentity(t *testing.T) {
	doc := `
specVersion: "1.0.0"
network:
  endpoint: https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 0
    mapping:
      file: ./m.js
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

const manifestWithFilters = `
specVersion: "1.0.0"
network:
  chainId: near-mainnet
  endpoint: https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 1000
    mapping:
      file: ./mappings.js
      handlers:
        - kind: Block
          handler: handleBlock
          filter:
            modulo: 5
        - kind: Transaction
          handler: handleTransaction
          filter:
            sender: alice.near
            receiver: bob.near
        - kind: Action
          handler: handleAction
          filter:
            type: FunctionCall
  - kind: Near/Runtime
    startBlock: 0
    processor: uniswap
    mapping:
      file: ./uniswap.js
      handlers:
        - kind: poolCreated
          handler: handlePoolCreated
          filter:
            poolId: "7"
`

func TestDatasourcesResolvesTypedFiltersForBaseHandlerKinds(t *testing.T) {
	m, err := Parse([]byte(manifestWithFilters))
	require.NoError(t, err)

	datasources, err := m.Datasources()
	require.NoError(t, err)
	require.Len(t, datasources, 2)

	runtime := datasources[0]
	require.Len(t, runtime.Mapping.Handlers, 3)

	bf, ok := runtime.Mapping.Handlers[0].Filter.(*model.BlockFilter)
	require.True(t, ok, "block handler filter should decode into *model.BlockFilter")
	assert.Equal(t, int64(5), bf.Modulo)

	tf, ok := runtime.Mapping.Handlers[1].Filter.(*model.TransactionFilter)
	require.True(t, ok, "transaction handler filter should decode into *model.TransactionFilter")
	assert.Equal(t, "alice.near", tf.Sender)
	assert.Equal(t, "bob.near", tf.Receiver)

	af, ok := runtime.Mapping.Handlers[2].Filter.(*model.ActionFilter)
	require.True(t, ok, "action handler filter should decode into *model.ActionFilter")
	assert.Equal(t, model.ActionType("FunctionCall"), af.Type)
}

func TestDatasourcesLeavesCustomHandlerFilterRaw(t *testing.T) {
	m, err := Parse([]byte(manifestWithFilters))
	require.NoError(t, err)

	datasources, err := m.Datasources()
	require.NoError(t, err)

	custom := datasources[1]
	require.Len(t, custom.Mapping.Handlers, 1)

	raw, ok := custom.Mapping.Handlers[0].Filter.(map[string]interface{})
	require.True(t, ok, "custom-kind handler filter should stay in raw decoded form")
	assert.Equal(t, "7", raw["poolId"])
}

func TestCompileCronFiltersAnchorsOnStartBlockTimestamp(t *testing.T) {
	doc := `
specVersion: "1.0.0"
network:
  chainId: near-mainnet
  endpoint: https://rpc.mainnet.near.org
dataSources:
  - kind: Near/Runtime
    startBlock: 1000
    mapping:
      file: ./mappings.js
      handlers:
        - kind: Block
          handler: handleBlock
          filter:
            timestamp: "0 0 * * *"
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	datasources, err := m.Datasources()
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	client := mocks.NewMockChainClient(ctrl)
	client.EXPECT().
		Block(gomock.Any(), rpcadapter.ByHeight(int64(1000))).
		Return(json.RawMessage(`{"header":{"height":1000,"timestamp":1700000000000000000}}`), nil)

	require.NoError(t, CompileCronFilters(context.Background(), datasources, client))

	bf, ok := datasources[0].Mapping.Handlers[0].Filter.(*model.BlockFilter)
	require.True(t, ok)
	require.NotNil(t, bf.Cron)
}
