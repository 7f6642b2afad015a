package dictionary

import (
	"testing"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueriesAbandonsOnModulolessBlockHandler(t *testing.T) {
	ds := &model.Datasource{
		Mapping: model.Mapping{Handlers: []model.Handler{
			{Kind: "Block", Handler: "h1", Filter: &model.BlockFilter{}},
		}},
	}
	_, ok := BuildQueries([]*model.Datasource{ds}, nil)
	assert.False(t, ok)
}

func TestBuildQueriesModuloBlockHandlerContributesNoEntry(t *testing.T) {
	ds := &model.Datasource{
		Mapping: model.Mapping{Handlers: []model.Handler{
			{Kind: "Block", Handler: "h1", Filter: &model.BlockFilter{Modulo: 10}},
		}},
	}
	entries, ok := BuildQueries([]*model.Datasource{ds}, nil)
	require.True(t, ok)
	assert.Empty(t, entries)
}

func TestBuildQueriesTransactionFilterEmitsConditions(t *testing.T) {
	ds := &model.Datasource{
		Mapping: model.Mapping{Handlers: []model.Handler{
			{Kind: "Transaction", Handler: "h1", Filter: &model.TransactionFilter{Sender: "alice.near", Receiver: "bob.near"}},
		}},
	}
	entries, ok := BuildQueries([]*model.Datasource{ds}, nil)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "transactions", entries[0].Entity)
	assert.Len(t, entries[0].Conditions, 2)
}

func TestBuildQueriesActionFilterEmitsTypeCondition(t *testing.T) {
	ds := &model.Datasource{
		Mapping: model.Mapping{Handlers: []model.Handler{
			{Kind: "Action", Handler: "h1", Filter: &model.ActionFilter{Type: model.ActionTransfer}},
		}},
	}
	entries, ok := BuildQueries([]*model.Datasource{ds}, nil)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "actions", entries[0].Entity)
	assert.Equal(t, "type", entries[0].Conditions[0].Field)
	assert.Equal(t, "Transfer", entries[0].Conditions[0].Value)
}

func TestBuildQueriesDedupesByEntityAndSortedConditions(t *testing.T) {
	ds1 := &model.Datasource{Mapping: model.Mapping{Handlers: []model.Handler{
		{Kind: "Transaction", Filter: &model.TransactionFilter{Sender: "a", Receiver: "b"}},
	}}}
	ds2 := &model.Datasource{Mapping: model.Mapping{Handlers: []model.Handler{
		{Kind: "Transaction", Filter: &model.TransactionFilter{Receiver: "b", Sender: "a"}},
	}}}
	entries, ok := BuildQueries([]*model.Datasource{ds1, ds2}, nil)
	require.True(t, ok)
	assert.Len(t, entries, 1)
}

func TestValidateRejectsGenesisMismatch(t *testing.T) {
	c := New(Config{GenesisHash: "G1"})
	resp := &model.DictionaryResponse{Metadata: model.DictionaryMetadata{GenesisHash: "G2", LastProcessedHeight: 100}}
	err := c.Validate(resp, 10)
	require.Error(t, err)
	var dictErr *engineerr.DictionaryError
	require.ErrorAs(t, err, &dictErr)
	assert.Equal(t, engineerr.DictionaryReasonGenesisMismatch, dictErr.Reason)
	assert.True(t, c.Disabled())
}

func TestValidateRejectsLag(t *testing.T) {
	c := New(Config{GenesisHash: "G1"})
	resp := &model.DictionaryResponse{Metadata: model.DictionaryMetadata{GenesisHash: "G1", LastProcessedHeight: 5}}
	err := c.Validate(resp, 10)
	require.Error(t, err)
	var dictErr *engineerr.DictionaryError
	require.ErrorAs(t, err, &dictErr)
	assert.Equal(t, engineerr.DictionaryReasonLag, dictErr.Reason)
	assert.False(t, c.Disabled())
}

func TestValidatePasses(t *testing.T) {
	c := New(Config{GenesisHash: "G1"})
	resp := &model.DictionaryResponse{Metadata: model.DictionaryMetadata{GenesisHash: "G1", LastProcessedHeight: 100}}
	assert.NoError(t, c.Validate(resp, 10))
}
