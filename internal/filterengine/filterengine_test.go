package filterengine

import (
	"testing"

	"github.com/near-indexer/engine/internal/model"
	"github.com/stretchr/testify/assert"
)

func block(height int64) *model.Block {
	return &model.Block{Header: model.Header{Height: height}}
}

func TestFilterBlockNilPasses(t *testing.T) {
	assert.True(t, FilterBlock(block(101), nil, nil))
}

func TestFilterBlockModulo(t *testing.T) {
	f := &model.BlockFilter{Modulo: 100}
	assert.True(t, FilterBlock(block(1000), f, nil))
	assert.False(t, FilterBlock(block(1050), f, nil))
}

func TestFilterTransactionSymmetricWithDictionary(t *testing.T) {
	tx := &model.Transaction{SignerID: "alice.near", ReceiverID: "bob.near"}

	assert.True(t, FilterTransaction(tx, nil))
	assert.True(t, FilterTransaction(tx, &model.TransactionFilter{Sender: "alice.near"}))
	assert.False(t, FilterTransaction(tx, &model.TransactionFilter{Sender: "carol.near"}))
	assert.True(t, FilterTransaction(tx, &model.TransactionFilter{Receiver: "bob.near"}))
	assert.False(t, FilterTransaction(tx, &model.TransactionFilter{Sender: "alice.near", Receiver: "carol.near"}))
}

func TestFilterActionByType(t *testing.T) {
	a := &model.Action{Type: model.ActionTransfer}
	assert.True(t, FilterAction(a, nil))
	assert.True(t, FilterAction(a, &model.ActionFilter{Type: model.ActionTransfer}))
	assert.False(t, FilterAction(a, &model.ActionFilter{Type: model.ActionStake}))
}

func TestFilterActionIgnoresReservedActionField(t *testing.T) {
	a := &model.Action{Type: model.ActionTransfer}
	f := &model.ActionFilter{Type: model.ActionTransfer, Action: "anything-goes-here"}
	assert.True(t, FilterAction(a, f))
}

func TestFilterBlockAnyEmptyPassesUnchanged(t *testing.T) {
	assert.True(t, FilterBlockAny(block(7), nil, nil))
	assert.True(t, FilterBlockAny(block(7), []*model.BlockFilter{}, nil))
}

func TestFilterBlockAnyMatchesIfAnyPasses(t *testing.T) {
	filters := []*model.BlockFilter{{Modulo: 10}, {Modulo: 7}}
	assert.True(t, FilterBlockAny(block(14), filters, nil))
	assert.True(t, FilterBlockAny(block(20), filters, nil))
	assert.False(t, FilterBlockAny(block(13), filters, nil))
}
