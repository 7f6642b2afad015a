package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkErrorUnwrap(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := NewNetworkError("block", base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "block")
}

func TestHandlerErrorUnwrap(t *testing.T) {
	base := errors.New("store write failed")
	err := NewHandlerError("handleTransfer", 1024, base)

	require.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "1024")
	assert.Contains(t, err.Error(), "handleTransfer")
}

func TestChainMismatchError(t *testing.T) {
	err := NewChainMismatchError("https://rpc-2", "0xAAA", "0xBBB")
	assert.Equal(t, `chain mismatch at https://rpc-2: expected 0xAAA, got 0xBBB`, err.Error())
}

func TestDictionaryErrorReasons(t *testing.T) {
	genesisErr := NewDictionaryError(DictionaryReasonGenesisMismatch, "genesis disagreement")
	lagErr := NewDictionaryError(DictionaryReasonLag, "behind requested start")

	assert.Equal(t, DictionaryReasonGenesisMismatch, genesisErr.Reason)
	assert.Equal(t, DictionaryReasonLag, lagErr.Reason)
}

func TestInvalidAction(t *testing.T) {
	err := NewInvalidAction("Teleport")
	assert.Contains(t, err.Error(), "Teleport")
}
