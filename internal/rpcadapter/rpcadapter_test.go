package rpcadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Result: json.RawMessage(`{"header":{"height":10}}`)})
	}))
	defer srv.Close()

	a := New(srv.URL)
	out, err := a.Block(context.Background(), ByHeight(10))
	require.NoError(t, err)
	assert.JSONEq(t, `{"header":{"height":10}}`, string(out))
}

func TestCallReturnsRpcErrorWithoutRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Error: &jsonRPCError{Code: -32000, Message: "boom"}})
	}))
	defer srv.Close()

	a := New(srv.URL, WithMaxAttempts(3))
	_, err := a.Status(context.Background())
	require.Error(t, err)
	var rpcErr *engineerr.RpcError
	assert.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCallRetriesNetworkErrorThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			// Simulate a transient failure by closing the connection mid-response.
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{Result: json.RawMessage(`{"chain_id":"mainnet"}`)})
	}))
	defer srv.Close()

	a := New(srv.URL, WithMaxAttempts(3))
	status, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mainnet", status.ChainID)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(2))
}
