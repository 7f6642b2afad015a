// Package rpcadapter wraps the NEAR chain JSON-RPC endpoint with typed
// methods (spec.md §4.1), grounded on the teacher's internal/chain.ChainAdapter
// interface shape (a small, typed, chain-agnostic boundary translating
// transport errors into the engine's own error taxonomy).
package rpcadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/retry"
)

// Finality names the two chain-head notions the RPC accepts in place of a
// concrete block id (spec.md §6).
type Finality string

const (
	FinalityFinal      Finality = "final"
	FinalityOptimistic Finality = "optimistic"
)

// BlockID selects a NEAR block either by height/hash or by finality
// (spec.md §6: "{blockId: number|hash} | {finality: ...}").
type BlockID struct {
	Height   int64
	Hash     string
	Finality Finality
}

func ByHeight(h int64) BlockID       { return BlockID{Height: h} }
func ByHash(hash string) BlockID     { return BlockID{Hash: hash} }
func ByFinality(f Finality) BlockID  { return BlockID{Finality: f} }

func (b BlockID) params() map[string]interface{} {
	if b.Finality != "" {
		return map[string]interface{}{"finality": string(b.Finality)}
	}
	if b.Hash != "" {
		return map[string]interface{}{"block_id": b.Hash}
	}
	return map[string]interface{}{"block_id": b.Height}
}

// StatusResult is the chain's status() response, used for genesis/chain-id
// cross-validation in the API Pool (spec.md §4.2).
type StatusResult struct {
	ChainID     string `json:"chain_id"`
	GenesisHash string `json:"genesis_hash"`
	LatestBlockHeight int64 `json:"latest_block_height"`
}

// jsonRPCRequest/jsonRPCResponse model the JSON-RPC 2.0 envelope (spec.md §6).
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

// Adapter is a typed client for a single NEAR RPC endpoint.
type Adapter struct {
	endpoint    string
	httpClient  *http.Client
	maxAttempts int
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.httpClient.Timeout = d }
}

// WithMaxAttempts overrides the per-call retry budget (default 3).
func WithMaxAttempts(n int) Option {
	return func(a *Adapter) { a.maxAttempts = n }
}

// DefaultTimeout is the RPC call timeout absent an explicit override
// (spec.md §5: "configurable, default ~30s").
const DefaultTimeout = 30 * time.Second

// DefaultMaxAttempts is the per-call retry budget for transient failures.
const DefaultMaxAttempts = 3

func New(endpoint string, opts ...Option) *Adapter {
	a := &Adapter{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Endpoint() string { return a.endpoint }

// call performs a single JSON-RPC round trip, retrying transient
// (NetworkError) failures with exponential backoff per internal/retry's
// classification; RpcError rejections are terminal and returned immediately.
func (a *Adapter) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	return retry.WithBackoff(ctx, a.maxAttempts, 200*time.Millisecond, 5*time.Second, func(ctx context.Context) error {
		return a.doCall(ctx, method, params, out)
	})
}

func (a *Adapter) doCall(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: "dontcare", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return engineerr.NewNetworkError(method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return engineerr.NewNetworkError(method, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return engineerr.NewNetworkError(method, fmt.Errorf("decode response: %w", err))
	}
	if rpcResp.Error != nil {
		return engineerr.NewRpcError(rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return engineerr.NewNetworkError(method, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

// Block fetches a block by id or finality.
func (a *Adapter) Block(ctx context.Context, id BlockID) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.call(ctx, "block", id.params(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chunk fetches a chunk by hash.
func (a *Adapter) Chunk(ctx context.Context, hash string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.call(ctx, "chunk", map[string]string{"chunk_id": hash}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TxStatusReceipts fetches a transaction's outcome (gas_burnt, logs) by
// hash and signer id (spec.md §4.1, §4.4).
func (a *Adapter) TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.call(ctx, "EXPERIMENTAL_tx_status", []string{hash, signerID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches chain status, used by the API Pool for identity checks.
func (a *Adapter) Status(ctx context.Context) (*StatusResult, error) {
	var out StatusResult
	if err := a.call(ctx, "status", []interface{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validators fetches the validator set at a block (used by handler code,
// spec.md §4.1).
func (a *Adapter) Validators(ctx context.Context, id BlockID) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.call(ctx, "validators", id.params(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AccessKeyChanges fetches access key changes for a list of accounts at a
// block (used by handler code, spec.md §4.1).
func (a *Adapter) AccessKeyChanges(ctx context.Context, accountIDs []string, id BlockID) (json.RawMessage, error) {
	params := map[string]interface{}{"account_ids": accountIDs}
	for k, v := range id.params() {
		params[k] = v
	}
	var out json.RawMessage
	if err := a.call(ctx, "EXPERIMENTAL_changes", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
