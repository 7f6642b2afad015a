// Package apipool implements the multi-endpoint connection pool (spec.md
// §4.2): init/probe/cross-validate, unsafeApi() failover with per-endpoint
// circuit breaking, and ApiConnected/ApiDisconnected events. Grounded on
// the teacher's internal/chain/ratelimit + internal/circuitbreaker
// composition (rate limiter wraps a breaker-protected adapter).
package apipool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/near-indexer/engine/internal/circuitbreaker"
	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/eventbus"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"golang.org/x/time/rate"
)

// NetworkMeta is recorded from the first endpoint to respond successfully
// and cross-checked against every subsequent endpoint (spec.md §4.2).
type NetworkMeta struct {
	Chain       string
	GenesisHash string
}

// DefaultMaxQuarantineAttempts is the breaker's default backoff ceiling
// (spec.md §4.2: "max attempts configurable, default 5").
const DefaultMaxQuarantineAttempts = 5

type member struct {
	adapter rpcadapter.ChainClient
	addr    string
	breaker *circuitbreaker.Breaker
	limiter *rate.Limiter
}

// Pool multiplexes multiple RPC endpoints.
type Pool struct {
	mu          sync.RWMutex
	members     []*member
	meta        *NetworkMeta
	bus         *eventbus.Bus
	logger      *slog.Logger
	declaredChainID     string
	declaredGenesisHash string
}

// Config configures Pool construction.
type Config struct {
	Endpoints           []string
	DeclaredChainID     string
	DeclaredGenesisHash string
	MaxQuarantineAttempts int
	RatePerSecond       float64
	AdapterFactory      func(endpoint string) rpcadapter.ChainClient
	Bus                 *eventbus.Bus
	Logger              *slog.Logger
}

func New(cfg Config) *Pool {
	if cfg.MaxQuarantineAttempts <= 0 {
		cfg.MaxQuarantineAttempts = DefaultMaxQuarantineAttempts
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AdapterFactory == nil {
		cfg.AdapterFactory = func(endpoint string) rpcadapter.ChainClient { return rpcadapter.New(endpoint) }
	}

	p := &Pool{
		bus:                 cfg.Bus,
		logger:              cfg.Logger.With("component", "apipool"),
		declaredChainID:     cfg.DeclaredChainID,
		declaredGenesisHash: cfg.DeclaredGenesisHash,
	}
	for _, addr := range cfg.Endpoints {
		p.members = append(p.members, &member{
			adapter: cfg.AdapterFactory(addr),
			addr:    addr,
			breaker: circuitbreaker.New(circuitbreaker.Config{MaxAttempts: cfg.MaxQuarantineAttempts}),
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1),
		})
	}
	return p
}

// Init probes every endpoint, records the pool's network identity from the
// first success, and fail-fasts on any subsequent disagreement (spec.md
// §4.2, steps 1-4).
func (p *Pool) Init(ctx context.Context) error {
	if len(p.members) == 0 {
		return engineerr.NewConfigError("endpoints", "at least one RPC endpoint is required")
	}

	var genesisHeight int64
	var primary *member
	for i, m := range p.members {
		status, err := m.adapter.Status(ctx)
		if err != nil {
			p.logger.Warn("endpoint probe failed", "endpoint", m.addr, "error", err)
			m.breaker.RecordFailure()
			continue
		}
		m.breaker.RecordSuccess()

		if p.meta == nil {
			p.meta = &NetworkMeta{Chain: status.ChainID, GenesisHash: status.GenesisHash}
			primary = m
			genesisHeight = 0 // NEAR genesis is always height 0 for this engine's purposes
			if err := p.checkDeclaredIdentity(m.addr, status); err != nil {
				return err
			}
			p.bus.Emit(eventbus.Event{Type: eventbus.EventApiConnected, Endpoint: m.addr})
			continue
		}

		if err := p.checkDeclaredIdentity(m.addr, status); err != nil {
			return err
		}

		genesisBlock, err := m.adapter.Block(ctx, rpcadapter.ByHeight(genesisHeight))
		if err != nil {
			p.logger.Warn("genesis cross-check fetch failed", "endpoint", m.addr, "error", err)
			m.breaker.RecordFailure()
			continue
		}
		firstGenesisBlock, err := primary.adapter.Block(ctx, rpcadapter.ByHeight(genesisHeight))
		if err != nil {
			return fmt.Errorf("fetch genesis block from primary endpoint: %w", err)
		}
		if !jsonHeadersAgree(firstGenesisBlock, genesisBlock) {
			return engineerr.NewChainMismatchError(m.addr, string(firstGenesisBlock), string(genesisBlock))
		}

		p.bus.Emit(eventbus.Event{Type: eventbus.EventApiConnected, Endpoint: m.addr})
		_ = i
	}

	if p.meta == nil {
		return engineerr.NewConfigError("endpoints", "no endpoint responded during init")
	}
	return nil
}

func (p *Pool) checkDeclaredIdentity(endpoint string, status *rpcadapter.StatusResult) error {
	if p.declaredChainID != "" && status.ChainID != p.declaredChainID {
		return engineerr.NewChainMismatchError(endpoint, p.declaredChainID, status.ChainID)
	}
	if p.declaredChainID == "" && p.declaredGenesisHash != "" && status.GenesisHash != p.declaredGenesisHash {
		return engineerr.NewChainMismatchError(endpoint, p.declaredGenesisHash, status.GenesisHash)
	}
	return nil
}

// jsonHeadersAgree compares two raw block JSON payloads for equality after
// decoding and re-encoding both, so whitespace and object key order do not
// matter; any other divergence between two payloads fetched by the same RPC
// method at the same height is treated as a consensus mismatch.
func jsonHeadersAgree(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	aj, _ := json.Marshal(av)
	bj, _ := json.Marshal(bv)
	return string(aj) == string(bj)
}

// NetworkMeta returns the pool's recorded chain identity.
func (p *Pool) NetworkMeta() NetworkMeta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.meta == nil {
		return NetworkMeta{}
	}
	return *p.meta
}

// UnsafeApi returns a healthy member's adapter for direct use. Named per
// spec.md §4.2 ("the pool exposes unsafeApi()") — callers needing a
// height-pinned, non-retainable view should wrap the result themselves
// (see rpcadapter.HeightPinnedView) rather than caching this return value.
func (p *Pool) UnsafeApi() (rpcadapter.ChainClient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, m := range p.members {
		if m.breaker.Allow() {
			return &quarantineAwareClient{member: m, bus: p.bus}, nil
		}
	}
	return nil, fmt.Errorf("apipool: no healthy endpoint available")
}

// Client returns a stable rpcadapter.ChainClient that transparently
// re-resolves a healthy member via UnsafeApi on every call, so long-lived
// holders (the Block Assembler, the Indexer's HeightPinnedView source) see
// pool failover without having to call UnsafeApi themselves each time.
func (p *Pool) Client() rpcadapter.ChainClient { return poolClient{pool: p} }

type poolClient struct{ pool *Pool }

func (c poolClient) Block(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.Block(ctx, id)
}

func (c poolClient) Chunk(ctx context.Context, hash string) (json.RawMessage, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.Chunk(ctx, hash)
}

func (c poolClient) TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.TxStatusReceipts(ctx, hash, signerID)
}

func (c poolClient) Status(ctx context.Context) (*rpcadapter.StatusResult, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.Status(ctx)
}

func (c poolClient) Validators(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.Validators(ctx, id)
}

func (c poolClient) AccessKeyChanges(ctx context.Context, accountIDs []string, id rpcadapter.BlockID) (json.RawMessage, error) {
	api, err := c.pool.UnsafeApi()
	if err != nil {
		return nil, err
	}
	return api.AccessKeyChanges(ctx, accountIDs, id)
}

// quarantineAwareClient wraps a member's adapter so every call result feeds
// back into that member's breaker and rate limiter.
type quarantineAwareClient struct {
	member *member
	bus    *eventbus.Bus
}

func (c *quarantineAwareClient) wait(ctx context.Context) error {
	return c.member.limiter.Wait(ctx)
}

func (c *quarantineAwareClient) record(err error) {
	if err != nil {
		before := c.member.breaker.State()
		c.member.breaker.RecordFailure()
		if before != c.member.breaker.State() {
			c.bus.Emit(eventbus.Event{Type: eventbus.EventApiDisconnected, Endpoint: c.member.addr})
		}
		return
	}
	before := c.member.breaker.State()
	c.member.breaker.RecordSuccess()
	if before != c.member.breaker.State() {
		c.bus.Emit(eventbus.Event{Type: eventbus.EventApiConnected, Endpoint: c.member.addr})
	}
}

func (c *quarantineAwareClient) Block(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.Block(ctx, id)
	c.record(err)
	return out, err
}

func (c *quarantineAwareClient) Chunk(ctx context.Context, hash string) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.Chunk(ctx, hash)
	c.record(err)
	return out, err
}

func (c *quarantineAwareClient) TxStatusReceipts(ctx context.Context, hash, signerID string) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.TxStatusReceipts(ctx, hash, signerID)
	c.record(err)
	return out, err
}

func (c *quarantineAwareClient) Status(ctx context.Context) (*rpcadapter.StatusResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.Status(ctx)
	c.record(err)
	return out, err
}

func (c *quarantineAwareClient) Validators(ctx context.Context, id rpcadapter.BlockID) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.Validators(ctx, id)
	c.record(err)
	return out, err
}

func (c *quarantineAwareClient) AccessKeyChanges(ctx context.Context, accountIDs []string, id rpcadapter.BlockID) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.member.adapter.AccessKeyChanges(ctx, accountIDs, id)
	c.record(err)
	return out, err
}

// HealthyCount returns the number of members currently allowed to serve
// requests (breaker not open).
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.members {
		if m.breaker.State() != circuitbreaker.StateOpen {
			n++
		}
	}
	return n
}
