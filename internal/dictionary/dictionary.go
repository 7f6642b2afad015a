// Package dictionary implements the Dictionary Client (spec.md §4.5): query
// construction from datasource handler filters, paginated
// scopedDictionaryEntries execution, and response metadata validation.
// Grounded on the teacher's internal/pipeline/coordinator.Coordinator for
// the "build a query set from watched state, dedupe, execute" shape, and on
// internal/store's repository-client pattern for the optional go-redis
// response cache.
package dictionary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/metrics"
	"github.com/near-indexer/engine/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxQuerySize bounds the [start, start+N) window a single
// dictionary query covers (spec.md §4.6 references DICTIONARY_MAX_QUERY_SIZE).
const DefaultMaxQuerySize = 10_000

// Client queries an external dictionary service for block candidates
// matching the active datasource filters.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	cache       *redis.Client
	cacheTTL    time.Duration
	genesisHash string

	disabledForSession bool
}

// Config configures Client construction.
type Config struct {
	Endpoint    string
	HTTPClient  *http.Client
	Cache       *redis.Client // optional; nil disables caching
	CacheTTL    time.Duration
	GenesisHash string
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		httpClient:  cfg.HTTPClient,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		genesisHash: cfg.GenesisHash,
	}
}

// Disabled reports whether a prior genesis-mismatch response disabled the
// dictionary for the rest of this process's lifetime (spec.md §4.5).
func (c *Client) Disabled() bool { return c.disabledForSession }

// BuildQueries constructs deduplicated dictionary query entries from a set
// of active datasources (spec.md §4.5's per-kind query construction rules).
// Returns (nil, false) if any block handler across the datasources has no
// modulo — per spec, that abandons the dictionary scan entirely.
func BuildQueries(datasources []*model.Datasource, processors map[string]model.DatasourceProcessor) ([]model.DictionaryQueryEntry, bool) {
	var entries []model.DictionaryQueryEntry

	for _, ds := range datasources {
		for _, h := range ds.Mapping.Handlers {
			entry, ok := buildEntryForHandler(ds, h, processors)
			if !ok {
				return nil, false
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
	}

	return dedupeEntries(entries), true
}

func buildEntryForHandler(ds *model.Datasource, h model.Handler, processors map[string]model.DatasourceProcessor) (*model.DictionaryQueryEntry, bool) {
	if ds.Flavor == model.FlavorCustom {
		if proc, ok := processors[ds.Processor]; ok {
			if entry, handled := proc.DictionaryQuery(h.Filter, ds); handled {
				return entry, true
			}
			// processor declined: fall back to base-filter construction below.
		}
	}

	switch model.HandlerKind(h.Kind) {
	case model.HandlerKindBlock:
		bf, _ := h.Filter.(*model.BlockFilter)
		if bf == nil || bf.Modulo == 0 {
			// A block handler with no modulo abandons the dictionary scan
			// entirely (spec.md §4.5).
			return nil, false
		}
		return nil, true // modulo-only block handlers contribute no query entry

	case model.HandlerKindTransaction:
		tf, _ := h.Filter.(*model.TransactionFilter)
		if tf == nil {
			return nil, true
		}
		var conditions []model.DictionaryCondition
		if tf.Sender != "" {
			conditions = append(conditions, model.DictionaryCondition{Field: "sender", Value: tf.Sender, Matcher: "equalTo"})
		}
		if tf.Receiver != "" {
			conditions = append(conditions, model.DictionaryCondition{Field: "receiver", Value: tf.Receiver, Matcher: "equalTo"})
		}
		if len(conditions) == 0 {
			return nil, true
		}
		return &model.DictionaryQueryEntry{Entity: "transactions", Conditions: conditions}, true

	case model.HandlerKindAction:
		af, _ := h.Filter.(*model.ActionFilter)
		if af == nil || af.Type == "" {
			return nil, true
		}
		return &model.DictionaryQueryEntry{
			Entity:     "actions",
			Conditions: []model.DictionaryCondition{{Field: "type", Value: string(af.Type), Matcher: "equalTo"}},
		}, true

	default:
		return nil, true
	}
}

// dedupeEntries removes duplicate entries by (entity, sorted-conditions) per
// spec.md §4.5.
func dedupeEntries(entries []model.DictionaryQueryEntry) []model.DictionaryQueryEntry {
	seen := make(map[string]struct{}, len(entries))
	var out []model.DictionaryQueryEntry
	for _, e := range entries {
		key := dedupeKey(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

func dedupeKey(e model.DictionaryQueryEntry) string {
	conds := append([]model.DictionaryCondition(nil), e.Conditions...)
	sort.Slice(conds, func(i, j int) bool {
		if conds[i].Field != conds[j].Field {
			return conds[i].Field < conds[j].Field
		}
		return conds[i].Value < conds[j].Value
	})
	var sb strings.Builder
	sb.WriteString(e.Entity)
	for _, c := range conds {
		sb.WriteByte('|')
		sb.WriteString(c.Field)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// ScopedDictionaryEntries executes a paginated dictionary query over
// [start, end) limited to limit results, applying the response cache when
// configured (spec.md §4.5(b)).
func (c *Client) ScopedDictionaryEntries(ctx context.Context, queries []model.DictionaryQueryEntry, start, end int64, limit int) (*model.DictionaryResponse, error) {
	cacheKey := c.buildCacheKey(queries, start, end, limit)

	if c.cache != nil && cacheKey != "" {
		if cached, err := c.cache.Get(ctx, cacheKey).Result(); err == nil {
			var resp model.DictionaryResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				return &resp, nil
			}
		}
	}

	metrics.DictionaryQueriesTotal.WithLabelValues("near", "mainnet").Inc()

	resp, err := c.executeQuery(ctx, queries, start, end, limit)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && cacheKey != "" {
		if encoded, err := json.Marshal(resp); err == nil {
			c.cache.Set(ctx, cacheKey, encoded, c.cacheTTL)
		}
	}
	return resp, nil
}

func (c *Client) buildCacheKey(queries []model.DictionaryQueryEntry, start, end int64, limit int) string {
	if c.endpoint == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("near_indexer:dict:")
	sb.WriteString(strconv.FormatInt(start, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(end, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(limit))
	for _, q := range queries {
		sb.WriteByte(':')
		sb.WriteString(dedupeKey(q))
	}
	return sb.String()
}

type graphQLQueryBody struct {
	Queries []model.DictionaryQueryEntry `json:"queries"`
	Start   int64                        `json:"start"`
	End     int64                        `json:"end"`
	Limit   int                          `json:"limit"`
}

func (c *Client) executeQuery(ctx context.Context, queries []model.DictionaryQueryEntry, start, end int64, limit int) (*model.DictionaryResponse, error) {
	body, err := json.Marshal(graphQLQueryBody{Queries: queries, Start: start, End: end, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("dictionary: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, engineerr.NewNetworkError("dictionary_query", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, engineerr.NewNetworkError("dictionary_query", err)
	}
	defer resp.Body.Close()

	var out model.DictionaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, engineerr.NewNetworkError("dictionary_query", fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// Validate checks a dictionary response's metadata (spec.md §4.5):
// a genesis-hash disagreement disables the dictionary for the rest of the
// session; a lastProcessedHeight lagging requestedStart only skips this
// cycle.
func (c *Client) Validate(resp *model.DictionaryResponse, requestedStart int64) error {
	if c.genesisHash != "" && resp.Metadata.GenesisHash != "" && resp.Metadata.GenesisHash != c.genesisHash {
		c.disabledForSession = true
		metrics.DictionaryValidationFailures.WithLabelValues("near", "mainnet").Inc()
		return engineerr.NewDictionaryError(engineerr.DictionaryReasonGenesisMismatch,
			fmt.Sprintf("dictionary genesis %q disagrees with pool genesis %q", resp.Metadata.GenesisHash, c.genesisHash))
	}
	if resp.Metadata.LastProcessedHeight < requestedStart {
		metrics.DictionaryValidationFailures.WithLabelValues("near", "mainnet").Inc()
		return engineerr.NewDictionaryError(engineerr.DictionaryReasonLag,
			fmt.Sprintf("dictionary lastProcessedHeight %d < requested start %d", resp.Metadata.LastProcessedHeight, requestedStart))
	}
	return nil
}
