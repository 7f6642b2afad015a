// Package indexer implements the Indexer (spec.md §4.8): per-block
// datasource/handler resolution, base-filter application, custom-datasource
// processor dispatch, and transformer fan-out. Grounded
// on the teacher's internal/pipeline/ingester.Ingester for its
// span-per-phase, single-writer processing shape, generalized from
// balance-event aggregation to declarative handler dispatch since this
// engine's unit of work is "one block through N datasource handlers"
// rather than "one batch through a fixed DB write pipeline".
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/filterengine"
	"github.com/near-indexer/engine/internal/metrics"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"github.com/near-indexer/engine/internal/tracing"
	"go.opentelemetry.io/otel/codes"
)

// DynamicDsRequest is a handler-requested datasource materialization,
// collected into a ProcessBlockResponse for the Dynamic DS Manager to act on.
type DynamicDsRequest struct {
	TemplateName string
	Args         map[string]string
}

// ProcessBlockResponse aggregates the side effects of indexing one block
// (spec.md §4.8 step 6).
type ProcessBlockResponse struct {
	Height             int64
	BlockHash          string
	DynamicDsCreated   []DynamicDsRequest
	ReindexBlockHeight *int64
}

// HandlerFunc is the sandboxed user mapping function's signature as seen by
// the engine core; the actual sandbox/runtime that resolves a named handler
// to executable code is out of scope (spec.md §1). Implementations receive
// the transformed input and a height-pinned API view, and return any
// requested side effects.
type HandlerFunc func(ctx context.Context, input interface{}, view *rpcadapter.HeightPinnedView) (*HandlerResult, error)

// HandlerResult carries a single handler invocation's side effects.
type HandlerResult struct {
	DynamicDsCreated []DynamicDsRequest
}

// DatasourceProvider resolves the active datasource set for a given height
// (spec.md §4.8 step 1: static datasources plus dynamic ones with
// startBlock <= height). Satisfied by internal/dynamicds.Manager.
type DatasourceProvider interface {
	GetAllDataSources(height int64) []*model.Datasource
}

// DynamicDsManager materializes a handler-requested dynamic datasource as
// soon as the handler that requested it returns, so the next block's
// DatasourceProvider.GetAllDataSources call already sees it (spec.md §4.9
// step 3 happens synchronously within handler processing; the Block
// Dispatcher's OnDynamicDsCreated callback only signals the *resync point*
// afterward). Satisfied by internal/dynamicds.Manager.
type DynamicDsManager interface {
	CreateDynamicDatasource(templateName string, args map[string]string, atHeight int64) (*model.DynamicDatasource, error)
}

// Config configures an Indexer.
type Config struct {
	ChainID    string
	Handlers   map[string]HandlerFunc // handler name -> implementation
	Processors map[string]model.DatasourceProcessor
	Provider   DatasourceProvider
	DynamicDs  DynamicDsManager // optional; nil disables dynamic ds materialization
	APIClient  rpcadapter.ChainClient
	Logger     *slog.Logger
}

// Indexer resolves and invokes handlers for each fetched block.
type Indexer struct {
	cfg Config
}

func New(cfg Config) *Indexer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handlers == nil {
		cfg.Handlers = map[string]HandlerFunc{}
	}
	return &Indexer{cfg: cfg}
}

// ProcessBlock runs every matching handler across every active datasource
// against block, in datasource-then-handler declaration order, and
// aggregates the resulting side effects (spec.md §4.8).
func (ix *Indexer) ProcessBlock(ctx context.Context, block *model.Block) (*ProcessBlockResponse, error) {
	ctx, span := tracing.Tracer("indexer").Start(ctx, "indexer.process_block")
	defer span.End()
	start := time.Now()

	view := rpcadapter.NewHeightPinnedView(ix.cfg.APIClient, block.Header.Height)
	resp := &ProcessBlockResponse{Height: block.Header.Height, BlockHash: block.Header.Hash}

	datasources := ix.cfg.Provider.GetAllDataSources(block.Header.Height)
	for _, ds := range datasources {
		for _, h := range ds.Mapping.Handlers {
			if err := ix.runHandler(ctx, ds, h, block, view, resp); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				metrics.IndexerHandlerErrors.WithLabelValues("near", "mainnet").Inc()
				return nil, err
			}
		}
	}

	metrics.IndexerHandlersInvoked.WithLabelValues("near", "mainnet").Add(0) // per-invocation increments happen in runHandler
	ix.cfg.Logger.Info("block indexed",
		"height", block.Header.Height,
		"hash", block.Header.Hash,
		"duration_ms", time.Since(start).Milliseconds(),
		"dynamic_ds_created", len(resp.DynamicDsCreated),
	)
	return resp, nil
}

// runHandler resolves the handler's base kind (step 2), applies the base
// filter and any processor filter (step 3), transforms the input (step 4),
// and invokes the handler for every matching item (steps 5-6).
func (ix *Indexer) runHandler(ctx context.Context, ds *model.Datasource, h model.Handler, block *model.Block, view *rpcadapter.HeightPinnedView, resp *ProcessBlockResponse) error {
	baseKind, proc := ix.resolveBaseKind(ds, h)

	switch baseKind {
	case model.HandlerKindBlock:
		bf, _ := h.Filter.(*model.BlockFilter)
		if !filterengine.FilterBlock(block, bf, ix.cfg.Logger) {
			return nil
		}
		return ix.dispatchOne(ctx, ds, h, proc, block, view, resp)

	case model.HandlerKindTransaction:
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			tf, _ := h.Filter.(*model.TransactionFilter)
			if !filterengine.FilterTransaction(tx, tf) {
				continue
			}
			if err := ix.dispatchOne(ctx, ds, h, proc, tx, view, resp); err != nil {
				return err
			}
		}
		return nil

	case model.HandlerKindAction:
		for i := range block.Actions {
			a := &block.Actions[i]
			af, _ := h.Filter.(*model.ActionFilter)
			if !filterengine.FilterAction(a, af) {
				continue
			}
			if err := ix.dispatchOne(ctx, ds, h, proc, a, view, resp); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

// resolveBaseKind implements spec.md §4.8 step 2: runtime datasources use
// their handler's kind directly; custom datasources resolve through the
// processor's HandlerProcessors map.
func (ix *Indexer) resolveBaseKind(ds *model.Datasource, h model.Handler) (model.HandlerKind, model.DatasourceProcessor) {
	if ds.Flavor != model.FlavorCustom {
		return model.HandlerKind(h.Kind), nil
	}
	proc, ok := ix.cfg.Processors[ds.Processor]
	if !ok {
		return model.HandlerKind(h.Kind), nil
	}
	hp, ok := proc.HandlerProcessors()[h.Kind]
	if !ok {
		return model.HandlerKind(h.Kind), proc
	}
	return hp.BaseHandlerKind, proc
}

// dispatchOne applies any processor-specific filter, transforms the input,
// and invokes the user handler for every resulting value (spec.md §4.8
// steps 3-6).
func (ix *Indexer) dispatchOne(ctx context.Context, ds *model.Datasource, h model.Handler, proc model.DatasourceProcessor, input interface{}, view *rpcadapter.HeightPinnedView, resp *ProcessBlockResponse) error {
	if proc != nil {
		ok, err := proc.FilterProcessor(h.Kind, input, h.Filter, ds)
		if err != nil {
			return engineerr.NewHandlerError(h.Handler, view.Height(), fmt.Errorf("processor filter: %w", err))
		}
		if !ok {
			return nil
		}
	}

	transformed := []interface{}{input}
	if proc != nil {
		out, err := proc.Transformer(h.Kind, input, ds)
		if err != nil {
			return engineerr.NewHandlerError(h.Handler, view.Height(), fmt.Errorf("transform: %w", err))
		}
		// Transformers return a list (the v1.0.0 fan-out shape); a nil
		// slice from a no-op transformer falls back to the untransformed
		// input. There is no single-value (v0.0.0) transformer form.
		if out != nil {
			transformed = out
		}
	}

	for _, item := range transformed {
		fn, ok := ix.cfg.Handlers[h.Handler]
		if !ok {
			return engineerr.NewHandlerError(h.Handler, view.Height(), fmt.Errorf("no handler registered"))
		}

		metrics.IndexerHandlersInvoked.WithLabelValues("near", "mainnet").Inc()
		result, err := fn(ctx, item, view)
		if err != nil {
			return engineerr.NewHandlerError(h.Handler, view.Height(), err)
		}
		if result != nil {
			for _, req := range result.DynamicDsCreated {
				if ix.cfg.DynamicDs != nil {
					if _, err := ix.cfg.DynamicDs.CreateDynamicDatasource(req.TemplateName, req.Args, view.Height()); err != nil {
						return engineerr.NewHandlerError(h.Handler, view.Height(), fmt.Errorf("create dynamic datasource %q: %w", req.TemplateName, err))
					}
				}
			}
			resp.DynamicDsCreated = append(resp.DynamicDsCreated, result.DynamicDsCreated...)
		}
	}
	return nil
}
