// Package filterengine implements the pure, synchronous block/tx/action
// predicates of spec.md §4.3.
package filterengine

import (
	"log/slog"

	"github.com/near-indexer/engine/internal/model"
)

// FilterBlock passes if f is nil, or (modulo: height % f.Modulo == 0) AND
// (timestamp: the compiled cron filter matches, when present).
func FilterBlock(block *model.Block, f *model.BlockFilter, logger *slog.Logger) bool {
	if f == nil {
		return true
	}
	if f.Modulo > 0 && block.Header.Height%f.Modulo != 0 {
		return false
	}
	if f.Cron != nil {
		return f.Cron.Evaluate(block.Header.Timestamp, logger)
	}
	return true
}

// FilterTransaction matches on sender/receiver equality when the
// respective field is set on the filter.
//
// spec.md §9 flags that the core layer historically let this pass
// unconditionally, deferring sender/receiver filtering to the dictionary
// layer, and asks implementations to make the two paths symmetric. This
// resolves that open question in favor of symmetry: the in-process path
// now applies the same equality checks the Dictionary Client's query
// construction does (see internal/dictionary), so a runtime datasource
// behaves identically whether or not the dictionary happens to be in use.
func FilterTransaction(tx *model.Transaction, f *model.TransactionFilter) bool {
	if f == nil {
		return true
	}
	if f.Sender != "" && tx.SignerID != f.Sender {
		return false
	}
	if f.Receiver != "" && tx.ReceiverID != f.Receiver {
		return false
	}
	return true
}

// FilterAction matches on action type when set. ActionFilter.Action is
// reserved and never consulted (spec.md §9).
func FilterAction(a *model.Action, f *model.ActionFilter) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}

// FilterBlockAny applies the array-variant rule of spec.md §4.3: an
// absent or empty filter list passes the block unchanged; otherwise the
// block passes if any filter passes.
func FilterBlockAny(block *model.Block, filters []*model.BlockFilter, logger *slog.Logger) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if FilterBlock(block, f, logger) {
			return true
		}
	}
	return false
}

// FilterTransactionAny is the array variant of FilterTransaction.
func FilterTransactionAny(tx *model.Transaction, filters []*model.TransactionFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if FilterTransaction(tx, f) {
			return true
		}
	}
	return false
}

// FilterActionAny is the array variant of FilterAction.
func FilterActionAny(a *model.Action, filters []*model.ActionFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if FilterAction(a, f) {
			return true
		}
	}
	return false
}
