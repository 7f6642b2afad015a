package model

import "github.com/near-indexer/engine/internal/cronfilter"

// BlockFilter matches blocks on a modulo and/or a cron timestamp schedule
// (spec.md §3, §4.3). Timestamp is the raw cron expression as declared in
// the manifest; Cron holds the compiled form.
type BlockFilter struct {
	Modulo    int64  `yaml:"modulo,omitempty" json:"modulo,omitempty"`
	Timestamp string `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`

	// Compiled lazily by the project loader (spec.md §3, "Cron-augmented
	// filter"); nil until cronfilter.CompileCronFilter has run against this
	// filter.
	Cron *cronfilter.CronFilter `yaml:"-" json:"-"`
}

// TransactionFilter matches transactions on sender and/or receiver.
type TransactionFilter struct {
	Sender   string `yaml:"sender,omitempty" json:"sender,omitempty"`
	Receiver string `yaml:"receiver,omitempty" json:"receiver,omitempty"`
}

// ActionFilter matches actions on type. The Action field is accepted for
// forward compatibility but never consulted by the filter engine — treated
// as reserved/no-op per spec.md §9's open question, resolved as "no-op."
type ActionFilter struct {
	Type   ActionType `yaml:"type" json:"type"`
	Action string     `yaml:"action,omitempty" json:"action,omitempty"` // reserved, unused
}
