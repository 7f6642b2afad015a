package model

// HandlerKind names the base shape a handler is invoked with: the raw
// item it filters/transforms (spec.md §3).
type HandlerKind string

const (
	HandlerKindBlock       HandlerKind = "Block"
	HandlerKindTransaction HandlerKind = "Transaction"
	HandlerKindAction      HandlerKind = "Action"
)

// Handler binds a user mapping function (identified by name; resolution
// into actual sandboxed code is out of scope per spec.md §1) to a kind and
// an optional filter.
type Handler struct {
	Kind    string      `yaml:"kind" json:"kind"` // base kind, or a custom kind name for Custom datasources
	Handler string      `yaml:"handler" json:"handler"`
	Filter  interface{} `yaml:"filter,omitempty" json:"filter,omitempty"` // *BlockFilter | *TransactionFilter | *ActionFilter
}

// DatasourceFlavor distinguishes runtime datasources (filtered directly by
// the Filter Engine) from custom ones (delegated to a DatasourceProcessor).
type DatasourceFlavor string

const (
	FlavorRuntime DatasourceFlavor = "runtime"
	FlavorCustom  DatasourceFlavor = "custom"
)

// Mapping names the handler file (out-of-scope sandbox detail) and lists
// the handlers bound to this datasource.
type Mapping struct {
	File     string    `yaml:"file" json:"file"`
	Handlers []Handler `yaml:"handlers" json:"handlers"`
}

// Datasource is a declarative binding of handlers to filters, active from
// StartBlock onward (spec.md §3).
type Datasource struct {
	Kind       string           `yaml:"kind" json:"kind"`
	Flavor     DatasourceFlavor `yaml:"-" json:"-"` // resolved at load time
	StartBlock int64            `yaml:"startBlock" json:"startBlock"`
	Mapping    Mapping          `yaml:"mapping" json:"mapping"`
	Processor  string           `yaml:"processor,omitempty" json:"processor,omitempty"` // custom processor name, if Flavor==Custom
}

// DynamicDatasource is a Datasource materialized at runtime from a
// template, carrying the template name it was created from (spec.md §3).
type DynamicDatasource struct {
	Datasource
	Name            string            `json:"name"`
	TemplateArgs    map[string]string `json:"templateArgs"`
	CreatedAtHeight int64             `json:"createdAtHeight"`
}

// DatasourceProcessor is the capability trait a custom datasource
// delegates to for filter validation, dictionary query synthesis, and
// transformation (spec.md §3, §9). Implementations live outside this
// engine core (plugin boundary); the engine only depends on this
// interface.
type DatasourceProcessor interface {
	// Validate checks a custom datasource's declared filters are well-formed.
	Validate(ds *Datasource) error

	// DictionaryQuery builds a dictionary query entry for a handler filter,
	// or returns (nil, false) to signal the Dictionary Client should fall
	// back to the base-filter construction (spec.md §4.5).
	DictionaryQuery(filter interface{}, ds *Datasource) (*DictionaryQueryEntry, bool)

	// HandlerProcessors maps a custom handler kind to its resolution info.
	HandlerProcessors() map[string]HandlerProcessor

	// FilterProcessor applies any additional, processor-specific filtering
	// on top of the base Filter Engine result.
	FilterProcessor(kind string, input interface{}, filter interface{}, ds *Datasource) (bool, error)

	// Transformer maps a filtered input to zero or more derived inputs
	// passed to the user handler (the v1.0.0 fan-out shape). A nil slice
	// makes the Indexer pass the untransformed input; there is no separate
	// single-value (v0.0.0) transformer form.
	Transformer(kind string, input interface{}, ds *Datasource) ([]interface{}, error)
}

// HandlerProcessor describes how a custom handler kind maps back onto one
// of the three base kinds for filtering purposes (spec.md §4.8 step 2).
type HandlerProcessor struct {
	BaseHandlerKind HandlerKind
}

// Template is the blueprint a dynamic datasource is materialized from
// (spec.md §6, manifest `templates`).
type Template struct {
	Name      string  `yaml:"name" json:"name"`
	Kind      string  `yaml:"kind" json:"kind"`
	Mapping   Mapping `yaml:"mapping" json:"mapping"`
	Processor string  `yaml:"processor,omitempty" json:"processor,omitempty"`
}
