// Package manifest parses the project manifest (spec.md §6): the YAML
// document declaring datasources, network config, and templates. Manifest
// parsing and versioning is otherwise an out-of-scope external collaborator
// (spec.md §1); this package implements only the load+validate entry point
// the engine core needs to bootstrap the Fetch Scheduler and Indexer.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/near-indexer/engine/internal/cronfilter"
	"github.com/near-indexer/engine/internal/engineerr"
	"github.com/near-indexer/engine/internal/model"
	"github.com/near-indexer/engine/internal/rpcadapter"
	"gopkg.in/yaml.v3"
)

// MinimumSpecVersion is the lowest accepted manifest specVersion
// (spec.md §6: "SpecVersions <1.0.0 are rejected").
const MinimumSpecVersion = "1.0.0"

type NetworkManifest struct {
	ChainID     string   `yaml:"chainId,omitempty"`
	GenesisHash string   `yaml:"genesisHash,omitempty"`
	Endpoint    Endpoint `yaml:"endpoint"`
	Dictionary  string   `yaml:"dictionary,omitempty"`
	BypassBlocks []int64 `yaml:"bypassBlocks,omitempty"`
}

// Endpoint accepts either a single endpoint string or a list (spec.md §6:
// "endpoint: string|string[]").
type Endpoint struct {
	Values []string
}

func (e *Endpoint) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		e.Values = []string{single}
		return nil
	}
	var multi []string
	if err := value.Decode(&multi); err != nil {
		return fmt.Errorf("network.endpoint: expected string or string list: %w", err)
	}
	e.Values = multi
	return nil
}

type RunnerManifest struct {
	Node struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"node"`
}

type SchemaManifest struct {
	File string `yaml:"file"`
}

type DataSourceManifest struct {
	Kind       string                 `yaml:"kind"`
	StartBlock int64                  `yaml:"startBlock"`
	Mapping    model.Mapping          `yaml:"mapping"`
	Processor  string                 `yaml:"processor,omitempty"`
}

// Manifest is the top-level parsed project manifest.
type Manifest struct {
	SpecVersion string               `yaml:"specVersion"`
	Name        string               `yaml:"name"`
	Version     string               `yaml:"version"`
	Schema      SchemaManifest       `yaml:"schema"`
	Network     NetworkManifest      `yaml:"network"`
	DataSources []DataSourceManifest `yaml:"dataSources"`
	Templates   []model.Template     `yaml:"templates,omitempty"`
	Runner      RunnerManifest       `yaml:"runner"`
}

// Datasources converts the manifest's declared data sources into the
// engine's runtime model, resolving each one's Flavor from whether a
// processor name is set (spec.md §3), and each handler's raw YAML filter
// value into the typed *model.BlockFilter/TransactionFilter/ActionFilter
// the filter engine, dictionary client, and scheduler expect.
func (m *Manifest) Datasources() ([]*model.Datasource, error) {
	out := make([]*model.Datasource, 0, len(m.DataSources))
	for i, ds := range m.DataSources {
		flavor := model.FlavorRuntime
		if ds.Processor != "" {
			flavor = model.FlavorCustom
		}
		handlers := make([]model.Handler, len(ds.Mapping.Handlers))
		for j, h := range ds.Mapping.Handlers {
			resolved, err := resolveHandlerFilter(h.Kind, h.Filter)
			if err != nil {
				return nil, engineerr.NewConfigError(
					fmt.Sprintf("dataSources[%d].mapping.handlers[%d].filter", i, j), err.Error())
			}
			h.Filter = resolved
			handlers[j] = h
		}
		out = append(out, &model.Datasource{
			Kind:       ds.Kind,
			Flavor:     flavor,
			StartBlock: ds.StartBlock,
			Mapping:    model.Mapping{File: ds.Mapping.File, Handlers: handlers},
			Processor:  ds.Processor,
		})
	}
	return out, nil
}

// resolveHandlerFilter converts a handler's raw YAML-decoded filter value
// (a map[string]interface{} for any mapping node) into the concrete typed
// filter struct matching kind. Custom-flavor datasources use processor-
// specific kind names that don't map onto the three base kinds; their
// filters are left in raw form and interpreted by the processor
// implementation itself (spec.md §3, §9).
func resolveHandlerFilter(kind string, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	var target interface{}
	switch model.HandlerKind(kind) {
	case model.HandlerKindBlock:
		target = &model.BlockFilter{}
	case model.HandlerKindTransaction:
		target = &model.TransactionFilter{}
	case model.HandlerKindAction:
		target = &model.ActionFilter{}
	default:
		return raw, nil
	}

	buf, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	if err := yaml.Unmarshal(buf, target); err != nil {
		return nil, fmt.Errorf("decode %s filter: %w", kind, err)
	}
	return target, nil
}

// CompileCronFilters resolves every Block handler's cron expression
// (spec.md §3, §4.3's "cron-augmented filter") into a compiled schedule
// anchored at the chain's actual block timestamp at the owning
// datasource's StartBlock. This is a network call, so it cannot live
// inside the pure Datasources conversion above; callers run it once at
// startup, after the chain client is ready and before the Fetch Scheduler
// starts its first cycle.
func CompileCronFilters(ctx context.Context, datasources []*model.Datasource, client rpcadapter.ChainClient) error {
	startTimestamps := make(map[int64]int64)
	for _, ds := range datasources {
		for _, h := range ds.Mapping.Handlers {
			bf, ok := h.Filter.(*model.BlockFilter)
			if !ok || bf == nil || bf.Timestamp == "" || bf.Cron != nil {
				continue
			}

			ts, cached := startTimestamps[ds.StartBlock]
			if !cached {
				raw, err := client.Block(ctx, rpcadapter.ByHeight(ds.StartBlock))
				if err != nil {
					return fmt.Errorf("manifest: fetch start block %d for cron anchor: %w", ds.StartBlock, err)
				}
				var block struct {
					Header struct {
						Timestamp int64 `json:"timestamp"`
					} `json:"header"`
				}
				if err := json.Unmarshal(raw, &block); err != nil {
					return fmt.Errorf("manifest: decode start block %d: %w", ds.StartBlock, err)
				}
				ts = block.Header.Timestamp
				startTimestamps[ds.StartBlock] = ts
			}

			cron, err := cronfilter.CompileCronFilter(bf.Timestamp, ts)
			if err != nil {
				return fmt.Errorf("manifest: compile cron filter %q: %w", bf.Timestamp, err)
			}
			bf.Cron = cron
		}
	}
	return nil
}

// Load reads and parses a manifest file, rejecting unsupported spec
// versions and structurally invalid documents (spec.md §6, §7 ConfigError).
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.NewConfigError("manifest.path", err.Error())
	}
	return Parse(raw)
}

// Parse parses manifest bytes directly (used by Load and by tests).
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, engineerr.NewConfigError("manifest", fmt.Sprintf("invalid YAML: %v", err))
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if compareSpecVersion(m.SpecVersion, MinimumSpecVersion) < 0 {
		return engineerr.NewConfigError("specVersion", fmt.Sprintf("%q is below minimum supported version %q", m.SpecVersion, MinimumSpecVersion))
	}
	if len(m.Network.Endpoint.Values) == 0 {
		return engineerr.NewConfigError("network.endpoint", "at least one endpoint is required")
	}
	if m.Network.ChainID == "" && m.Network.GenesisHash == "" {
		return engineerr.NewConfigError("network", "either chainId or genesisHash is required")
	}
	if len(m.DataSources) == 0 {
		return engineerr.NewConfigError("dataSources", "at least one datasource is required")
	}
	for i, ds := range m.DataSources {
		if ds.StartBlock < 0 {
			return engineerr.NewConfigError(fmt.Sprintf("dataSources[%d].startBlock", i), "must be non-negative")
		}
	}
	return nil
}

// compareSpecVersion compares two dotted-triple version strings
// numerically; returns <0, 0, >0 like strings.Compare.
func compareSpecVersion(a, b string) int {
	av, bv := parseVersion(a), parseVersion(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	var out [3]int
	var part, idx int
	for _, r := range v + "." {
		if r == '.' {
			if idx < 3 {
				out[idx] = part
			}
			idx++
			part = 0
			continue
		}
		if r >= '0' && r <= '9' {
			part = part*10 + int(r-'0')
		}
	}
	return out
}
