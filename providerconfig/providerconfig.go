// Package providerconfig loads the per-provider behavioral table of
// spec.md §6 (reasoning handling, strict tool-use contiguity, cache
// hints) from a YAML document, grounded on
// internal/repository/base/repository.go's afs+yaml.v3 Load pattern.
package providerconfig

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Entry is one row of spec.md §6's provider table.
type Entry struct {
	// Name is the provider prefix of a model string, e.g. "anthropic".
	Name string `yaml:"name"`

	// StripReasoning instructs the normalizer to drop Reasoning parts from
	// outbound history (openai row: reasoning is managed out-of-band via a
	// prior-response id instead).
	StripReasoning bool `yaml:"stripReasoning"`

	// Strict enables tool-use/tool-result contiguity splitting and the
	// dangling-tool-call validator (anthropic row).
	Strict bool `yaml:"strict"`

	// CacheHints enables marking the last message boundary with a cache
	// breakpoint.
	CacheHints bool `yaml:"cacheHints"`
}

// Table maps a provider name to its Entry.
type Table map[string]Entry

// Lookup returns the Entry for name, or a permissive zero-value Entry
// (no stripping, not strict, no cache hints) when name is unknown —
// matching the teacher's tolerant-on-unknown-provider posture elsewhere
// in this tree (e.g. genai/llm.Finder falling back rather than erroring).
func (t Table) Lookup(name string) Entry {
	if e, ok := t[name]; ok {
		return e
	}
	return Entry{Name: name}
}

// Default is the built-in table for spec.md §6's two documented
// providers, used when no override file is configured.
func Default() Table {
	return Table{
		"anthropic": {Name: "anthropic", Strict: true, CacheHints: true},
		"openai":    {Name: "openai", StripReasoning: true},
	}
}

// Load reads a YAML document (a list of Entry) from path via fs and
// returns it as a Table, falling back to nothing on a missing file —
// callers combine the result with Default() to keep the documented
// providers present unless explicitly overridden.
func Load(ctx context.Context, fs afs.Service, path string) (Table, error) {
	ok, err := fs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Table{}, nil
	}
	raw, err := fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("providerconfig: %s: %w", path, err)
	}
	table := make(Table, len(entries))
	for _, e := range entries {
		table[e.Name] = e
	}
	return table, nil
}

// Merge overlays override onto base, override entries winning by name.
func Merge(base, override Table) Table {
	out := make(Table, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
