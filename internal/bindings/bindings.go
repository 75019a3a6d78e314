// Package bindings holds the schema binding store: the versioned mapping from
// query intents and semantic parameter names onto physical tables and columns.
// Binding documents are externally maintained configuration, loaded at startup
// and hot-reloadable; a loaded snapshot is immutable and shared read-only
// across concurrent requests.
package bindings

import (
	"fmt"
	"sort"
	"strings"
)

// JoinRule describes one join edge an intent may require. When multiple
// candidate paths exist the first listed rule wins.
type JoinRule struct {
	LeftTable   string `yaml:"left_table"`
	RightTable  string `yaml:"right_table"`
	LeftColumn  string `yaml:"left_column"`
	RightColumn string `yaml:"right_column"`
}

// Binding maps one intent's semantic surface onto physical schema elements.
type Binding struct {
	Intent         string            `yaml:"-"`
	Table          string            `yaml:"table"`
	FieldMap       map[string]string `yaml:"field_map"`
	RequiredParams []string          `yaml:"required_params"`
	JoinRules      []JoinRule        `yaml:"join_rules"`
	DefaultColumns []string          `yaml:"default_columns"`
}

// Column resolves a semantic parameter name to its physical column.
func (b Binding) Column(semantic string) (string, bool) {
	column, ok := b.FieldMap[semantic]
	if !ok || strings.TrimSpace(column) == "" {
		return "", false
	}
	return column, true
}

// Tables returns the physical tables the binding touches: the base table plus
// any tables referenced by join rules, deduplicated, base table first.
func (b Binding) Tables() []string {
	seen := map[string]bool{b.Table: true}
	tables := []string{b.Table}
	for _, rule := range b.JoinRules {
		for _, table := range []string{rule.LeftTable, rule.RightTable} {
			if table == "" || seen[table] {
				continue
			}
			seen[table] = true
			tables = append(tables, table)
		}
	}
	return tables
}

func (b Binding) validate() error {
	if strings.TrimSpace(b.Table) == "" {
		return fmt.Errorf("intent %q: table is required", b.Intent)
	}
	if len(b.FieldMap) == 0 {
		return fmt.Errorf("intent %q: field_map is required", b.Intent)
	}
	for semantic, column := range b.FieldMap {
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("intent %q: field_map entry %q has empty column", b.Intent, semantic)
		}
	}
	for _, param := range b.RequiredParams {
		if _, ok := b.FieldMap[param]; !ok {
			return fmt.Errorf("intent %q: required param %q has no field_map entry", b.Intent, param)
		}
	}
	for i, rule := range b.JoinRules {
		if rule.LeftTable == "" || rule.RightTable == "" || rule.LeftColumn == "" || rule.RightColumn == "" {
			return fmt.Errorf("intent %q: join rule %d is incomplete", b.Intent, i)
		}
	}
	return nil
}

// Snapshot is one immutable version of the registry document. Readers hold the
// snapshot they started with; reloads never mutate a published snapshot.
type Snapshot struct {
	Version string
	intents map[string]Binding
}

// Lookup returns the binding for an intent.
func (s *Snapshot) Lookup(intent string) (Binding, bool) {
	binding, ok := s.intents[intent]
	return binding, ok
}

// Intents lists the supported intent names in sorted order.
func (s *Snapshot) Intents() []string {
	names := make([]string, 0, len(s.intents))
	for name := range s.intents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
