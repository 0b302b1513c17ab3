package batchclient

import "strings"

// StatusAliasTable maps scheduler-specific state strings onto the
// orchestrator's own vocabulary (e.g. "completing" -> "running"),
// since different scheduler versions and sites spell the same
// lifecycle stage differently. It is loadable from an operator-
// supplied mapping so a site can add aliases without a code change.
type StatusAliasTable struct {
	exact  map[string]string
	prefix []prefixAlias
}

type prefixAlias struct {
	prefix string
	target string
}

// NewStatusAliasTable builds a table from exact and prefix mappings.
// Prefix keys end in "*", e.g. "cancelled*" matches "cancelled" and
// "cancelled by user".
func NewStatusAliasTable(mapping map[string]string) StatusAliasTable {
	t := StatusAliasTable{exact: map[string]string{}}
	for k, v := range mapping {
		if strings.HasSuffix(k, "*") {
			t.prefix = append(t.prefix, prefixAlias{prefix: strings.TrimSuffix(k, "*"), target: v})
			continue
		}
		t.exact[k] = v
	}
	return t
}

// DefaultStatusAliasTable covers the common scheduler state spellings
// observed across sites, normalized to the terms spec §4.2 uses.
func DefaultStatusAliasTable() StatusAliasTable {
	return NewStatusAliasTable(map[string]string{
		"pending":     "pending",
		"configuring": "pending",
		"running":     "running",
		"completing":  "running",
		"completed":   "completed",
		"cancelled*":  "cancelled",
		"failed":      "failed",
		"timeout":     "failed",
		"node_fail":   "failed",
		"out_of_memory": "failed",
		"preempted":   "failed",
		"suspended":   "pending",
	})
}

// Normalize returns the alias target for a lowercased scheduler state,
// trying an exact match before a prefix match, and falling back to the
// original state when no alias is configured.
func (t StatusAliasTable) Normalize(state string) string {
	if target, ok := t.exact[state]; ok {
		return target
	}
	for _, p := range t.prefix {
		if strings.HasPrefix(state, p.prefix) {
			return p.target
		}
	}
	return state
}
