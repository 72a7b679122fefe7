package config

import (
	"slices"
	"strings"
)

// classRank buckets module namespaces into load phases. Storage goes
// first so every later module can resolve its store service, providers
// and sinks follow, and serving surfaces (gateway, MCP) come last so
// they never accept traffic before the things they expose exist. Stop
// runs in reverse, draining the surfaces before the store closes.
func classRank(id string) int {
	switch {
	case strings.HasPrefix(id, "storage."):
		return 0
	case strings.HasPrefix(id, "provider."):
		return 1
	case strings.HasPrefix(id, "notify."):
		return 2
	default:
		return 3
	}
}

// Resolve returns the configured module IDs in deterministic load
// order: phased by classRank, alphabetical within a phase.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if ra, rb := classRank(a), classRank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return ids
}
