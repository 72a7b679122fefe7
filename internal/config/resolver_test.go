package config

import (
	"slices"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestResolveOrdersByPhase(t *testing.T) {
	t.Parallel()

	cfg := &Config{Modules: map[string]yaml.Node{
		"gateway.http":    {},
		"mcp.server":      {},
		"notify.webhook":  {},
		"notify.telegram": {},
		"provider.google": {},
		"storage.sqlite":  {},
	}}

	want := []string{
		"storage.sqlite",
		"provider.google",
		"notify.telegram",
		"notify.webhook",
		"gateway.http",
		"mcp.server",
	}
	if got := Resolve(cfg); !slices.Equal(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
}

func TestResolveEmpty(t *testing.T) {
	t.Parallel()

	if got := Resolve(&Config{}); len(got) != 0 {
		t.Errorf("Resolve() = %v, want empty", got)
	}
}
