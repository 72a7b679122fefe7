package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// The lifecycle interfaces below are all optional. A module opts into a
// phase by implementing it; LoadModule and App check with type
// assertions. Full order across the process:
//
//	New → Configure → Provision → Validate → Start → (Reload)* → Stop

// Configurable receives the module's raw YAML section from the config
// file, before Provision. A module absent from the config is never
// instantiated, so Configure always has a section to decode (possibly
// empty, as in "storage.sqlite: {}").
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner runs after Configure with the module-scoped AppContext.
// This is where defaults are applied and shared services are registered
// or resolved. Storage modules open their database here so the store
// service exists before any later-phase module looks it up.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator verifies the configured state after Provision. It must not
// have side effects; a validation failure unloads the app before
// anything has started.
type Validator interface {
	Validate() error
}

// Starter begins background work: listeners, pollers, API handshakes.
// Start runs after every module has provisioned and validated, which is
// why sinks resolve the dispatcher here rather than in Provision.
type Starter interface {
	Start() error
}

// Stopper releases what Start and Provision acquired. Stop runs in
// reverse load order, bounded by the context deadline, and must
// tolerate being called when Start never ran.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader applies a changed configuration without a restart. The
// context carries the fresh module sections; a module that cannot apply
// the change returns an error and keeps running on its old config.
type Reloader interface {
	Reload(ctx *AppContext) error
}
