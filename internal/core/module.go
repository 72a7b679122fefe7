package core

// ModuleID uniquely identifies a module. IDs are namespaced with dots,
// e.g. "storage.sqlite" or "notify.telegram"; the namespace groups
// interchangeable implementations of the same concern.
type ModuleID string

// ModuleInfo describes a registered module type.
type ModuleInfo struct {
	// ID is the unique, namespaced identifier.
	ID ModuleID

	// New returns a fresh, unconfigured instance of the module.
	// It must never return nil.
	New func() Module
}

// Module is the minimal interface all modules implement. Modules opt into
// lifecycle phases by additionally implementing Configurable, Provisioner,
// Validator, Starter, Stopper, or Reloader.
type Module interface {
	ModuleInfo() ModuleInfo
}
