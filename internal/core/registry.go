package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// The process-global module registry. Every compiled-in module
// registers itself here from init(); the config then selects which
// registered modules actually load.
var (
	modulesMu sync.RWMutex
	modules   = make(map[string]ModuleInfo)
)

// RegisterModule records a module type under its ID. It instantiates
// the given module once just to read its ModuleInfo; the instance is
// discarded. Panics on a duplicate or malformed registration, since
// those are programming errors in an init() and cannot be handled.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	id := string(info.ID)
	if _, exists := modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	modules[id] = info
}

// GetModule looks up a registered module by ID.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[id]
	return info, ok
}

// GetModules returns every registered module, sorted by ID.
func GetModules() []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	result := make([]ModuleInfo, 0, len(modules))
	for _, info := range modules {
		result = append(result, info)
	}
	return sortByID(result)
}

// GetModulesByNamespace returns the registered modules in one namespace,
// sorted by ID. The namespace is the segment before the first dot, so
// "storage" selects "storage.sqlite" and "storage.postgres".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."

	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var result []ModuleInfo
	for id, info := range modules {
		if strings.HasPrefix(id, prefix) {
			result = append(result, info)
		}
	}
	return sortByID(result)
}

func sortByID(infos []ModuleInfo) []ModuleInfo {
	slices.SortFunc(infos, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]ModuleInfo)
}
