// module_loader.go: abstraction over the OS dynamic module loader
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "plugin"

// Module is an opened dynamic module. Symbols resolved through Lookup are
// plain Go values; the manager casts them to the entry-point signatures of
// the plugin binary contract.
type Module interface {
	// Lookup resolves an exported symbol by name.
	Lookup(symbol string) (any, error)
}

// ModuleLoader translates the manager's load/close requests into the host's
// native module loader. The default implementation wraps the standard
// library plugin package; tests and exotic platforms may substitute their
// own through WithModuleLoader.
type ModuleLoader interface {
	// Load opens the module at path and makes its symbols available.
	Load(path string) (Module, error)

	// Close releases the module handle. A non-nil error surfaces to the
	// caller of Unload as LoadStateUnloadFailed; the record still
	// transitions to NotLoaded.
	Close(module Module) error
}

// nativeLoader is the production ModuleLoader built on plugin.Open.
type nativeLoader struct{}

// NewNativeLoader returns the ModuleLoader backed by the Go runtime's
// native module support. On platforms without plugin support, Load reports
// the runtime's error.
func NewNativeLoader() ModuleLoader { return nativeLoader{} }

func (nativeLoader) Load(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return nativeModule{p: p}, nil
}

// Close drops the handle. The Go runtime keeps the module image mapped for
// the life of the process, so there is nothing to unmap; the manager's
// bookkeeping (usedBy edges, finalizer, state reset) is unaffected.
func (nativeLoader) Close(Module) error { return nil }

type nativeModule struct {
	p *plugin.Plugin
}

func (m nativeModule) Lookup(symbol string) (any, error) {
	s, err := m.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return s, nil
}
