// registration.go: the contract between the runtime and a plugin binary
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

// ABIVersion is the compatibility constant baked into both the host and
// every plugin binary. Incrementing it retires all existing plugin
// binaries: dynamic modules reporting a different value are refused with
// LoadStateWrongPluginVersion, static imports with a different value panic
// during initialization.
const ABIVersion = 4

// Entry-point symbols a dynamic plugin module must export. The manager
// resolves all five before accepting a module; a missing symbol is
// LoadStateLoadFailed.
const (
	// PluginVersionSymbol names a func() int returning ABIVersion as
	// compiled into the plugin.
	PluginVersionSymbol = "PluginVersion"

	// PluginInterfaceSymbol names a func() string returning the interface
	// identifier the plugin implements.
	PluginInterfaceSymbol = "PluginInterface"

	// PluginInitializerSymbol names a func() called once after the module
	// is accepted, before the plugin becomes Loaded.
	PluginInitializerSymbol = "PluginInitializer"

	// PluginFinalizerSymbol names a func() called once during Unload,
	// before the module is closed.
	PluginFinalizerSymbol = "PluginFinalizer"

	// PluginInstancerSymbol names an Instancer producing fresh instances
	// of the plugin's concrete type.
	PluginInstancerSymbol = "PluginInstancer"
)

// A compliant dynamic plugin is a main package built with
// -buildmode=plugin that exports the five symbols above:
//
//	package main
//
//	import "github.com/agilira/go-pluginhost"
//
//	func PluginVersion() int        { return pluginhost.ABIVersion }
//	func PluginInterface() string   { return animal.Interface }
//	func PluginInitializer()        {}
//	func PluginFinalizer()          {}
//	func PluginInstancer(m *pluginhost.Manager, name string) (pluginhost.Plugin, error) {
//	    return &Dog{PluginBase: pluginhost.NewPluginBase(m, name)}, nil
//	}
//
// A static plugin instead registers a node from init(); see
// ImportStaticPlugin.

// resolveEntryPoints pulls the five entry points out of an opened module.
// All symbols are resolved before any is invoked so a half-compliant module
// is rejected without side effects.
type entryPoints struct {
	version     func() int
	iface       func() string
	initializer func()
	finalizer   func()
	instancer   Instancer
}

func resolveEntryPoints(module Module) (entryPoints, string, error) {
	var eps entryPoints

	sym, err := module.Lookup(PluginVersionSymbol)
	if err != nil {
		return eps, PluginVersionSymbol, err
	}
	version, ok := sym.(func() int)
	if !ok {
		return eps, PluginVersionSymbol, NewEntryPointTypeError(PluginVersionSymbol)
	}

	sym, err = module.Lookup(PluginInterfaceSymbol)
	if err != nil {
		return eps, PluginInterfaceSymbol, err
	}
	iface, ok := sym.(func() string)
	if !ok {
		return eps, PluginInterfaceSymbol, NewEntryPointTypeError(PluginInterfaceSymbol)
	}

	sym, err = module.Lookup(PluginInitializerSymbol)
	if err != nil {
		return eps, PluginInitializerSymbol, err
	}
	initializer, ok := sym.(func())
	if !ok {
		return eps, PluginInitializerSymbol, NewEntryPointTypeError(PluginInitializerSymbol)
	}

	sym, err = module.Lookup(PluginFinalizerSymbol)
	if err != nil {
		return eps, PluginFinalizerSymbol, err
	}
	finalizer, ok := sym.(func())
	if !ok {
		return eps, PluginFinalizerSymbol, NewEntryPointTypeError(PluginFinalizerSymbol)
	}

	sym, err = module.Lookup(PluginInstancerSymbol)
	if err != nil {
		return eps, PluginInstancerSymbol, err
	}
	instancer, ok := sym.(func(*Manager, string) (Plugin, error))
	if !ok {
		return eps, PluginInstancerSymbol, NewEntryPointTypeError(PluginInstancerSymbol)
	}

	eps = entryPoints{
		version:     version,
		iface:       iface,
		initializer: initializer,
		finalizer:   finalizer,
		instancer:   instancer,
	}
	return eps, "", nil
}
