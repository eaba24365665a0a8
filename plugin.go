// plugin.go: base contract shared by every plugin implementation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

// Plugin is the contract every plugin instance satisfies. Concrete plugin
// types obtain it by embedding PluginBase, which also ties the instance to
// the record it was created from; the unexported method makes embedding
// mandatory.
//
// A plugin interface in the sense of this library is a Go interface that
// embeds Plugin and adds the domain methods, together with a unique
// versioned identifier string:
//
//	const AnimalInterface = "example.Animal/1.0"
//
//	type Animal interface {
//	    pluginhost.Plugin
//	    Sound() string
//	}
type Plugin interface {
	// Name returns the canonical name of the plugin this instance was
	// created from, or "" for a standalone instance.
	Name() string

	// CanBeDeleted reports whether the manager may destroy this instance
	// to satisfy an Unload call. The default is false; plugins whose
	// instances hold no external state commonly override it to return
	// true.
	CanBeDeleted() bool

	// Close releases the instance and removes it from its record's live
	// instance list. Implementations overriding Close must call the
	// embedded PluginBase.Close.
	Close() error

	base() *pluginBaseState
}

// Instancer creates a fresh plugin instance. Dynamic plugin modules export
// one under the PluginInstancerSymbol name; static plugins carry one in
// their registration node. The manager invokes it with the plugin's
// canonical name regardless of the alias used for lookup.
type Instancer func(manager *Manager, plugin string) (Plugin, error)

// pluginBaseState carries the identity of a managed instance. It is split
// from PluginBase so the registration bookkeeping can hold a stable pointer
// even though PluginBase is embedded by value.
type pluginBaseState struct {
	manager       *Manager
	record        *pluginRecord
	name          string
	metadata      *PluginMetadata
	configuration *ConfigurationGroup
}

// PluginBase is the mandatory base of every plugin implementation. A
// manager-driven instance is created inside an Instancer with
// NewPluginBase; the zero value is a standalone instance with no manager,
// no metadata and no configuration.
//
// PluginBase values must not be copied once the instance is registered;
// share the outer plugin by pointer instead.
type PluginBase struct {
	state *pluginBaseState
}

// NewPluginBase ties a new instance to manager and the record plugin
// resolves to. It is meant to be called from an Instancer with the
// arguments the Instancer received.
//
// Calling it with a name the manager does not know is a programmer error
// and panics: an Instancer only ever runs for a plugin the manager resolved
// first.
func NewPluginBase(manager *Manager, plugin string) PluginBase {
	record := manager.findWithAlias(plugin)
	if record == nil {
		panic("pluginhost: attempt to construct an instance of plugin " + plugin +
			" not known to the given manager")
	}
	return PluginBase{state: &pluginBaseState{
		manager:       manager,
		record:        record,
		name:          record.metadata.Name(),
		metadata:      record.metadata,
		configuration: record.metadata.Configuration().Clone(),
	}}
}

// Name returns the canonical name of the plugin, or "" for a standalone
// instance.
func (b *PluginBase) Name() string {
	if b.state == nil {
		return ""
	}
	return b.state.name
}

// Manager returns the owning manager, or nil for a standalone instance.
func (b *PluginBase) Manager() *Manager {
	if b.state == nil {
		return nil
	}
	return b.state.manager
}

// Metadata returns the metadata of the plugin this instance was created
// from, or nil for a standalone instance.
func (b *PluginBase) Metadata() *PluginMetadata {
	if b.state == nil {
		return nil
	}
	return b.state.metadata
}

// Configuration returns this instance's private copy of the plugin's
// [configuration] group. The instance may mutate it freely without
// affecting the record or other instances. Nil for a standalone instance.
func (b *PluginBase) Configuration() *ConfigurationGroup {
	if b.state == nil {
		return nil
	}
	return b.state.configuration
}

// CanBeDeleted implements Plugin. The base refuses deletion; override in
// the concrete plugin type to opt in to automatic destruction on Unload.
func (b *PluginBase) CanBeDeleted() bool { return false }

// Close removes the instance from its record's live instance list. Safe to
// call on a standalone instance and idempotent.
func (b *PluginBase) Close() error {
	if b.state == nil || b.state.manager == nil {
		return nil
	}
	b.state.record.removeInstance(b.state)
	b.state.manager = nil
	return nil
}

func (b *PluginBase) base() *pluginBaseState {
	if b.state == nil {
		// Standalone instances share no state; hand out a unique identity
		// so registration asserts still work.
		b.state = &pluginBaseState{}
	}
	return b.state
}
