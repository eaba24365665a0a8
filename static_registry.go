// static_registry.go: process-wide registry of statically linked plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "fmt"

// StaticPlugin is the registration node for a plugin compiled into the host
// binary. A static plugin package constructs one of these at init() time and
// hands it to ImportStaticPlugin; every manager created afterwards with a
// matching interface identifier picks it up.
//
// Nodes are linked into a process-global intrusive forward list. The next
// pointer doubles as the membership marker: nil means "not in any list", a
// self-pointer marks the end of the list. This keeps registration
// allocation-free and makes repeated imports of the same node a no-op.
type StaticPlugin struct {
	name            string
	pluginInterface string
	metadata        []byte
	instancer       Instancer
	initializer     func()
	finalizer       func()

	next *StaticPlugin
}

// NewStaticPlugin builds a registration node for a static plugin.
//
// The metadata blob holds the same INI-style text a dynamic plugin would
// ship in its sidecar file (depends, provides, [data], [configuration]);
// it is typically an embedded resource. The initializer and finalizer may
// be nil if the plugin has no global state to manage.
func NewStaticPlugin(name, pluginInterface string, metadata []byte, instancer Instancer, initializer, finalizer func()) *StaticPlugin {
	return &StaticPlugin{
		name:            name,
		pluginInterface: pluginInterface,
		metadata:        metadata,
		instancer:       instancer,
		initializer:     initializer,
		finalizer:       finalizer,
	}
}

// Name returns the canonical plugin name carried by the node.
func (p *StaticPlugin) Name() string { return p.name }

// Interface returns the interface identifier the plugin implements.
func (p *StaticPlugin) Interface() string { return p.pluginInterface }

// staticPluginsHead is the sole piece of process-wide mutable state. It is
// mutated only from init() functions and from explicit
// ImportStaticPlugin/EjectStaticPlugin calls, which the caller must
// serialize.
var staticPluginsHead *StaticPlugin

// ImportStaticPlugin registers a static plugin with the process-wide list.
//
// version must equal ABIVersion; a mismatch means the plugin was compiled
// against an incompatible copy of this library and is a programmer error,
// reported by panic so it surfaces during static initialization rather than
// at first use. Importing a node that is already registered is a no-op.
//
// The canonical call site is an init() function in the plugin package:
//
//	func init() {
//	    pluginhost.ImportStaticPlugin(pluginhost.ABIVersion, pluginhost.NewStaticPlugin(
//	        "Canary", animal.Interface, canaryConf, newCanary, nil, nil))
//	}
func ImportStaticPlugin(version int, plugin *StaticPlugin) {
	if version != ABIVersion {
		panic(fmt.Sprintf("pluginhost: wrong version of static plugin %s, got %d but expected %d",
			plugin.name, version, ABIVersion))
	}
	staticListInsert(&staticPluginsHead, plugin)
}

// EjectStaticPlugin removes a previously imported static plugin from the
// process-wide list. Managers that already adopted the plugin keep their
// record until they are closed; only future managers are affected. Ejecting
// a node that is not registered is a no-op.
func EjectStaticPlugin(version int, plugin *StaticPlugin) {
	if version != ABIVersion {
		panic(fmt.Sprintf("pluginhost: wrong version of static plugin %s, got %d but expected %d",
			plugin.name, version, ABIVersion))
	}
	staticListRemove(&staticPluginsHead, plugin)
}

// staticListInsert prepends node to the list. Inserting a node whose next
// pointer is already set is a no-op, so double registration cannot corrupt
// the list.
func staticListInsert(head **StaticPlugin, node *StaticPlugin) {
	if node.next != nil {
		return
	}
	if *head == nil {
		node.next = node // self-pointer marks the end of the list
	} else {
		node.next = *head
	}
	*head = node
}

// staticListRemove unlinks node from the list. Removing a node that is not
// in the list is a no-op.
func staticListRemove(head **StaticPlugin, node *StaticPlugin) {
	if node.next == nil {
		return
	}

	if *head == node {
		if node.next == node {
			*head = nil
		} else {
			*head = node.next
		}
		node.next = nil
		return
	}

	for it := *head; it != nil; it = staticListNext(it) {
		if it.next != node {
			continue
		}
		if node.next == node {
			it.next = it // new end of list
		} else {
			it.next = node.next
		}
		node.next = nil
		return
	}

	// Node carries a stale next pointer from a different list; leave it.
}

// staticListNext returns the successor of node, or nil at the end of the
// list.
func staticListNext(node *StaticPlugin) *StaticPlugin {
	if node.next == node {
		return nil
	}
	return node.next
}
