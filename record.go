// record.go: per-plugin state tracked by a manager
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"time"

	timecache "github.com/agilira/go-timecache"
)

// pluginRecord is the central per-plugin entity. A manager owns one record
// per canonical plugin name; aliases reference records without owning them.
//
// State invariants:
//   - Loaded implies module and instancer are non-nil.
//   - Static implies staticNode is non-nil and instancer comes from it.
//   - NotLoaded and WrongMetadataFile imply module, instancer and finalizer
//     are all nil.
type pluginRecord struct {
	name     string
	state    LoadState
	metadata *PluginMetadata

	// path overrides the directory-derived module location when the record
	// was created by an explicit-path Load.
	path string

	module      Module
	instancer   Instancer
	initializer func()
	finalizer   func()
	staticNode  *StaticPlugin

	// instances holds non-owning backreferences to live plugin objects
	// created from this record. Instances remove themselves on Close.
	instances []Plugin

	lastTransition time.Time
}

// newStaticRecord builds a record for a statically linked plugin. The
// initializer is not run here; the manager runs it when it adopts the
// record.
func newStaticRecord(node *StaticPlugin, metadata *PluginMetadata) *pluginRecord {
	r := &pluginRecord{
		name:        node.name,
		metadata:    metadata,
		instancer:   node.instancer,
		initializer: node.initializer,
		finalizer:   node.finalizer,
		staticNode:  node,
	}
	r.setState(LoadStateStatic)
	return r
}

// newDynamicRecord builds a placeholder record for a module file discovered
// on disk. metadataErr reflects the sidecar parse outcome: a nil error
// yields NotLoaded, anything else WrongMetadataFile with empty metadata.
func newDynamicRecord(name string, metadata *PluginMetadata, metadataErr error) *pluginRecord {
	r := &pluginRecord{name: name, metadata: metadata}
	if metadataErr != nil {
		r.metadata = emptyMetadata(name)
		r.setState(LoadStateWrongMetadataFile)
	} else {
		r.setState(LoadStateNotLoaded)
	}
	return r
}

// setState transitions the record and stamps the transition time. Only
// persistent states may be stored.
func (r *pluginRecord) setState(state LoadState) {
	r.state = state
	r.lastTransition = timecache.CachedTime()
}

// addInstance registers a live instance with the record. Registering the
// same instance twice is a programmer error.
func (r *pluginRecord) addInstance(p Plugin) {
	id := p.base()
	for _, existing := range r.instances {
		if existing.base() == id {
			panic("pluginhost: instance of plugin " + r.name + " registered twice")
		}
	}
	r.instances = append(r.instances, p)
}

// removeInstance drops the instance identified by state from the record.
// Called from PluginBase.Close; removing an instance that is already gone
// is a no-op so Close stays idempotent.
func (r *pluginRecord) removeInstance(state *pluginBaseState) {
	for i, p := range r.instances {
		if p.base() == state {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			return
		}
	}
}

// deletableInstances reports whether every live instance agrees to be
// destroyed by the manager.
func (r *pluginRecord) deletableInstances() bool {
	for _, p := range r.instances {
		if !p.CanBeDeleted() {
			return false
		}
	}
	return true
}

// closeInstances destroys all live instances. Each Close removes its entry
// from r.instances, so iteration goes backwards over a snapshot of the
// current slice.
func (r *pluginRecord) closeInstances() {
	for i := len(r.instances) - 1; i >= 0; i-- {
		_ = r.instances[i].Close()
	}
}
