// loadstate.go: plugin load-state taxonomy
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import "strings"

// LoadState describes where a plugin sits in its lifecycle, or what just
// happened to it during a Load or Unload call.
//
// The type is a bit-flag set so callers can test membership in a group of
// states with a single mask:
//
//	if manager.LoadState("Dog")&(LoadStateLoaded|LoadStateStatic) != 0 {
//	    // plugin code is available, instantiation will succeed
//	}
//
// Persistent states (stored on a plugin record): LoadStateStatic,
// LoadStateNotLoaded, LoadStateLoaded, LoadStateWrongMetadataFile.
//
// Transient states (only ever returned from Load/Unload, never stored):
// LoadStateNotFound, LoadStateWrongPluginVersion,
// LoadStateWrongInterfaceVersion, LoadStateUnresolvedDependency,
// LoadStateLoadFailed, LoadStateUnloadFailed, LoadStateRequired,
// LoadStateUsed.
type LoadState uint16

const (
	// LoadStateNotFound means no plugin with the given name or alias is
	// known to the manager.
	LoadStateNotFound LoadState = 1 << iota

	// LoadStateWrongPluginVersion means the module reported an ABI version
	// different from ABIVersion. The module was closed again.
	LoadStateWrongPluginVersion

	// LoadStateWrongInterfaceVersion means the module reported an interface
	// identifier different from the manager's. The module was closed again.
	LoadStateWrongInterfaceVersion

	// LoadStateWrongMetadataFile means the sidecar metadata file is missing
	// or unparseable. The plugin cannot be loaded until the directory is
	// rescanned with a valid file in place.
	LoadStateWrongMetadataFile

	// LoadStateNotLoaded means the plugin was discovered but its module is
	// not currently loaded.
	LoadStateNotLoaded

	// LoadStateUnresolvedDependency means a plugin listed in depends could
	// not be found or loaded, in this manager or any registered external
	// manager.
	LoadStateUnresolvedDependency

	// LoadStateLoadFailed means the module could not be opened or one of
	// the required entry points could not be resolved.
	LoadStateLoadFailed

	// LoadStateLoaded means the module is open and the plugin is ready to
	// be instantiated.
	LoadStateLoaded

	// LoadStateUnloadFailed means the module could not be closed. The
	// record is nevertheless reset to NotLoaded.
	LoadStateUnloadFailed

	// LoadStateStatic means the plugin is compiled into the host and is
	// always available. Static plugins cannot be unloaded.
	LoadStateStatic

	// LoadStateRequired means the plugin cannot be unloaded because other
	// loaded plugins list it in their depends.
	LoadStateRequired

	// LoadStateUsed means the plugin cannot be unloaded because live
	// instances exist that report they may not be deleted.
	LoadStateUsed
)

// loadStateNames is ordered by bit position.
var loadStateNames = [...]string{
	"NotFound",
	"WrongPluginVersion",
	"WrongInterfaceVersion",
	"WrongMetadataFile",
	"NotLoaded",
	"UnresolvedDependency",
	"LoadFailed",
	"Loaded",
	"UnloadFailed",
	"Static",
	"Required",
	"Used",
}

// String returns a human-readable representation of the load state. A value
// with multiple bits set is rendered as a |-joined list.
func (s LoadState) String() string {
	if s == 0 {
		return "None"
	}

	var parts []string
	for i, name := range loadStateNames {
		if s&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if parts == nil {
		return "Invalid"
	}
	return strings.Join(parts, "|")
}
