// Package pluginhost provides an in-process plugin runtime for Go
// applications. It manages statically linked and dynamically loaded plugins
// through a single lifecycle, with dependency resolution across plugins and
// across managers, alias-based lookup, and INI-style plugin metadata.
//
// Key Features:
//   - Static plugins compiled into the host and dynamic plugins loaded
//     from module files, behind one Manager API
//   - Transitive dependency loading with reference counting on unload
//   - Aliases and provided interfaces with runtime preference control
//   - Sidecar metadata files carrying dependencies, aliases and free-form
//     plugin configuration
//   - Cross-manager dependencies with enforced destruction order
//   - Failures reported as LoadState values, never as panics
//   - Optional plugin directory hot-rescan built on Argus
//
// Basic Usage:
//
//	// Create a manager for one plugin interface
//	manager, err := pluginhost.NewManager("example.AudioCodec/1.0",
//	    pluginhost.WithPluginDirectory("/usr/lib/example/audiocodecs"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	// Load a plugin and create an instance
//	if state := manager.Load("Vorbis"); state&(pluginhost.LoadStateLoaded|pluginhost.LoadStateStatic) == 0 {
//	    log.Fatalf("cannot load Vorbis: %s", state)
//	}
//	codec, err := manager.Instantiate("Vorbis")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer codec.Close()
//
// Type-safe access is available through TypedManager, which asserts every
// instance to a concrete plugin interface:
//
//	codecs, err := pluginhost.NewTypedManager[audio.Codec]("example.AudioCodec/1.0")
//	codec, err := codecs.LoadAndInstantiate("Vorbis")
//
// Concurrency:
// A Manager is deliberately single-threaded. Confine each manager and its
// instances to one goroutine, or serialize access externally; the
// DirectoryWatcher documents how it cooperates with that model.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package pluginhost
