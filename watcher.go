// watcher.go: plugin directory monitoring built on Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// DirectoryWatcherOptions configures a DirectoryWatcher.
type DirectoryWatcherOptions struct {
	// Argus polling interval for directory changes
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// Cache TTL for file stat operations
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// Audit configuration for tracking directory changes
	AuditConfig argus.AuditConfig `json:"audit_config" yaml:"audit_config"`

	// Custom error handler for watch errors
	ErrorHandler func(error, string) `json:"-" yaml:"-"`
}

// DefaultDirectoryWatcherOptions returns defaults tuned for plugin
// directories, which change rarely but should be picked up promptly.
func DefaultDirectoryWatcherOptions() DirectoryWatcherOptions {
	return DirectoryWatcherOptions{
		PollInterval: 5 * time.Second,
		CacheTTL:     2 * time.Second,
	}
}

// DirectoryWatcher rescans a manager's plugin directory whenever the
// directory changes on disk, so module files dropped in or removed while
// the host runs show up in PluginList without manual intervention.
//
// The manager itself is not safe for concurrent use, so the watcher
// funnels every rescan through a caller-visible mutex: hosts that call
// into the manager from their own goroutine must hold Lock around those
// calls.
type DirectoryWatcher struct {
	manager *Manager
	watcher *argus.Watcher
	logger  Logger
	options DirectoryWatcherOptions

	// Mutex guards the manager against the watcher's poll goroutine.
	Mutex sync.Mutex

	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewDirectoryWatcher creates a watcher for the manager's current plugin
// directory. The manager must have one; a manager serving only static
// plugins has nothing to watch.
func NewDirectoryWatcher(manager *Manager, options DirectoryWatcherOptions) (*DirectoryWatcher, error) {
	if manager == nil {
		return nil, NewWatcherError("manager is required", nil)
	}
	if manager.PluginDirectory() == "" {
		return nil, NewWatcherError("manager has no plugin directory to watch", nil)
	}

	logger := manager.logger
	argusConfig := argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      5,
		Audit:                options.AuditConfig,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, filepath)
			} else {
				logger.Error("Plugin directory watching error", "error", err, "file", filepath)
			}
		},
	}

	return &DirectoryWatcher{
		manager: manager,
		watcher: argus.New(argusConfig),
		logger:  logger,
		options: options,
	}, nil
}

// Start begins monitoring the plugin directory.
func (dw *DirectoryWatcher) Start() error {
	if dw.stopped.Load() {
		return NewWatcherError("directory watcher is already stopped", nil)
	}
	if !dw.running.CompareAndSwap(false, true) {
		return NewWatcherError("directory watcher is already running", nil)
	}

	directory := dw.manager.PluginDirectory()
	if err := dw.watcher.Watch(directory, dw.handleDirectoryChange); err != nil {
		dw.running.Store(false)
		return NewWatcherError("failed to watch plugin directory", err)
	}
	if err := dw.watcher.Start(); err != nil {
		dw.running.Store(false)
		return NewWatcherError("failed to start Argus watcher", err)
	}

	dw.logger.Info("Plugin directory watcher started",
		"plugin_directory", directory,
		"poll_interval", dw.options.PollInterval)
	return nil
}

// Stop permanently stops the watcher. The watcher cannot be restarted.
func (dw *DirectoryWatcher) Stop() error {
	if dw.stopped.Load() {
		return NewWatcherError("directory watcher is already stopped", nil)
	}

	var stopErr error
	dw.stopOnce.Do(func() {
		dw.stopped.Store(true)
		dw.running.Store(false)
		if err := dw.watcher.Stop(); err != nil {
			stopErr = NewWatcherError("failed to stop Argus watcher", err)
			return
		}
		dw.logger.Info("Plugin directory watcher stopped",
			"plugin_directory", dw.manager.PluginDirectory())
	})
	return stopErr
}

// IsRunning reports whether the watcher is currently monitoring.
func (dw *DirectoryWatcher) IsRunning() bool {
	return dw.running.Load()
}

func (dw *DirectoryWatcher) handleDirectoryChange(event argus.ChangeEvent) {
	if !dw.running.Load() {
		return
	}

	dw.logger.Debug("Plugin directory changed, rescanning",
		"path", event.Path,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete)

	dw.Mutex.Lock()
	defer dw.Mutex.Unlock()
	dw.manager.ReloadPluginDirectory()
}
