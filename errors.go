// errors.go: structured error definitions for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"github.com/agilira/go-errors"
)

// Error codes for the pluginhost runtime. Load and Unload report their
// failures by LoadState value; these codes cover everything that reports by
// error.
const (
	// Manager construction and configuration (1000-1099)
	ErrCodeInvalidInterface  = "PLUGINHOST_1001"
	ErrCodeInvalidPluginName = "PLUGINHOST_1002"
	ErrCodeManagerClosed     = "PLUGINHOST_1003"

	// Metadata (1100-1199)
	ErrCodeMetadataParse = "METADATA_1101"
	ErrCodeMetadataFile  = "METADATA_1102"

	// Instantiation (1200-1299)
	ErrCodePluginNotLoaded = "PLUGINHOST_1201"
	ErrCodeInstancerFailed = "PLUGINHOST_1202"
	ErrCodeWrongPluginType = "PLUGINHOST_1203"

	// Alias routing (1300-1399)
	ErrCodeUnknownAlias     = "ALIAS_1301"
	ErrCodeAliasNotProvided = "ALIAS_1302"

	// Module entry points (1400-1499)
	ErrCodeEntryPointType = "MODULE_1401"

	// Host configuration files (1700-1799)
	ErrCodeConfigParse      = "CONFIG_1701"
	ErrCodeConfigFile       = "CONFIG_1702"
	ErrCodeConfigValidation = "CONFIG_1703"

	// Directory watcher (1800-1899)
	ErrCodeWatcher = "WATCHER_1801"
)

// Manager construction and configuration error constructors

func NewInvalidInterfaceError(pluginInterface string) *errors.Error {
	return errors.New(ErrCodeInvalidInterface, "Invalid plugin interface").
		WithUserMessage("Plugin interface identifier is required and cannot be empty").
		WithContext("plugin_interface", pluginInterface).
		WithSeverity("error")
}

func NewInvalidPluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name").
		WithUserMessage("Plugin name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewManagerClosedError(pluginInterface string) *errors.Error {
	return errors.New(ErrCodeManagerClosed, "Manager is closed").
		WithUserMessage("The manager has been closed and can no longer be used").
		WithContext("plugin_interface", pluginInterface).
		WithSeverity("error")
}

// Metadata error constructors

func NewMetadataParseError(plugin string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMetadataParse, "Metadata parse error").
		WithUserMessage("The plugin metadata file could not be parsed").
		WithContext("plugin_name", plugin).
		WithSeverity("error")
}

func NewMetadataFileError(plugin, path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMetadataFile, "Metadata file error").
		WithUserMessage("The plugin metadata file could not be read").
		WithContext("plugin_name", plugin).
		WithContext("metadata_path", path).
		WithSeverity("error")
}

// Instantiation error constructors

func NewPluginNotLoadedError(plugin string, state LoadState) *errors.Error {
	return errors.New(ErrCodePluginNotLoaded, "Plugin not loaded").
		WithUserMessage("The plugin must be loaded or static before it can be instantiated").
		WithContext("plugin_name", plugin).
		WithContext("load_state", state.String()).
		WithSeverity("error")
}

func NewInstancerFailedError(plugin string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInstancerFailed, "Plugin instancer failed").
		WithUserMessage("The plugin failed to construct a new instance").
		WithContext("plugin_name", plugin).
		WithSeverity("error")
}

func NewWrongPluginTypeError(plugin, pluginInterface string) *errors.Error {
	return errors.New(ErrCodeWrongPluginType, "Wrong plugin type").
		WithUserMessage("The instantiated plugin does not implement the expected interface").
		WithContext("plugin_name", plugin).
		WithContext("plugin_interface", pluginInterface).
		WithSeverity("error")
}

// Alias routing error constructors

func NewUnknownAliasError(alias string) *errors.Error {
	return errors.New(ErrCodeUnknownAlias, "Unknown alias").
		WithUserMessage("The alias is not known to this manager").
		WithContext("alias", alias).
		WithSeverity("error")
}

func NewAliasNotProvidedError(alias, candidate string) *errors.Error {
	return errors.New(ErrCodeAliasNotProvided, "Alias not provided by candidate").
		WithUserMessage("The candidate plugin does not list the alias in its provides").
		WithContext("alias", alias).
		WithContext("candidate", candidate).
		WithSeverity("error")
}

// Module entry-point error constructors

func NewEntryPointTypeError(symbol string) *errors.Error {
	return errors.New(ErrCodeEntryPointType, "Entry point has wrong type").
		WithUserMessage("The module exports the symbol with an unexpected signature").
		WithContext("symbol", symbol).
		WithSeverity("error")
}

// Host configuration error constructors

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParse, "Configuration parse error").
		WithUserMessage("Failed to parse manager configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigFileError(path string, message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigFile, "Configuration file error: "+message).
		WithUserMessage("Manager configuration file access failed").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigValidation, "Configuration validation error: "+message).
		WithUserMessage("Manager configuration validation failed").
		WithSeverity("error")
}

// Directory watcher error constructors

func NewWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeWatcher, "Plugin directory watcher error: "+message).
		WithUserMessage("Plugin directory monitoring failed").
		WithSeverity("error")
}
