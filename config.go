// config.go: host configuration for constructing managers from files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// ManagerConfig describes a manager in a host configuration file. Both
// YAML and JSON are supported; the format is detected from the file
// extension.
type ManagerConfig struct {
	// PluginInterface is the interface identifier the manager serves.
	// Required.
	PluginInterface string `json:"plugin_interface" yaml:"plugin_interface"`

	// PluginDirectory is an explicit plugin directory. Takes precedence
	// over SearchPaths.
	PluginDirectory string `json:"plugin_directory,omitempty" yaml:"plugin_directory,omitempty"`

	// SearchPaths are candidate plugin directories tried in order,
	// relative paths resolved against the executable directory.
	SearchPaths []string `json:"search_paths,omitempty" yaml:"search_paths,omitempty"`

	// ModuleSuffix overrides the module file suffix. Default ".so".
	ModuleSuffix string `json:"module_suffix,omitempty" yaml:"module_suffix,omitempty"`

	// MetadataSuffix overrides the metadata file suffix. Default ".conf".
	MetadataSuffix string `json:"metadata_suffix,omitempty" yaml:"metadata_suffix,omitempty"`

	// Preferred maps aliases to candidate plugin lists applied through
	// SetPreferredPlugins after discovery.
	Preferred map[string][]string `json:"preferred,omitempty" yaml:"preferred,omitempty"`
}

// Validate checks the configuration for obvious mistakes.
func (c *ManagerConfig) Validate() error {
	if c.PluginInterface == "" {
		return NewConfigValidationError("plugin_interface is required", nil)
	}
	return nil
}

// LoadManagerConfig reads and parses a manager configuration file.
func LoadManagerConfig(path string) (*ManagerConfig, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, NewConfigFileError(path, "cannot access config file", err)
	}
	if !info.Mode().IsRegular() || info.Size() > 10*1024*1024 {
		return nil, NewConfigFileError(path, "config file invalid or too large", nil)
	}

	configBytes, err := os.ReadFile(cleanPath) // #nosec G304 -- Path validated above
	if err != nil {
		return nil, NewConfigFileError(path, "failed to read config file", err)
	}

	var config ManagerConfig
	format := argus.DetectFormat(cleanPath)
	switch format {
	case argus.FormatJSON:
		err = json.Unmarshal(configBytes, &config)
	case argus.FormatYAML:
		err = yaml.Unmarshal(configBytes, &config)
	default:
		return nil, NewConfigParseError(path, NewConfigValidationError("unsupported config format: "+format.String(), nil))
	}
	if err != nil {
		return nil, NewConfigParseError(path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// NewManagerFromConfig constructs a manager as described by config.
// Preferred alias assignments referring to unknown aliases are skipped
// with a warning instead of failing construction, so a config written for
// a richer plugin set still works on a host with fewer plugins.
func NewManagerFromConfig(config *ManagerConfig, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	configured := make([]Option, 0, len(opts)+5)
	if config.PluginDirectory != "" {
		configured = append(configured, WithPluginDirectory(config.PluginDirectory))
	}
	if len(config.SearchPaths) != 0 {
		configured = append(configured, WithSearchPaths(config.SearchPaths...))
	}
	if config.ModuleSuffix != "" {
		configured = append(configured, WithModuleSuffix(config.ModuleSuffix))
	}
	if config.MetadataSuffix != "" {
		configured = append(configured, WithMetadataSuffix(config.MetadataSuffix))
	}
	configured = append(configured, opts...)

	m, err := NewManager(config.PluginInterface, configured...)
	if err != nil {
		return nil, err
	}

	for alias, candidates := range config.Preferred {
		if err := m.SetPreferredPlugins(alias, candidates...); err != nil {
			m.logger.Warn("Preferred plugin assignment skipped",
				"alias", alias,
				"error", err)
		}
	}
	return m, nil
}
