// metadata.go: plugin metadata model and sidecar file parsing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"os"

	ini "gopkg.in/ini.v1"
)

// Metadata file keys and groups. The top-level depends and provides keys are
// multi-valued (repeated); [data] and [configuration] are free-form
// key/value groups.
const (
	metadataKeyDepends  = "depends"
	metadataKeyProvides = "provides"

	metadataGroupData          = "data"
	metadataGroupConfiguration = "configuration"
)

// ConfigurationGroup is an ordered string key/value store with support for
// repeated keys. It backs the [data] and [configuration] groups of a plugin
// metadata file.
//
// Groups owned by a PluginMetadata are shared; mutate only groups you own,
// such as the per-instance copy returned by PluginBase.Configuration.
type ConfigurationGroup struct {
	keys   []string
	values map[string][]string
}

// NewConfigurationGroup returns an empty group.
func NewConfigurationGroup() *ConfigurationGroup {
	return &ConfigurationGroup{values: make(map[string][]string)}
}

// Keys returns all keys in insertion order.
func (g *ConfigurationGroup) Keys() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// Has reports whether the group contains key.
func (g *ConfigurationGroup) Has(key string) bool {
	_, ok := g.values[key]
	return ok
}

// Value returns the first value stored under key, or "" if the key is
// absent.
func (g *ConfigurationGroup) Value(key string) string {
	if vs := g.values[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values stored under key, in insertion order.
func (g *ConfigurationGroup) Values(key string) []string {
	vs := g.values[key]
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// SetValue replaces all values of key with a single value, creating the key
// if needed.
func (g *ConfigurationGroup) SetValue(key, value string) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.values[key] = []string{value}
}

// AddValue appends a value under key, creating the key if needed.
func (g *ConfigurationGroup) AddValue(key, value string) {
	if _, ok := g.values[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.values[key] = append(g.values[key], value)
}

// Remove deletes key and all its values. Removing an absent key is a no-op.
func (g *ConfigurationGroup) Remove(key string) {
	if _, ok := g.values[key]; !ok {
		return
	}
	delete(g.values, key)
	for i, k := range g.keys {
		if k == key {
			g.keys = append(g.keys[:i], g.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct keys.
func (g *ConfigurationGroup) Len() int { return len(g.keys) }

// Clone returns a deep copy of the group.
func (g *ConfigurationGroup) Clone() *ConfigurationGroup {
	out := &ConfigurationGroup{
		keys:   make([]string, len(g.keys)),
		values: make(map[string][]string, len(g.values)),
	}
	copy(out.keys, g.keys)
	for k, vs := range g.values {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out.values[k] = cp
	}
	return out
}

// PluginMetadata is the parsed, read-only view of a plugin's metadata file
// plus the runtime usedBy bookkeeping maintained by the manager.
type PluginMetadata struct {
	name     string
	depends  []string
	provides []string
	usedBy   []string

	data          *ConfigurationGroup
	configuration *ConfigurationGroup
}

// Name returns the canonical plugin name.
func (m *PluginMetadata) Name() string { return m.name }

// Depends returns the names of plugins this plugin needs loaded before it
// can be loaded itself.
func (m *PluginMetadata) Depends() []string {
	out := make([]string, len(m.depends))
	copy(out, m.depends)
	return out
}

// Provides returns the aliases this plugin answers to in addition to its
// canonical name.
func (m *PluginMetadata) Provides() []string {
	out := make([]string, len(m.provides))
	copy(out, m.provides)
	return out
}

// UsedBy returns the names of currently loaded plugins that depend on this
// one. The list is maintained by Load and Unload.
func (m *PluginMetadata) UsedBy() []string {
	out := make([]string, len(m.usedBy))
	copy(out, m.usedBy)
	return out
}

// Data returns the read-only [data] group of the metadata file. The group is
// always present; an absent group in the file parses as empty.
func (m *PluginMetadata) Data() *ConfigurationGroup { return m.data }

// Configuration returns the [configuration] group template. Each instance
// receives its own mutable copy of this group; mutating the template affects
// only instances created afterwards.
func (m *PluginMetadata) Configuration() *ConfigurationGroup { return m.configuration }

func (m *PluginMetadata) addUsedBy(name string) {
	m.usedBy = append(m.usedBy, name)
}

func (m *PluginMetadata) removeUsedBy(name string) bool {
	for i, n := range m.usedBy {
		if n == name {
			m.usedBy = append(m.usedBy[:i], m.usedBy[i+1:]...)
			return true
		}
	}
	return false
}

// emptyMetadata builds a metadata object with no dependencies, no aliases
// and empty groups. Used for records whose metadata file is missing or
// unparseable, so callers can still read the name and the (empty) groups.
func emptyMetadata(name string) *PluginMetadata {
	return &PluginMetadata{
		name:          name,
		data:          NewConfigurationGroup(),
		configuration: NewConfigurationGroup(),
	}
}

// parseMetadata parses an INI-style metadata blob. Unknown groups are
// reported through logger as a warning but do not fail the parse; absent
// depends/provides keys and absent groups default to empty.
func parseMetadata(name string, source []byte, logger Logger) (*PluginMetadata, error) {
	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, source)
	if err != nil {
		return nil, NewMetadataParseError(name, err)
	}

	md := emptyMetadata(name)

	root := file.Section(ini.DefaultSection)
	if root.HasKey(metadataKeyDepends) {
		md.depends = append(md.depends, root.Key(metadataKeyDepends).ValueWithShadows()...)
	}
	if root.HasKey(metadataKeyProvides) {
		md.provides = append(md.provides, root.Key(metadataKeyProvides).ValueWithShadows()...)
	}

	for _, section := range file.Sections() {
		switch section.Name() {
		case ini.DefaultSection:
			// handled above
		case metadataGroupData:
			fillGroup(md.data, section)
		case metadataGroupConfiguration:
			fillGroup(md.configuration, section)
		default:
			logger.Warn("Unexpected group in plugin metadata, ignoring",
				"plugin", name,
				"group", section.Name())
		}
	}

	return md, nil
}

// parseMetadataFile reads and parses a sidecar metadata file.
func parseMetadataFile(name, path string, logger Logger) (*PluginMetadata, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is derived from the scanned plugin directory
	if err != nil {
		return nil, NewMetadataFileError(name, path, err)
	}
	return parseMetadata(name, raw, logger)
}

func fillGroup(group *ConfigurationGroup, section *ini.Section) {
	for _, key := range section.Keys() {
		for _, value := range key.ValueWithShadows() {
			group.AddValue(key.Name(), value)
		}
	}
}
