// manager.go: plugin manager with static and dynamic plugin support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manager discovers, loads, unloads and instantiates plugins sharing one
// interface identifier.
//
// A manager owns two worlds of plugins. Static plugins are compiled into
// the host binary and register themselves through ImportStaticPlugin; the
// manager adopts every registered node whose interface matches its own at
// construction time, and they stay available for the manager's whole life.
// Dynamic plugins are module files discovered in the plugin directory, each
// next to a sidecar metadata file, and move between NotLoaded and Loaded
// through Load and Unload.
//
// Plugins may depend on each other by name through the [depends] list in
// their metadata. Load resolves dependencies transitively, reaching into
// registered external managers for plugins of other interfaces, and Unload
// refuses to unload a plugin something still depends on.
//
// A Manager is not safe for concurrent use. Confine each manager to a
// single goroutine or serialize access externally.
type Manager struct {
	pluginInterface string
	pluginDirectory string
	searchPaths     []string
	moduleSuffix    string
	metadataSuffix  string

	plugins map[string]*pluginRecord
	aliases map[string]*pluginRecord

	// externalManagers are consulted, in registration order, for
	// dependencies this manager cannot resolve itself. externalUsedBy
	// tracks the inverse edges so Close can enforce destruction order.
	externalManagers []*Manager
	externalUsedBy   []*Manager

	loader ModuleLoader
	logger Logger
	closed bool
}

// Option configures a Manager during construction.
type Option func(*Manager)

// WithPluginDirectory sets the directory scanned for dynamic plugin
// modules. It takes precedence over WithSearchPaths.
func WithPluginDirectory(dir string) Option {
	return func(m *Manager) { m.pluginDirectory = dir }
}

// WithSearchPaths sets candidate plugin directories tried in order when no
// explicit directory is given. Relative paths are resolved against the
// directory of the running executable. The first path that exists wins.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) { m.searchPaths = append([]string(nil), paths...) }
}

// WithModuleSuffix overrides the module file suffix. Default ".so".
func WithModuleSuffix(suffix string) Option {
	return func(m *Manager) { m.moduleSuffix = suffix }
}

// WithMetadataSuffix overrides the metadata file suffix. Default ".conf".
func WithMetadataSuffix(suffix string) Option {
	return func(m *Manager) { m.metadataSuffix = suffix }
}

// WithLogger sets the logger used for discovery and lifecycle reporting.
func WithLogger(logger Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithModuleLoader overrides how module files are opened. The default
// loader uses the Go plugin package.
func WithModuleLoader(loader ModuleLoader) Option {
	return func(m *Manager) { m.loader = loader }
}

// NewManager creates a manager for the given plugin interface identifier.
//
// Construction adopts all matching static plugins that have been imported
// so far, running their initializers, and then scans the plugin directory
// for dynamic plugin modules. Plugins found there start out NotLoaded.
func NewManager(pluginInterface string, opts ...Option) (*Manager, error) {
	if pluginInterface == "" {
		return nil, NewInvalidInterfaceError(pluginInterface)
	}

	m := &Manager{
		pluginInterface: pluginInterface,
		moduleSuffix:    ".so",
		metadataSuffix:  ".conf",
		plugins:         make(map[string]*pluginRecord),
		aliases:         make(map[string]*pluginRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = DefaultLogger()
	}
	if m.loader == nil {
		m.loader = NewNativeLoader()
	}

	m.adoptStaticPlugins()

	if m.pluginDirectory == "" {
		m.pluginDirectory = m.resolveSearchPaths()
	}
	if m.pluginDirectory == "" && len(m.plugins) == 0 {
		m.logger.Warn("No plugin directory found and no static plugins registered",
			"plugin_interface", m.pluginInterface,
			"search_paths", m.searchPaths)
	}
	m.scanDirectory(m.pluginDirectory)

	return m, nil
}

// adoptStaticPlugins walks the process-wide static plugin list and adopts
// every node matching this manager's interface. Initializers run here, once
// per manager.
func (m *Manager) adoptStaticPlugins() {
	for node := staticPluginsHead; node != nil; node = staticListNext(node) {
		if node.pluginInterface != m.pluginInterface {
			continue
		}
		if _, taken := m.plugins[node.name]; taken {
			m.logger.Warn("Duplicate static plugin ignored",
				"plugin_name", node.name,
				"plugin_interface", m.pluginInterface)
			continue
		}

		metadata, err := parseMetadata(node.name, node.metadata, m.logger)
		if err != nil {
			m.logger.Warn("Static plugin metadata is invalid, continuing with empty metadata",
				"plugin_name", node.name,
				"error", err)
			metadata = emptyMetadata(node.name)
		}

		record := newStaticRecord(node, metadata)
		m.plugins[node.name] = record
		m.registerAliases(record)

		if record.initializer != nil {
			record.initializer()
		}
	}
}

// resolveSearchPaths returns the first existing candidate directory, or "".
func (m *Manager) resolveSearchPaths() string {
	if len(m.searchPaths) == 0 {
		return ""
	}

	var exeDir string
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	for _, path := range m.searchPaths {
		candidate := path
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(exeDir, candidate)
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

// scanDirectory discovers dynamic plugin modules in dir. Each module file
// yields a record unless a record with that name already exists; the
// sidecar metadata file decides between NotLoaded and WrongMetadataFile.
func (m *Manager) scanDirectory(dir string) {
	if dir == "" {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("Cannot read plugin directory",
			"plugin_directory", dir,
			"error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), m.moduleSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), m.moduleSuffix)
		if _, taken := m.plugins[name]; taken {
			continue
		}

		metadataPath := filepath.Join(dir, name+m.metadataSuffix)
		metadata, err := parseMetadataFile(name, metadataPath, m.logger)
		if err != nil {
			m.logger.Warn("Plugin metadata file is missing or invalid",
				"plugin_name", name,
				"metadata_path", metadataPath,
				"error", err)
		}

		record := newDynamicRecord(name, metadata, err)
		m.plugins[name] = record
		m.registerAliases(record)
	}
}

// registerAliases indexes a record under its canonical name and everything
// in its provides list. The canonical name always wins over a provided
// alias; provided aliases never displace an existing entry, so the plugin
// discovered first keeps serving the alias until SetPreferredPlugins says
// otherwise.
func (m *Manager) registerAliases(record *pluginRecord) {
	m.aliases[record.name] = record
	for _, alias := range record.metadata.Provides() {
		if _, taken := m.aliases[alias]; !taken {
			m.aliases[alias] = record
		}
	}
}

// dropAliases removes every alias entry pointing at record.
func (m *Manager) dropAliases(record *pluginRecord) {
	for alias, target := range m.aliases {
		if target == record {
			delete(m.aliases, alias)
		}
	}
}

// findWithAlias resolves a plugin name or alias to its record. The alias
/// index is the single lookup authority: every canonical name has an entry
// in it, and SetPreferredPlugins may rebind any entry, canonical names
// included. Returns nil if unknown.
func (m *Manager) findWithAlias(plugin string) *pluginRecord {
	if record, ok := m.aliases[plugin]; ok {
		return record
	}
	return nil
}

// dependencyRecord resolves a dependency name to a record and its owning
// manager. This manager is searched first, then external managers in
// registration order.
func (m *Manager) dependencyRecord(name string) (*Manager, *pluginRecord) {
	if record := m.findWithAlias(name); record != nil {
		return m, record
	}
	for _, external := range m.externalManagers {
		if record := external.findWithAlias(name); record != nil {
			return external, record
		}
	}
	return nil, nil
}

// PluginInterface returns the interface identifier this manager serves.
func (m *Manager) PluginInterface() string { return m.pluginInterface }

// PluginDirectory returns the directory currently scanned for dynamic
// plugin modules. Empty when the manager serves static plugins only.
func (m *Manager) PluginDirectory() string { return m.pluginDirectory }

// PluginList returns the canonical names of all known plugins in ascending
// order.
func (m *Manager) PluginList() []string {
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AliasList returns all names and aliases the manager resolves, ascending.
func (m *Manager) AliasList() []string {
	names := make([]string, 0, len(m.aliases))
	for alias := range m.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata of the plugin resolved from the given name
// or alias, or nil if unknown.
func (m *Manager) Metadata(plugin string) *PluginMetadata {
	record := m.findWithAlias(plugin)
	if record == nil {
		return nil
	}
	return record.metadata
}

// LoadState reports the state of the plugin resolved from the given name
// or alias. Unknown names report LoadStateNotFound.
func (m *Manager) LoadState(plugin string) LoadState {
	record := m.findWithAlias(plugin)
	if record == nil {
		return LoadStateNotFound
	}
	return record.state
}

// LastTransition reports when the plugin resolved from the given name or
// alias last changed state: discovery, a successful load or an unload.
// Failed loads do not move the timestamp, since the record keeps its
// state. Unknown names report the zero time.
func (m *Manager) LastTransition(plugin string) time.Time {
	record := m.findWithAlias(plugin)
	if record == nil {
		return time.Time{}
	}
	return record.lastTransition
}

// SetPluginDirectory switches the manager to a new plugin directory.
//
// Records in NotLoaded or WrongMetadataFile state are forgotten; loaded
// and static plugins survive the switch. The alias index is rebuilt from
// the surviving records, so every canonical name reclaims its own entry
// and preference overrides from SetPreferredPlugins are reset. The new
// directory is then scanned the same way as at construction.
func (m *Manager) SetPluginDirectory(dir string) {
	for name, record := range m.plugins {
		if record.state&(LoadStateNotLoaded|LoadStateWrongMetadataFile) != 0 {
			delete(m.plugins, name)
		}
	}

	m.aliases = make(map[string]*pluginRecord, len(m.plugins))
	for _, name := range m.PluginList() {
		m.registerAliases(m.plugins[name])
	}

	m.pluginDirectory = dir
	m.scanDirectory(dir)
}

// ReloadPluginDirectory rescans the current plugin directory, picking up
// new module files and dropping records whose files disappeared, without
// touching loaded or static plugins.
func (m *Manager) ReloadPluginDirectory() {
	m.SetPluginDirectory(m.pluginDirectory)
}

// RegisterExternalManager makes other available for resolving dependencies
// on plugins of a different interface. The external manager must outlive
// this one; Close enforces the order.
func (m *Manager) RegisterExternalManager(other *Manager) {
	if other == nil || other == m {
		return
	}
	for _, existing := range m.externalManagers {
		if existing == other {
			return
		}
	}
	m.externalManagers = append(m.externalManagers, other)
	other.externalUsedBy = append(other.externalUsedBy, m)
}

// Load loads the named plugin and all its dependencies, transitively.
//
// The returned state is LoadStateLoaded or LoadStateStatic on success and
// an error state otherwise; Load never fails by panic or error value, so a
// missing optional plugin costs one call and one state check.
//
// If plugin ends with the module suffix it is treated as a filesystem path
// instead and loaded from outside the plugin directory. The plugin name is
// the base name without the suffix, the metadata file is expected next to
// the module, and the plugin afterwards behaves like any other: it can be
// looked up, used as a dependency and unloaded. Loading a path whose name
// collides with an already loaded plugin fails with LoadStateUsed.
func (m *Manager) Load(plugin string) LoadState {
	if strings.HasSuffix(plugin, m.moduleSuffix) {
		return m.loadFromPath(plugin)
	}

	record := m.findWithAlias(plugin)
	if record == nil {
		m.logger.Error("Cannot load plugin: not found",
			"plugin_name", plugin,
			"plugin_interface", m.pluginInterface)
		return LoadStateNotFound
	}
	return m.loadInternal(record)
}

func (m *Manager) loadFromPath(path string) LoadState {
	name := strings.TrimSuffix(filepath.Base(path), m.moduleSuffix)

	if existing, ok := m.plugins[name]; ok {
		if existing.state&(LoadStateLoaded|LoadStateStatic) != 0 {
			m.logger.Error("Cannot replace plugin that is already loaded",
				"plugin_name", name,
				"load_state", existing.state.String())
			return LoadStateUsed
		}
		delete(m.plugins, name)
		m.dropAliases(existing)
	}

	metadataPath := strings.TrimSuffix(path, m.moduleSuffix) + m.metadataSuffix
	metadata, err := parseMetadataFile(name, metadataPath, m.logger)
	if err != nil {
		m.logger.Error("Plugin metadata file is missing or invalid",
			"plugin_name", name,
			"metadata_path", metadataPath,
			"error", err)
	}

	record := newDynamicRecord(name, metadata, err)
	record.path = path
	m.plugins[name] = record
	m.registerAliases(record)

	if record.state == LoadStateWrongMetadataFile {
		return record.state
	}
	return m.loadInternal(record)
}

func (m *Manager) loadInternal(record *pluginRecord) LoadState {
	if record.state&(LoadStateLoaded|LoadStateStatic) != 0 {
		return record.state
	}
	if record.state != LoadStateNotLoaded {
		m.logger.Error("Plugin is not ready to load",
			"plugin_name", record.name,
			"load_state", record.state.String())
		return record.state
	}

	// Failure states below are returned to the caller but never stored;
	// the record stays NotLoaded so the load can be retried once the
	// cause is cured.

	// Resolve all dependencies before touching the module. Dependency
	// records are collected first and marked used only after the module
	// itself loads, so a late failure leaves no stray usedBy entries.
	type resolvedDependency struct {
		owner  *Manager
		record *pluginRecord
	}
	dependencies := make([]resolvedDependency, 0, len(record.metadata.Depends()))
	for _, dependency := range record.metadata.Depends() {
		owner, dependencyRecord := m.dependencyRecord(dependency)
		if dependencyRecord == nil {
			m.logger.Error("Cannot load plugin: unresolved dependency",
				"plugin_name", record.name,
				"dependency", dependency)
			return LoadStateUnresolvedDependency
		}
		if state := owner.loadInternal(dependencyRecord); state&(LoadStateLoaded|LoadStateStatic) == 0 {
			m.logger.Error("Cannot load plugin: dependency failed to load",
				"plugin_name", record.name,
				"dependency", dependencyRecord.name,
				"dependency_state", state.String())
			return LoadStateUnresolvedDependency
		}
		dependencies = append(dependencies, resolvedDependency{owner, dependencyRecord})
	}

	modulePath := record.path
	if modulePath == "" {
		modulePath = filepath.Join(m.pluginDirectory, record.name+m.moduleSuffix)
	}

	module, err := m.loader.Load(modulePath)
	if err != nil {
		m.logger.Error("Cannot open plugin module",
			"plugin_name", record.name,
			"module_path", modulePath,
			"error", err)
		return LoadStateLoadFailed
	}

	eps, symbol, err := resolveEntryPoints(module)
	if err != nil {
		m.logger.Error("Cannot resolve plugin entry point",
			"plugin_name", record.name,
			"symbol", symbol,
			"error", err)
		m.closeModule(record.name, module)
		return LoadStateLoadFailed
	}

	if version := eps.version(); version != ABIVersion {
		m.logger.Error("Wrong plugin version",
			"plugin_name", record.name,
			"actual_version", version,
			"expected_version", ABIVersion)
		m.closeModule(record.name, module)
		return LoadStateWrongPluginVersion
	}

	if pluginInterface := eps.iface(); pluginInterface != m.pluginInterface {
		m.logger.Error("Wrong plugin interface",
			"plugin_name", record.name,
			"actual_interface", pluginInterface,
			"expected_interface", m.pluginInterface)
		m.closeModule(record.name, module)
		return LoadStateWrongInterfaceVersion
	}

	if eps.initializer != nil {
		eps.initializer()
	}

	for _, dependency := range dependencies {
		dependency.record.metadata.addUsedBy(record.name)
	}

	record.module = module
	record.instancer = eps.instancer
	record.finalizer = eps.finalizer
	record.setState(LoadStateLoaded)

	m.logger.Debug("Plugin loaded",
		"plugin_name", record.name,
		"module_path", modulePath)
	return record.state
}

func (m *Manager) closeModule(plugin string, module Module) {
	if err := m.loader.Close(module); err != nil {
		m.logger.Warn("Cannot close rejected plugin module",
			"plugin_name", plugin,
			"error", err)
	}
}

// Unload unloads the named plugin.
//
// Success is LoadStateNotLoaded. Static plugins report LoadStateStatic, a
// plugin other loaded plugins depend on reports LoadStateRequired, and a
// plugin with live instances that refuse deletion reports LoadStateUsed.
// Instances that allow deletion are closed, newest first, as part of a
// successful unload.
func (m *Manager) Unload(plugin string) LoadState {
	record := m.findWithAlias(plugin)
	if record == nil {
		m.logger.Error("Cannot unload plugin: not found",
			"plugin_name", plugin,
			"plugin_interface", m.pluginInterface)
		return LoadStateNotFound
	}
	return m.unloadInternal(record)
}

func (m *Manager) unloadInternal(record *pluginRecord) LoadState {
	if record.state&LoadStateLoaded == 0 {
		return record.state
	}

	if usedBy := record.metadata.UsedBy(); len(usedBy) != 0 {
		m.logger.Error("Cannot unload plugin: required by other plugins",
			"plugin_name", record.name,
			"used_by", usedBy)
		return LoadStateRequired
	}

	if !record.deletableInstances() {
		m.logger.Error("Cannot unload plugin: instances are still in use",
			"plugin_name", record.name)
		return LoadStateUsed
	}
	record.closeInstances()

	for _, dependency := range record.metadata.Depends() {
		if _, dependencyRecord := m.dependencyRecord(dependency); dependencyRecord != nil {
			dependencyRecord.metadata.removeUsedBy(record.name)
		}
	}

	if record.finalizer != nil {
		record.finalizer()
	}

	module := record.module
	record.module = nil
	record.instancer = nil
	record.finalizer = nil

	if err := m.loader.Close(module); err != nil {
		m.logger.Error("Cannot close plugin module",
			"plugin_name", record.name,
			"error", err)
		record.setState(LoadStateNotLoaded)
		return LoadStateUnloadFailed
	}

	record.setState(LoadStateNotLoaded)
	m.logger.Debug("Plugin unloaded", "plugin_name", record.name)
	return record.state
}

// Instantiate creates a new instance of a loaded or static plugin.
//
// The name or alias is resolved through the alias index, so after
// SetPreferredPlugins the same call can yield a different concrete plugin.
// The instance is tracked by the plugin's record until its Close is called
// or the plugin is unloaded.
func (m *Manager) Instantiate(plugin string) (Plugin, error) {
	if m.closed {
		return nil, NewManagerClosedError(m.pluginInterface)
	}

	record := m.findWithAlias(plugin)
	if record == nil {
		return nil, NewUnknownAliasError(plugin)
	}
	if record.state&(LoadStateLoaded|LoadStateStatic) == 0 {
		return nil, NewPluginNotLoadedError(record.name, record.state)
	}

	instance, err := record.instancer(m, record.name)
	if err != nil {
		return nil, NewInstancerFailedError(record.name, err)
	}

	record.addInstance(instance)
	return instance, nil
}

// SetPreferredPlugins points an alias at the first of the given candidate
// plugins that the manager knows.
//
// Every candidate must provide the alias, either by canonical name or
// through its provides list; a candidate that does not is an error. When
// none of the candidates is known the alias keeps its current target.
func (m *Manager) SetPreferredPlugins(alias string, candidates ...string) error {
	if _, known := m.aliases[alias]; !known {
		return NewUnknownAliasError(alias)
	}

	for _, candidate := range candidates {
		record, known := m.plugins[candidate]
		if !known {
			continue
		}
		if record.name != alias && !providesAlias(record.metadata, alias) {
			return NewAliasNotProvidedError(alias, candidate)
		}
		m.aliases[alias] = record
		return nil
	}
	return nil
}

func providesAlias(metadata *PluginMetadata, alias string) bool {
	for _, provided := range metadata.Provides() {
		if provided == alias {
			return true
		}
	}
	return false
}

// Close unloads all dynamic plugins, dependents first, runs static plugin
// finalizers and releases the manager.
//
// Closing a manager that a registered dependent manager still uses is a
// destruction-order programmer error and panics; close dependent managers
// first. Close is idempotent.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	if len(m.externalUsedBy) != 0 {
		interfaces := make([]string, len(m.externalUsedBy))
		for i, dependent := range m.externalUsedBy {
			interfaces[i] = dependent.pluginInterface
		}
		panic("pluginhost: cannot close manager for " + m.pluginInterface +
			" still used by managers for " + strings.Join(interfaces, ", "))
	}

	for _, name := range m.PluginList() {
		m.unloadRecursive(m.plugins[name])
	}

	for _, name := range m.PluginList() {
		record := m.plugins[name]
		if record.state&LoadStateStatic == 0 {
			continue
		}
		record.closeInstances()
		if record.finalizer != nil {
			record.finalizer()
		}
	}

	for _, external := range m.externalManagers {
		external.removeExternalUsedBy(m)
	}
	m.externalManagers = nil
	m.plugins = make(map[string]*pluginRecord)
	m.aliases = make(map[string]*pluginRecord)
	m.closed = true
	return nil
}

// unloadRecursive unloads every loaded plugin depending on record before
// record itself. Cross-manager dependents cannot exist here: Close already
// panicked if a dependent manager was still registered.
func (m *Manager) unloadRecursive(record *pluginRecord) {
	if record.state&LoadStateLoaded == 0 {
		return
	}
	for _, dependent := range record.metadata.UsedBy() {
		if dependentRecord, ok := m.plugins[dependent]; ok {
			m.unloadRecursive(dependentRecord)
		}
	}
	if state := m.unloadInternal(record); state&(LoadStateNotLoaded|LoadStateUnloadFailed) == 0 {
		m.logger.Warn("Plugin survived manager shutdown",
			"plugin_name", record.name,
			"load_state", state.String())
	}
}

func (m *Manager) removeExternalUsedBy(dependent *Manager) {
	for i, existing := range m.externalUsedBy {
		if existing == dependent {
			m.externalUsedBy = append(m.externalUsedBy[:i], m.externalUsedBy[i+1:]...)
			return
		}
	}
}
