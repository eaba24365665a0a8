// manager_test.go: manager lifecycle, dependency and alias tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterface = "test.Animal/1.0"

// animalPlugin is the concrete plugin type used throughout the tests.
type animalPlugin struct {
	PluginBase
	deletable bool
}

func (p *animalPlugin) CanBeDeleted() bool { return p.deletable }

// fakeModule is an in-memory module exposing symbols from a map.
type fakeModule map[string]any

func (m fakeModule) Lookup(symbol string) (any, error) {
	if v, ok := m[symbol]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("symbol %s not found", symbol)
}

// fakeLoader serves fake modules by module file base name, so tests can
// exercise the full load path without compiling real plugin binaries.
type fakeLoader struct {
	modules  map[string]Module
	loadErr  map[string]error
	closeErr error
	loads    []string
	closes   int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		modules: make(map[string]Module),
		loadErr: make(map[string]error),
	}
}

func (l *fakeLoader) Load(path string) (Module, error) {
	name := filepath.Base(path)
	l.loads = append(l.loads, name)
	if err := l.loadErr[name]; err != nil {
		return nil, err
	}
	if module, ok := l.modules[name]; ok {
		return module, nil
	}
	return nil, fmt.Errorf("no module at %s", path)
}

func (l *fakeLoader) Close(Module) error {
	l.closes++
	return l.closeErr
}

// compliantModule builds a fake module exporting all five entry points for
// the given interface.
func compliantModule(iface string) fakeModule {
	return fakeModule{
		PluginVersionSymbol:     func() int { return ABIVersion },
		PluginInterfaceSymbol:   func() string { return iface },
		PluginInitializerSymbol: func() {},
		PluginFinalizerSymbol:   func() {},
		PluginInstancerSymbol: func(m *Manager, name string) (Plugin, error) {
			return &animalPlugin{PluginBase: NewPluginBase(m, name)}, nil
		},
	}
}

// writePluginFiles drops an empty module file and a metadata file for name
// into dir. The module content is irrelevant with the fake loader.
func writePluginFiles(t *testing.T, dir, name, metadata string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".so"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".conf"), []byte(metadata), 0o600))
}

// newTestManager builds a manager over dir with the fake loader.
func newTestManager(t *testing.T, dir string, loader *fakeLoader) *Manager {
	t.Helper()
	m, err := NewManager(testInterface,
		WithPluginDirectory(dir),
		WithModuleLoader(loader),
		WithLogger(NewNoOpLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewManager_RequiresInterface(t *testing.T) {
	_, err := NewManager("")
	assert.Error(t, err)
}

func TestNewManager_DiscoversDynamicPlugins(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "provides = Barker\n")
	writePluginFiles(t, dir, "Cat", "")

	m := newTestManager(t, dir, newFakeLoader())

	assert.Equal(t, []string{"Cat", "Dog"}, m.PluginList())
	assert.Equal(t, []string{"Barker", "Cat", "Dog"}, m.AliasList())
	assert.Equal(t, LoadStateNotLoaded, m.LoadState("Dog"))
	assert.Equal(t, LoadStateNotLoaded, m.LoadState("Barker"))
	assert.Equal(t, LoadStateNotFound, m.LoadState("Fox"))
	assert.Equal(t, dir, m.PluginDirectory())
}

func TestNewManager_MissingMetadataFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dog.so"), nil, 0o600))

	m := newTestManager(t, dir, newFakeLoader())

	assert.Equal(t, LoadStateWrongMetadataFile, m.LoadState("Dog"))
	assert.Equal(t, LoadStateWrongMetadataFile, m.Load("Dog"))
}

func TestManager_LoadAndUnload(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	assert.Equal(t, LoadStateLoaded, m.Load("Dog"))
	// Loading a loaded plugin is a cheap no-op
	assert.Equal(t, LoadStateLoaded, m.Load("Dog"))
	assert.Equal(t, []string{"Dog.so"}, loader.loads)

	assert.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
	assert.Equal(t, 1, loader.closes)
}

func TestManager_LoadStatesOnFailure(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "NoModule", "")
	writePluginFiles(t, dir, "OldVersion", "")
	writePluginFiles(t, dir, "WrongIface", "")
	writePluginFiles(t, dir, "HalfBaked", "")

	loader := newFakeLoader()
	loader.loadErr["NoModule.so"] = errors.New("open failed")

	oldVersion := compliantModule(testInterface)
	oldVersion[PluginVersionSymbol] = func() int { return ABIVersion - 1 }
	loader.modules["OldVersion.so"] = oldVersion

	loader.modules["WrongIface.so"] = compliantModule("test.Mineral/1.0")

	halfBaked := compliantModule(testInterface)
	delete(halfBaked, PluginInstancerSymbol)
	loader.modules["HalfBaked.so"] = halfBaked

	m := newTestManager(t, dir, loader)

	assert.Equal(t, LoadStateLoadFailed, m.Load("NoModule"))
	assert.Equal(t, LoadStateWrongPluginVersion, m.Load("OldVersion"))
	assert.Equal(t, LoadStateWrongInterfaceVersion, m.Load("WrongIface"))
	assert.Equal(t, LoadStateLoadFailed, m.Load("HalfBaked"))

	// Failure states are returned, never stored: the records stay
	// NotLoaded and the loads can be retried
	for _, name := range []string{"NoModule", "OldVersion", "WrongIface", "HalfBaked"} {
		assert.Equal(t, LoadStateNotLoaded, m.LoadState(name), name)
	}

	// Rejected modules were closed again
	assert.Equal(t, 3, loader.closes)

	assert.Equal(t, LoadStateNotFound, m.Load("Ghost"))
	assert.Equal(t, LoadStateNotFound, m.Unload("Ghost"))
}

func TestManager_EntryPointWithWrongSignature(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Liar", "")

	liar := compliantModule(testInterface)
	liar[PluginVersionSymbol] = func() string { return "four" }
	loader := newFakeLoader()
	loader.modules["Liar.so"] = liar

	m := newTestManager(t, dir, loader)
	assert.Equal(t, LoadStateLoadFailed, m.Load("Liar"))
}

func TestManager_DependencyChain(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Chihuahua", "depends = Dog\n")
	writePluginFiles(t, dir, "Dog", "depends = Animal\n")
	writePluginFiles(t, dir, "Animal", "")

	loader := newFakeLoader()
	for _, name := range []string{"Chihuahua.so", "Dog.so", "Animal.so"} {
		loader.modules[name] = compliantModule(testInterface)
	}
	m := newTestManager(t, dir, loader)

	assert.Equal(t, LoadStateLoaded, m.Load("Chihuahua"))
	assert.Equal(t, LoadStateLoaded, m.LoadState("Dog"))
	assert.Equal(t, LoadStateLoaded, m.LoadState("Animal"))

	assert.Equal(t, []string{"Chihuahua"}, m.Metadata("Dog").UsedBy())
	assert.Equal(t, []string{"Dog"}, m.Metadata("Animal").UsedBy())

	// Dependencies of loaded plugins cannot go away
	assert.Equal(t, LoadStateRequired, m.Unload("Dog"))
	assert.Equal(t, LoadStateRequired, m.Unload("Animal"))

	// Dependents-first order succeeds and clears usedBy
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Chihuahua"))
	assert.Empty(t, m.Metadata("Dog").UsedBy())
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Animal"))
}

func TestManager_UnresolvedDependency(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "depends = Ghost\n")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	assert.Equal(t, LoadStateUnresolvedDependency, m.Load("Dog"))
	// The module was never opened
	assert.Empty(t, loader.loads)
}

func TestManager_DependencyFailureDoesNotMarkUsed(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "depends = Animal\n")
	writePluginFiles(t, dir, "Animal", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	loader.loadErr["Animal.so"] = errors.New("open failed")
	m := newTestManager(t, dir, loader)

	assert.Equal(t, LoadStateUnresolvedDependency, m.Load("Dog"))
	assert.Equal(t, LoadStateNotLoaded, m.LoadState("Animal"))
	assert.Empty(t, m.Metadata("Animal").UsedBy())
}

func TestManager_Instantiate(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "provides = Barker\n\n[configuration]\nnoise = woof\n")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	_, err := m.Instantiate("Dog")
	assert.Error(t, err, "instantiating a NotLoaded plugin must fail")

	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	instance, err := m.Instantiate("Barker")
	require.NoError(t, err)
	assert.Equal(t, "Dog", instance.Name(), "alias resolves to the canonical plugin")

	dog, ok := instance.(*animalPlugin)
	require.True(t, ok)
	assert.Same(t, m, dog.Manager())
	assert.Equal(t, "woof", dog.Configuration().Value("noise"))

	// Each instance gets a private configuration copy
	other, err := m.Instantiate("Dog")
	require.NoError(t, err)
	dog.Configuration().SetValue("noise", "silence")
	assert.Equal(t, "woof", other.(*animalPlugin).Configuration().Value("noise"))

	require.NoError(t, instance.Close())
	require.NoError(t, other.Close())

	_, err = m.Instantiate("Ghost")
	assert.Error(t, err)
}

func TestManager_UnloadWithInstances(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	instance, err := m.Instantiate("Dog")
	require.NoError(t, err)

	// A live instance that refuses deletion blocks the unload
	assert.Equal(t, LoadStateUsed, m.Unload("Dog"))
	assert.Equal(t, LoadStateLoaded, m.LoadState("Dog"))

	// Closing the instance releases it
	require.NoError(t, instance.Close())
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
}

func TestManager_UnloadDeletesDeletableInstances(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	instance, err := m.Instantiate("Dog")
	require.NoError(t, err)
	instance.(*animalPlugin).deletable = true

	assert.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
	assert.Nil(t, instance.(*animalPlugin).Manager(), "unload closed the instance")
}

func TestManager_UnloadFailed(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	loader.closeErr = errors.New("still referenced")
	m := newTestManager(t, dir, loader)
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	assert.Equal(t, LoadStateUnloadFailed, m.Unload("Dog"))
	// The record was reset regardless, so the plugin can be retried
	assert.Equal(t, LoadStateNotLoaded, m.LoadState("Dog"))
}

func TestManager_SetPreferredPlugins(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "provides = Pet\n")
	writePluginFiles(t, dir, "Cat", "provides = Pet\n")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	loader.modules["Cat.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	// Directory scan order means Cat claimed the alias first
	require.Equal(t, LoadStateLoaded, m.Load("Pet"))
	require.Equal(t, LoadStateLoaded, m.LoadState("Cat"))

	err := m.SetPreferredPlugins("Pet", "Unicorn", "Dog")
	require.NoError(t, err)
	require.Equal(t, LoadStateLoaded, m.Load("Pet"))

	instance, err := m.Instantiate("Pet")
	require.NoError(t, err)
	assert.Equal(t, "Dog", instance.Name(), "alias now routes to the preferred plugin")
	require.NoError(t, instance.Close())

	// Unknown alias is an error
	assert.Error(t, m.SetPreferredPlugins("Ghost", "Dog"))

	// A known candidate that does not provide the alias is an error
	writePluginFiles(t, dir, "Rock", "")
	m.ReloadPluginDirectory()
	assert.Error(t, m.SetPreferredPlugins("Pet", "Rock"))

	// The rescan rebuilt the alias index, so prefer Dog once more
	require.NoError(t, m.SetPreferredPlugins("Pet", "Dog"))

	// Unknown candidates are skipped without changing the alias
	require.NoError(t, m.SetPreferredPlugins("Pet", "Unicorn"))
	instance, err = m.Instantiate("Pet")
	require.NoError(t, err)
	assert.Equal(t, "Dog", instance.Name())
	require.NoError(t, instance.Close())
}

func TestManager_LoadRetryAfterFailure(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.loadErr["Dog.so"] = errors.New("open failed")
	m := newTestManager(t, dir, loader)

	// The failure is reported but the record stays NotLoaded
	require.Equal(t, LoadStateLoadFailed, m.Load("Dog"))
	require.Equal(t, LoadStateNotLoaded, m.LoadState("Dog"))

	// Once the cause is cured the load succeeds
	delete(loader.loadErr, "Dog.so")
	loader.modules["Dog.so"] = compliantModule(testInterface)
	assert.Equal(t, LoadStateLoaded, m.Load("Dog"))
	assert.Equal(t, LoadStateLoaded, m.LoadState("Dog"))
}

func TestManager_SetPreferredPluginsOverridesCanonicalName(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")
	writePluginFiles(t, dir, "PitBull", "provides = Dog\n")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	loader.modules["PitBull.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	// A canonical name can be rebound to another plugin providing it
	require.NoError(t, m.SetPreferredPlugins("Dog", "PitBull"))
	assert.Equal(t, "PitBull", m.Metadata("Dog").Name())
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))
	require.Equal(t, LoadStateLoaded, m.LoadState("PitBull"))

	instance, err := m.Instantiate("Dog")
	require.NoError(t, err)
	assert.Equal(t, "PitBull", instance.Name())
	require.NoError(t, instance.Close())

	// Both plugins are still present under their own names
	assert.Equal(t, []string{"Dog", "PitBull"}, m.PluginList())
}

func TestManager_ReloadResetsPreferences(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")
	writePluginFiles(t, dir, "PitBull", "provides = Dog\n")

	loader := newFakeLoader()
	m := newTestManager(t, dir, loader)

	require.NoError(t, m.SetPreferredPlugins("Dog", "PitBull"))
	require.Equal(t, "PitBull", m.Metadata("Dog").Name())

	// Rescanning rebuilds the alias index from scratch
	m.ReloadPluginDirectory()
	assert.Equal(t, "Dog", m.Metadata("Dog").Name())
}

func TestManager_LastTransition(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	assert.True(t, m.LastTransition("Ghost").IsZero())

	discovered := m.LastTransition("Dog")
	assert.False(t, discovered.IsZero(), "discovery stamps the record")

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))
	loaded := m.LastTransition("Dog")
	assert.False(t, loaded.Before(discovered), "loading moves the timestamp forward")

	// A failed load keeps the record state, so the timestamp stays put
	require.Equal(t, LoadStateNotLoaded, m.Unload("Dog"))
	unloaded := m.LastTransition("Dog")
	loader.loadErr["Dog.so"] = errors.New("open failed")
	require.Equal(t, LoadStateLoadFailed, m.Load("Dog"))
	assert.Equal(t, unloaded, m.LastTransition("Dog"))
}

func TestManager_SetPluginDirectory(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePluginFiles(t, first, "Dog", "provides = Pet\n")
	writePluginFiles(t, first, "Cat", "")
	writePluginFiles(t, second, "Fox", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTestManager(t, first, loader)
	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	m.SetPluginDirectory(second)

	// Loaded plugins and their aliases survive, NotLoaded ones are gone
	assert.Equal(t, []string{"Dog", "Fox"}, m.PluginList())
	assert.Equal(t, []string{"Dog", "Fox", "Pet"}, m.AliasList())
	assert.Equal(t, LoadStateLoaded, m.LoadState("Dog"))
	assert.Equal(t, LoadStateNotFound, m.LoadState("Cat"))
	assert.Equal(t, LoadStateNotLoaded, m.LoadState("Fox"))
}

func TestManager_ReloadPluginDirectory(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	m := newTestManager(t, dir, newFakeLoader())
	require.Equal(t, []string{"Dog"}, m.PluginList())

	writePluginFiles(t, dir, "Cat", "")
	require.NoError(t, os.Remove(filepath.Join(dir, "Dog.so")))
	m.ReloadPluginDirectory()

	assert.Equal(t, []string{"Cat"}, m.PluginList())
}

func TestManager_LoadFromExplicitPath(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	writePluginFiles(t, outside, "Wolf", "provides = Wild\n")

	loader := newFakeLoader()
	loader.modules["Wolf.so"] = compliantModule(testInterface)
	m := newTestManager(t, dir, loader)

	path := filepath.Join(outside, "Wolf.so")
	assert.Equal(t, LoadStateLoaded, m.Load(path))
	assert.Equal(t, []string{"Wolf"}, m.PluginList())
	assert.Equal(t, LoadStateLoaded, m.LoadState("Wild"))

	// A second load by path of an already loaded plugin is refused
	assert.Equal(t, LoadStateUsed, m.Load(path))

	assert.Equal(t, LoadStateNotLoaded, m.Unload("Wolf"))
	// After unloading, the record can be replaced from a path again
	assert.Equal(t, LoadStateLoaded, m.Load(path))
}

func TestManager_CrossManagerDependencies(t *testing.T) {
	animalDir := t.TempDir()
	foodDir := t.TempDir()
	writePluginFiles(t, animalDir, "Dog", "depends = Kibble\n")
	writePluginFiles(t, foodDir, "Kibble", "")

	animalLoader := newFakeLoader()
	animalLoader.modules["Dog.so"] = compliantModule(testInterface)
	foodLoader := newFakeLoader()
	foodLoader.modules["Kibble.so"] = compliantModule("test.Food/1.0")

	foods, err := NewManager("test.Food/1.0",
		WithPluginDirectory(foodDir),
		WithModuleLoader(foodLoader),
		WithLogger(NewNoOpLogger()))
	require.NoError(t, err)

	animals, err := NewManager(testInterface,
		WithPluginDirectory(animalDir),
		WithModuleLoader(animalLoader),
		WithLogger(NewNoOpLogger()))
	require.NoError(t, err)

	animals.RegisterExternalManager(foods)

	assert.Equal(t, LoadStateLoaded, animals.Load("Dog"))
	assert.Equal(t, LoadStateLoaded, foods.LoadState("Kibble"))
	assert.Equal(t, []string{"Dog"}, foods.Metadata("Kibble").UsedBy())
	assert.Equal(t, LoadStateRequired, foods.Unload("Kibble"))

	// Closing the dependency manager first is a destruction order bug
	assert.Panics(t, func() { _ = foods.Close() })

	require.NoError(t, animals.Close())
	assert.Empty(t, foods.Metadata("Kibble").UsedBy())
	require.NoError(t, foods.Close())
}

func TestManager_CloseUnloadsDependentsFirst(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Chihuahua", "depends = Dog\n")
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Chihuahua.so"] = compliantModule(testInterface)
	loader.modules["Dog.so"] = compliantModule(testInterface)

	m, err := NewManager(testInterface,
		WithPluginDirectory(dir),
		WithModuleLoader(loader),
		WithLogger(NewNoOpLogger()))
	require.NoError(t, err)
	require.Equal(t, LoadStateLoaded, m.Load("Chihuahua"))

	require.NoError(t, m.Close())
	assert.Equal(t, 2, loader.closes)

	// A closed manager refuses new instances and forgets its plugins
	_, err = m.Instantiate("Dog")
	assert.Error(t, err)
	assert.Empty(t, m.PluginList())

	// Close is idempotent
	require.NoError(t, m.Close())
}
