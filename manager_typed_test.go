// manager_typed_test.go: tests for the generic typed manager facade
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypedTestManager(t *testing.T, dir string, loader *fakeLoader) *TypedManager[*animalPlugin] {
	t.Helper()
	m, err := NewTypedManager[*animalPlugin](testInterface,
		WithPluginDirectory(dir),
		WithModuleLoader(loader),
		WithLogger(NewNoOpLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTypedManager_Instantiate(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTypedTestManager(t, dir, loader)

	require.Equal(t, LoadStateLoaded, m.Load("Dog"))

	dog, err := m.Instantiate("Dog")
	require.NoError(t, err)
	assert.Equal(t, "Dog", dog.Name())
	assert.False(t, dog.deletable)
	require.NoError(t, dog.Close())
}

func TestTypedManager_WrongConcreteType(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Odd", "")

	// A module whose instancer returns a different concrete type
	module := compliantModule(testInterface)
	module[PluginInstancerSymbol] = func(m *Manager, name string) (Plugin, error) {
		return &strangerPlugin{PluginBase: NewPluginBase(m, name)}, nil
	}
	loader := newFakeLoader()
	loader.modules["Odd.so"] = module
	m := newTypedTestManager(t, dir, loader)

	require.Equal(t, LoadStateLoaded, m.Load("Odd"))
	_, err := m.Instantiate("Odd")
	assert.Error(t, err)

	// The mistyped instance was closed again, so the plugin can unload
	assert.Equal(t, LoadStateNotLoaded, m.Unload("Odd"))
}

type strangerPlugin struct {
	PluginBase
}

func TestTypedManager_LoadAndInstantiate(t *testing.T) {
	dir := t.TempDir()
	writePluginFiles(t, dir, "Dog", "")
	writePluginFiles(t, dir, "Broken", "depends = Ghost\n")

	loader := newFakeLoader()
	loader.modules["Dog.so"] = compliantModule(testInterface)
	m := newTypedTestManager(t, dir, loader)

	dog, err := m.LoadAndInstantiate("Dog")
	require.NoError(t, err)
	assert.Equal(t, "Dog", dog.Name())
	require.NoError(t, dog.Close())

	_, err = m.LoadAndInstantiate("Broken")
	assert.Error(t, err)
	_, err = m.LoadAndInstantiate("Ghost")
	assert.Error(t, err)
}
