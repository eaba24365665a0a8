// manager_typed.go: type-safe manager facade over the untyped core
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

// TypedManager wraps a Manager and narrows instantiation to a concrete
// plugin interface type, trading the untyped Plugin returns for compile
// time safety at the host's call sites.
//
// All discovery and lifecycle methods are promoted from the embedded
// Manager; only instantiation changes shape.
type TypedManager[T Plugin] struct {
	*Manager
}

// NewTypedManager creates a manager for the given interface identifier
// whose instances are asserted to T.
func NewTypedManager[T Plugin](pluginInterface string, opts ...Option) (*TypedManager[T], error) {
	manager, err := NewManager(pluginInterface, opts...)
	if err != nil {
		return nil, err
	}
	return &TypedManager[T]{Manager: manager}, nil
}

// Instantiate creates a new instance of a loaded or static plugin and
// asserts it to T. A plugin whose concrete type does not implement T is
// closed again and reported as an error.
func (m *TypedManager[T]) Instantiate(plugin string) (T, error) {
	var zero T

	instance, err := m.Manager.Instantiate(plugin)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		_ = instance.Close()
		return zero, NewWrongPluginTypeError(instance.Name(), m.pluginInterface)
	}
	return typed, nil
}

// LoadAndInstantiate loads the plugin if needed and returns a fresh
// instance in one call. Load failures surface as the instantiation error
// carrying the resulting load state.
func (m *TypedManager[T]) LoadAndInstantiate(plugin string) (T, error) {
	var zero T

	if state := m.Load(plugin); state&(LoadStateLoaded|LoadStateStatic) == 0 {
		return zero, NewPluginNotLoadedError(plugin, state)
	}
	return m.Instantiate(plugin)
}
