// Package registry defines the component registry consumed by the application
// context together with a default map-backed implementation.
package registry

import (
	"reflect"
)

// ComponentRegistry defines the operations the context orchestrator performs on
// the registry that owns component definitions and singleton instances.
type ComponentRegistry interface {
	// RegisterSingleton registers an already constructed instance under name
	RegisterSingleton(name string, instance any) error

	// ContainsLocal reports whether a definition or singleton exists under name
	ContainsLocal(name string) bool

	// Resolve returns the instance for name, creating it if needed
	Resolve(name string) (any, error)

	// ResolveByType returns the single instance assignable to t
	ResolveByType(t reflect.Type) (any, error)

	// NamesOfType returns the names of components whose type matches t, in
	// registration order. When allowEagerInit is false, definitions without a
	// declared type are never instantiated just to find out their type.
	NamesOfType(t reflect.Type, allowEagerInit bool) []string

	// Freeze rejects any further structural change to definitions
	Freeze()

	// IsFrozen reports whether Freeze has been called
	IsFrozen() bool

	// PreInstantiate creates every definition not marked lazy
	PreInstantiate() error

	// DestroyAll destroys every created instance in reverse creation order
	DestroyAll() error

	// AddInstanceHook appends a hook applied to every instance created afterwards
	AddInstanceHook(hook InstanceHook)

	// IgnoreAutowireFor excludes t from by-type resolution inside factories
	IgnoreAutowireFor(t reflect.Type)

	// RegisterResolvableDependency makes instance available to by-type
	// resolution inside factories without registering it as a component
	RegisterResolvableDependency(t reflect.Type, instance any)

	// SetValueResolver installs the resolver applied to definition properties
	SetValueResolver(resolver ValueResolver)
}

// DefinitionRegistry is the structural view of the registry handed to hooks
// that add, alter or remove component definitions.
type DefinitionRegistry interface {
	ComponentRegistry

	// RegisterDefinition adds a definition; fails once the registry is frozen
	RegisterDefinition(def *Definition) error

	// Definition returns the definition registered under name
	Definition(name string) (*Definition, error)

	// DefinitionNames returns all definition names in registration order
	DefinitionNames() []string

	// RemoveDefinition removes the definition registered under name
	RemoveDefinition(name string) error
}

// InstanceHook is applied by the registry to every instance it creates.
// Either callback may return a replacement for the instance.
type InstanceHook interface {
	BeforeInit(name string, instance any) (any, error)
	AfterInit(name string, instance any) (any, error)
}

// DestructionAwareHook is an InstanceHook that also wants to observe
// instances before they are destroyed.
type DestructionAwareHook interface {
	InstanceHook
	BeforeDestroy(name string, instance any) error
}

// Initializer is implemented by components that need a callback once the
// instance hooks' BeforeInit pass has completed.
type Initializer interface {
	Init() error
}

// Disposable is implemented by components releasing resources on destruction.
type Disposable interface {
	Destroy() error
}

// ValueResolver resolves placeholders inside definition property values.
type ValueResolver func(value string) (string, error)

// Resolver is handed to definition factories to look up collaborators.
type Resolver interface {
	// Resolve returns the component registered under name
	Resolve(name string) (any, error)

	// ResolveByType returns the single component or resolvable dependency of type t
	ResolveByType(t reflect.Type) (any, error)

	// Property returns the resolved value of a definition property
	Property(key string) (string, bool)
}

// Provisioner hands out the registry for a refresh cycle and releases it on close.
type Provisioner interface {
	Provision() (ComponentRegistry, error)
	Release() error
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
