package registry

import (
	"maps"
	"reflect"
	"slices"
)

// Factory creates the instance for a definition.
type Factory func(r Resolver) (any, error)

// Definition describes how a component is created.
type Definition struct {
	Name string

	// Type is the declared type of the created instance. Definitions without a
	// type are only matched by NamesOfType once instantiated, unless eager
	// initialization is allowed.
	Type reflect.Type

	Factory Factory

	// Lazy definitions are skipped by PreInstantiate
	Lazy bool

	// Primary breaks ties in ResolveByType
	Primary bool

	// DependsOn names components that must be created first
	DependsOn []string

	// Properties holds raw values; placeholders are resolved by the registry's
	// ValueResolver before they reach the factory
	Properties map[string]string

	// DestroyFunc runs on destruction in addition to Disposable
	DestroyFunc func(instance any) error
}

// NewDefinition creates a definition for a factory returning T.
func NewDefinition[T any](name string, factory func(r Resolver) (T, error)) *Definition {
	return &Definition{
		Name: name,
		Type: TypeOf[T](),
		Factory: func(r Resolver) (any, error) {
			return factory(r)
		},
		Properties: make(map[string]string),
	}
}

// WithProperty sets a property and returns the definition for chaining.
func (d *Definition) WithProperty(key, value string) *Definition {
	if d.Properties == nil {
		d.Properties = make(map[string]string)
	}
	d.Properties[key] = value
	return d
}

// AsLazy marks the definition lazy and returns it for chaining.
func (d *Definition) AsLazy() *Definition {
	d.Lazy = true
	return d
}

// RenameProperty moves the value stored under from to to. It reports whether
// from was present.
func (d *Definition) RenameProperty(from, to string) bool {
	v, ok := d.Properties[from]
	if !ok {
		return false
	}
	delete(d.Properties, from)
	d.Properties[to] = v
	return true
}

// clone returns a copy safe to hand to hooks and resolvers
func (d *Definition) clone() *Definition {
	c := *d
	c.DependsOn = slices.Clone(d.DependsOn)
	c.Properties = maps.Clone(d.Properties)
	return &c
}

// typeMatches reports whether a value of type actual can be used as want
func typeMatches(actual, want reflect.Type) bool {
	if actual == nil || want == nil {
		return false
	}
	if want.Kind() == reflect.Interface {
		return actual.Implements(want)
	}
	return actual.AssignableTo(want)
}
