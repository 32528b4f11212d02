package appcontext

import (
	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/registry"
)

// Initializer prepares property sources at the start of every refresh,
// before required properties are validated.
type Initializer interface {
	InitPropertySources(env *environment.Environment) error
}

// RegistryStrategy adjusts the registry after the standard preparation and
// before registry hooks run.
type RegistryStrategy interface {
	PostProcessRegistry(c *Context, reg registry.ComponentRegistry) error
}

// RefreshStrategy runs after the event bus is wired and before listeners are
// registered. Context variants use it to create special components.
type RefreshStrategy interface {
	OnRefresh(c *Context) error
}

// CloseStrategy runs after components were destroyed and the registry was
// released.
type CloseStrategy interface {
	OnClose(c *Context) error
}

// InitializerFunc adapts a function to Initializer
type InitializerFunc func(env *environment.Environment) error

func (f InitializerFunc) InitPropertySources(env *environment.Environment) error { return f(env) }

// RegistryStrategyFunc adapts a function to RegistryStrategy
type RegistryStrategyFunc func(c *Context, reg registry.ComponentRegistry) error

func (f RegistryStrategyFunc) PostProcessRegistry(c *Context, reg registry.ComponentRegistry) error {
	return f(c, reg)
}

// RefreshFunc adapts a function to RefreshStrategy
type RefreshFunc func(c *Context) error

func (f RefreshFunc) OnRefresh(c *Context) error { return f(c) }

// CloseFunc adapts a function to CloseStrategy
type CloseFunc func(c *Context) error

func (f CloseFunc) OnClose(c *Context) error { return f(c) }
