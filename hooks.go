package appcontext

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/GoCodeAlone/appcontext/registry"
)

// Hook pipeline errors
var (
	ErrRegistryHookFailed = errors.New("registry hook failed")
	ErrInvalidHook        = errors.New("component does not implement the hook interface")
)

// RegistryHook may inspect and alter the registry once per refresh, before
// any regular component is instantiated.
type RegistryHook interface {
	PostProcessRegistry(reg registry.ComponentRegistry) error
}

// DefinitionRegistryHook additionally gets the structural view of the
// registry and may register further definitions, including more hooks. Its
// RegisterDefinitions runs before any PostProcessRegistry.
type DefinitionRegistryHook interface {
	RegistryHook
	RegisterDefinitions(reg registry.DefinitionRegistry) error
}

// RegistryHookFunc adapts a function to RegistryHook
type RegistryHookFunc func(reg registry.ComponentRegistry) error

func (f RegistryHookFunc) PostProcessRegistry(reg registry.ComponentRegistry) error { return f(reg) }

var (
	registryHookType   = registry.TypeOf[RegistryHook]()
	definitionHookType = registry.TypeOf[DefinitionRegistryHook]()
	instanceHookType   = registry.TypeOf[registry.InstanceHook]()
)

type namedHook[T any] struct {
	name string
	hook T
}

func hookName(h any) string {
	return reflect.TypeOf(h).String()
}

// discoverHooks resolves the not yet processed components of type t, marks
// them processed and returns them in priority order
func discoverHooks[T any](reg registry.ComponentRegistry, t reflect.Type, processed map[string]bool) ([]namedHook[T], error) {
	var hooks []namedHook[T]
	for _, name := range reg.NamesOfType(t, false) {
		if processed[name] {
			continue
		}
		processed[name] = true

		instance, err := reg.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRegistryHookFailed, name, err)
		}
		hook, ok := instance.(T)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", ErrInvalidHook, name, instance)
		}
		hooks = append(hooks, namedHook[T]{name: name, hook: hook})
	}
	slices.SortStableFunc(hooks, func(a, b namedHook[T]) int {
		return compareOrder(a.hook, b.hook)
	})
	return hooks, nil
}

// invokeRegistryHooks runs registry-found and programmatic hooks until a
// round discovers no new hook. Each hook runs at most once.
func (c *Context) invokeRegistryHooks(reg registry.ComponentRegistry) error {
	defReg, structural := reg.(registry.DefinitionRegistry)
	processed := make(map[string]bool)
	var pending []namedHook[RegistryHook]

	var programmaticDefs []DefinitionRegistryHook
	var programmatic []RegistryHook
	for _, h := range c.RegistryHooks() {
		if d, ok := h.(DefinitionRegistryHook); ok && structural {
			programmaticDefs = append(programmaticDefs, d)
			continue
		}
		programmatic = append(programmatic, h)
	}

	runDefinitionHooks := func() error {
		for {
			hooks, err := discoverHooks[DefinitionRegistryHook](reg, definitionHookType, processed)
			if err != nil {
				return err
			}
			if len(hooks) == 0 {
				return nil
			}
			for _, h := range hooks {
				if err := c.registerDefinitions(h.name, h.hook, defReg); err != nil {
					return err
				}
				pending = append(pending, namedHook[RegistryHook]{name: h.name, hook: h.hook})
			}
		}
	}

	if structural {
		if err := runDefinitionHooks(); err != nil {
			return err
		}
		for _, h := range programmaticDefs {
			name := hookName(h)
			if err := c.registerDefinitions(name, h, defReg); err != nil {
				return err
			}
			pending = append(pending, namedHook[RegistryHook]{name: name, hook: h})
			if err := runDefinitionHooks(); err != nil {
				return err
			}
		}
	}

	for round := 0; ; round++ {
		if structural && round > 0 {
			if err := runDefinitionHooks(); err != nil {
				return err
			}
		}
		found, err := discoverHooks[RegistryHook](reg, registryHookType, processed)
		if err != nil {
			return err
		}

		batch := append(pending, found...)
		pending = nil
		if round == 0 {
			for _, h := range programmatic {
				batch = append(batch, namedHook[RegistryHook]{name: hookName(h), hook: h})
			}
		}
		if len(batch) == 0 {
			return nil
		}

		for _, h := range batch {
			c.logger.Debug("Invoking registry hook", "hook", h.name, "round", round)
			if err := h.hook.PostProcessRegistry(reg); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrRegistryHookFailed, h.name, err)
			}
		}
	}
}

func (c *Context) registerDefinitions(name string, hook DefinitionRegistryHook, reg registry.DefinitionRegistry) error {
	c.logger.Debug("Invoking definition registry hook", "hook", name)
	if err := hook.RegisterDefinitions(reg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRegistryHookFailed, name, err)
	}
	return nil
}

// registerInstanceHooks resolves every instance hook component and adds them
// to the registry in priority order. The listener detector is moved last so
// it sees the final instances.
func (c *Context) registerInstanceHooks(reg registry.ComponentRegistry) error {
	hooks, err := discoverHooks[registry.InstanceHook](reg, instanceHookType, make(map[string]bool))
	if err != nil {
		return err
	}
	for _, h := range hooks {
		c.logger.Debug("Registering instance hook", "hook", h.name)
		reg.AddInstanceHook(h.hook)
	}
	reg.AddInstanceHook(c.detector)
	return nil
}
