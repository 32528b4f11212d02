package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Static errors for registry package
var (
	ErrComponentNotFound          = errors.New("component not found")
	ErrComponentAlreadyRegistered = errors.New("component already registered")
	ErrInvalidDefinition          = errors.New("invalid component definition")
	ErrRegistryFrozen             = errors.New("registry is frozen, definitions can no longer change")
	ErrCircularReference          = errors.New("circular component reference")
	ErrCreationFailed             = errors.New("component creation failed")
	ErrNilInstance                = errors.New("factory returned a nil instance")
	ErrNoComponentOfType          = errors.New("no component of requested type")
	ErrAmbiguousType              = errors.New("ambiguous type resolution: multiple components match")
	ErrAutowireIgnored            = errors.New("type is excluded from by-type resolution")
	ErrDestroyFailed              = errors.New("component destruction failed")
)

// ReadyAware is implemented by components that want a callback once every
// non-lazy component has been created by PreInstantiate.
type ReadyAware interface {
	OnAllInstantiated() error
}

// Registry implements DefinitionRegistry with map-based storage.
type Registry struct {
	mu              sync.RWMutex
	definitions     map[string]*Definition
	definitionNames []string
	singletons      map[string]any
	manualNames     []string
	created         []string
	creating        map[string]chan struct{}
	hooks           []InstanceHook
	ignored         map[reflect.Type]struct{}
	resolvable      map[reflect.Type]any
	typeCache       map[string]reflect.Type
	valueResolver   ValueResolver
	frozen          bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
		singletons:  make(map[string]any),
		creating:    make(map[string]chan struct{}),
		ignored:     make(map[reflect.Type]struct{}),
		resolvable:  make(map[reflect.Type]any),
		typeCache:   make(map[string]reflect.Type),
	}
}

// RegisterDefinition adds a component definition
func (r *Registry) RegisterDefinition(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("%w: definition must have a name", ErrInvalidDefinition)
	}
	if def.Factory == nil {
		return fmt.Errorf("%w: %s has no factory", ErrInvalidDefinition, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, def.Name)
	}
	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, def.Name)
	}
	if _, exists := r.singletons[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, def.Name)
	}

	stored := def.clone()
	if stored.Properties == nil {
		stored.Properties = make(map[string]string)
	}
	r.definitions[def.Name] = stored
	r.definitionNames = append(r.definitionNames, def.Name)
	return nil
}

// Definition returns the stored definition. Hooks may modify it in place
// until the registry is frozen.
func (r *Registry) Definition(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.definitions[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return def, nil
}

// DefinitionNames returns definition names in registration order
func (r *Registry) DefinitionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.definitionNames)
}

// RemoveDefinition removes a definition that has not been frozen yet
func (r *Registry) RemoveDefinition(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot remove %s", ErrRegistryFrozen, name)
	}
	if _, exists := r.definitions[name]; !exists {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	delete(r.definitions, name)
	delete(r.typeCache, name)
	r.definitionNames = slices.DeleteFunc(r.definitionNames, func(n string) bool { return n == name })
	return nil
}

// RegisterSingleton registers a ready-made instance
func (r *Registry) RegisterSingleton(name string, instance any) error {
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrNilInstance, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.singletons[name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, name)
	}
	if _, exists := r.definitions[name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, name)
	}
	r.singletons[name] = instance
	r.manualNames = append(r.manualNames, name)
	r.created = append(r.created, name)
	r.typeCache[name] = reflect.TypeOf(instance)
	return nil
}

// ContainsLocal reports whether name is known to this registry
func (r *Registry) ContainsLocal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.singletons[name]; exists {
		return true
	}
	_, exists := r.definitions[name]
	return exists
}

// Resolve returns the instance registered under name, creating it on first use
func (r *Registry) Resolve(name string) (any, error) {
	return r.resolve(name, nil)
}

func (r *Registry) resolve(name string, chain []string) (any, error) {
	for {
		r.mu.Lock()
		if instance, exists := r.singletons[name]; exists {
			r.mu.Unlock()
			return instance, nil
		}
		def, exists := r.definitions[name]
		if !exists {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
		}
		if slices.Contains(chain, name) {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrCircularReference, strings.Join(append(chain, name), " -> "))
		}
		if done, busy := r.creating[name]; busy {
			// another goroutine is creating it
			r.mu.Unlock()
			<-done
			continue
		}

		done := make(chan struct{})
		r.creating[name] = done
		def = def.clone()
		r.mu.Unlock()

		instance, err := r.create(def, append(slices.Clone(chain), name))

		r.mu.Lock()
		delete(r.creating, name)
		if err == nil {
			r.singletons[name] = instance
			r.created = append(r.created, name)
			r.typeCache[name] = reflect.TypeOf(instance)
		}
		r.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		return instance, nil
	}
}

// create runs the factory, the instance hooks and the Init callback
func (r *Registry) create(def *Definition, chain []string) (any, error) {
	for _, dep := range def.DependsOn {
		if _, err := r.resolve(dep, chain); err != nil {
			return nil, fmt.Errorf("%w: %s depends on %s: %w", ErrCreationFailed, def.Name, dep, err)
		}
	}

	r.mu.RLock()
	valueResolver := r.valueResolver
	hooks := slices.Clone(r.hooks)
	r.mu.RUnlock()

	props := make(map[string]string, len(def.Properties))
	for key, raw := range def.Properties {
		value := raw
		if valueResolver != nil {
			resolved, err := valueResolver(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s property %q: %w", ErrCreationFailed, def.Name, key, err)
			}
			value = resolved
		}
		props[key] = value
	}

	instance, err := def.Factory(&factoryResolver{registry: r, chain: chain, props: props})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreationFailed, def.Name, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilInstance, def.Name)
	}

	for _, hook := range hooks {
		replaced, err := hook.BeforeInit(def.Name, instance)
		if err != nil {
			return nil, r.abortCreation(def, instance, err)
		}
		if replaced != nil {
			instance = replaced
		}
	}

	if initializer, ok := instance.(Initializer); ok {
		if err := initializer.Init(); err != nil {
			return nil, r.abortCreation(def, instance, err)
		}
	}

	for _, hook := range hooks {
		replaced, err := hook.AfterInit(def.Name, instance)
		if err != nil {
			return nil, r.abortCreation(def, instance, err)
		}
		if replaced != nil {
			instance = replaced
		}
	}

	return instance, nil
}

// abortCreation destroys a half-initialized instance and wraps cause
func (r *Registry) abortCreation(def *Definition, instance any, cause error) error {
	if err := destroyInstance(def, instance); err != nil {
		cause = multierr.Append(cause, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrCreationFailed, def.Name, cause)
}

// ResolveByType returns the single component matching t
func (r *Registry) ResolveByType(t reflect.Type) (any, error) {
	return r.resolveByType(t, nil)
}

func (r *Registry) resolveByType(t reflect.Type, chain []string) (any, error) {
	names := r.namesOfType(t, true, chain)
	switch len(names) {
	case 0:
		return nil, fmt.Errorf("%w: %v", ErrNoComponentOfType, t)
	case 1:
		return r.resolve(names[0], chain)
	}

	var primaries []string
	r.mu.RLock()
	for _, name := range names {
		if def, exists := r.definitions[name]; exists && def.Primary {
			primaries = append(primaries, name)
		}
	}
	r.mu.RUnlock()

	if len(primaries) == 1 {
		return r.resolve(primaries[0], chain)
	}
	return nil, fmt.Errorf("%w: %v: %s", ErrAmbiguousType, t, strings.Join(names, ", "))
}

// NamesOfType returns the names of matching components in registration order.
// Definitions come first, then singletons registered directly.
func (r *Registry) NamesOfType(t reflect.Type, allowEagerInit bool) []string {
	return r.namesOfType(t, allowEagerInit, nil)
}

// namesOfType creates untyped definitions within the creation chain of the
// caller, so a creation reaching back into the chain fails as a circular
// reference and is skipped
func (r *Registry) namesOfType(t reflect.Type, allowEagerInit bool, chain []string) []string {
	var (
		matches []string
		untyped []string
	)

	r.mu.RLock()
	for _, name := range r.definitionNames {
		def := r.definitions[name]
		if instance, exists := r.singletons[name]; exists {
			if typeMatches(reflect.TypeOf(instance), t) {
				matches = append(matches, name)
			}
			continue
		}
		if def.Type != nil {
			if typeMatches(def.Type, t) {
				matches = append(matches, name)
			}
			continue
		}
		if cached, ok := r.typeCache[name]; ok {
			if typeMatches(cached, t) {
				matches = append(matches, name)
			}
			continue
		}
		if _, busy := r.creating[name]; busy {
			continue
		}
		if allowEagerInit && !def.Lazy {
			untyped = append(untyped, name)
		}
	}
	manual := slices.Clone(r.manualNames)
	r.mu.RUnlock()

	for _, name := range untyped {
		instance, err := r.resolve(name, chain)
		if err != nil {
			continue
		}
		if typeMatches(reflect.TypeOf(instance), t) {
			matches = append(matches, name)
		}
	}
	if len(untyped) > 0 {
		// keep registration order after creating untyped definitions
		order := r.DefinitionNames()
		slices.SortStableFunc(matches, func(a, b string) int {
			return slices.Index(order, a) - slices.Index(order, b)
		})
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range manual {
		instance, exists := r.singletons[name]
		if exists && typeMatches(reflect.TypeOf(instance), t) {
			matches = append(matches, name)
		}
	}
	return matches
}

// Freeze rejects further definition changes
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// IsFrozen reports whether Freeze has been called
func (r *Registry) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// PreInstantiate creates every non-lazy definition in registration order and
// then notifies ReadyAware instances.
func (r *Registry) PreInstantiate() error {
	r.mu.RLock()
	var eager []string
	for _, name := range r.definitionNames {
		if !r.definitions[name].Lazy {
			eager = append(eager, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range eager {
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}

	for _, name := range eager {
		r.mu.RLock()
		instance := r.singletons[name]
		r.mu.RUnlock()
		if ready, ok := instance.(ReadyAware); ok {
			if err := ready.OnAllInstantiated(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCreationFailed, name, err)
			}
		}
	}
	return nil
}

// DestroyAll destroys every created instance in reverse creation order. All
// instances are attempted; failures are aggregated.
func (r *Registry) DestroyAll() error {
	r.mu.Lock()
	order := slices.Clone(r.created)
	instances := r.singletons
	definitions := r.definitions
	hooks := slices.Clone(r.hooks)
	r.singletons = make(map[string]any)
	r.created = nil
	r.manualNames = nil
	r.typeCache = make(map[string]reflect.Type)
	r.mu.Unlock()

	var errs error
	for _, name := range slices.Backward(order) {
		instance, exists := instances[name]
		if !exists {
			continue
		}
		for _, hook := range hooks {
			if aware, ok := hook.(DestructionAwareHook); ok {
				if err := aware.BeforeDestroy(name, instance); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("%w: %s: %w", ErrDestroyFailed, name, err))
				}
			}
		}
		if err := destroyInstance(definitions[name], instance); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %w", ErrDestroyFailed, name, err))
		}
	}
	return errs
}

// destroyInstance runs the definition's destroy callback and the instance's own
func destroyInstance(def *Definition, instance any) error {
	var errs error
	if def != nil && def.DestroyFunc != nil {
		errs = multierr.Append(errs, def.DestroyFunc(instance))
	}
	switch d := instance.(type) {
	case Disposable:
		errs = multierr.Append(errs, d.Destroy())
	case io.Closer:
		errs = multierr.Append(errs, d.Close())
	}
	return errs
}

// AddInstanceHook appends a hook; an identical hook already present is moved
// to the end.
func (r *Registry) AddInstanceHook(hook InstanceHook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reflect.TypeOf(hook).Comparable() {
		r.hooks = slices.DeleteFunc(r.hooks, func(h InstanceHook) bool {
			return reflect.TypeOf(h).Comparable() && h == hook
		})
	}
	r.hooks = append(r.hooks, hook)
}

// IsInCreation reports whether name is being created right now
func (r *Registry) IsInCreation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, busy := r.creating[name]
	return busy
}

// InstanceHookCount returns the number of registered instance hooks
func (r *Registry) InstanceHookCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

// IgnoreAutowireFor excludes t from by-type resolution inside factories
func (r *Registry) IgnoreAutowireFor(t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored[t] = struct{}{}
}

// RegisterResolvableDependency exposes instance to factories resolving t
func (r *Registry) RegisterResolvableDependency(t reflect.Type, instance any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvable[t] = instance
}

// SetValueResolver installs the placeholder resolver for definition properties
func (r *Registry) SetValueResolver(resolver ValueResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valueResolver = resolver
}

// ClearMetadataCache drops cached types of components not yet created
func (r *Registry) ClearMetadataCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.typeCache {
		if _, created := r.singletons[name]; !created {
			delete(r.typeCache, name)
		}
	}
}

// factoryResolver carries the creation chain so nested lookups detect cycles
type factoryResolver struct {
	registry *Registry
	chain    []string
	props    map[string]string
}

func (f *factoryResolver) Resolve(name string) (any, error) {
	return f.registry.resolve(name, f.chain)
}

func (f *factoryResolver) ResolveByType(t reflect.Type) (any, error) {
	f.registry.mu.RLock()
	_, ignored := f.registry.ignored[t]
	dependency, resolvable := f.registry.resolvable[t]
	f.registry.mu.RUnlock()

	if ignored {
		return nil, fmt.Errorf("%w: %v", ErrAutowireIgnored, t)
	}

	instance, err := f.registry.resolveByType(t, f.chain)
	if err == nil {
		return instance, nil
	}
	if resolvable && errors.Is(err, ErrNoComponentOfType) {
		return dependency, nil
	}
	return nil, err
}

func (f *factoryResolver) Property(key string) (string, bool) {
	v, ok := f.props[key]
	return v, ok
}

// Resolve is a typed convenience around Resolver.Resolve
func Resolve[T any](r Resolver, name string) (T, error) {
	var zero T
	instance, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %v", ErrNoComponentOfType, name, instance, TypeOf[T]())
	}
	return typed, nil
}
