package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Provisioner errors
var (
	ErrRefreshNotSupported = errors.New("registry does not support multiple refresh attempts")
	ErrLoadDefinitions     = errors.New("failed to load component definitions")
)

// GenericProvisioner hands out one fixed registry exactly once. A second
// Provision call fails, which makes a closed context impossible to refresh.
type GenericProvisioner struct {
	registry  *Registry
	refreshed atomic.Bool
}

// NewGenericProvisioner creates a provisioner around a new empty registry.
// Definitions are registered on Registry() before the first refresh.
func NewGenericProvisioner() *GenericProvisioner {
	return &GenericProvisioner{registry: New()}
}

// Registry exposes the fixed registry for definition registration
func (p *GenericProvisioner) Registry() *Registry {
	return p.registry
}

// Provision returns the fixed registry on the first call only
func (p *GenericProvisioner) Provision() (ComponentRegistry, error) {
	if !p.refreshed.CompareAndSwap(false, true) {
		return nil, ErrRefreshNotSupported
	}
	return p.registry, nil
}

// Release keeps the registry; its instances were already destroyed
func (p *GenericProvisioner) Release() error {
	return nil
}

// Loader registers definitions into a freshly created registry.
type Loader func(reg DefinitionRegistry) error

// RefreshableProvisioner builds a new registry for every refresh by running
// its loaders, destroying the previous registry first.
type RefreshableProvisioner struct {
	mu      sync.Mutex
	loaders []Loader
	current *Registry
}

// NewRefreshableProvisioner creates a provisioner running loaders on every refresh
func NewRefreshableProvisioner(loaders ...Loader) *RefreshableProvisioner {
	return &RefreshableProvisioner{loaders: loaders}
}

// AddLoader appends a loader used from the next refresh on
func (p *RefreshableProvisioner) AddLoader(loader Loader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaders = append(p.loaders, loader)
}

// Provision destroys any previous registry and loads a new one
func (p *RefreshableProvisioner) Provision() (ComponentRegistry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		previous := p.current
		p.current = nil
		if err := previous.DestroyAll(); err != nil {
			return nil, fmt.Errorf("failed to destroy previous registry: %w", err)
		}
	}

	reg := New()
	for i, load := range p.loaders {
		if err := load(reg); err != nil {
			return nil, fmt.Errorf("%w: loader %d: %w", ErrLoadDefinitions, i, err)
		}
	}
	p.current = reg
	return reg, nil
}

// Release drops the current registry
func (p *RefreshableProvisioner) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	return nil
}

// Current returns the registry of the running cycle, or nil
func (p *RefreshableProvisioner) Current() *Registry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
