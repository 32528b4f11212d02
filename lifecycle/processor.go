package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// Static errors for lifecycle package
var (
	ErrStartFailed         = errors.New("failed to start lifecycle component")
	ErrStopFailed          = errors.New("failed to stop lifecycle component")
	ErrCircularDependency  = errors.New("circular lifecycle dependency detected")
	ErrComponentResolution = errors.New("failed to resolve lifecycle component")
)

// DefaultPhaseTimeout bounds how long one phase may take to stop
const DefaultPhaseTimeout = 30 * time.Second

type member struct {
	name      string
	component Lifecycle
	phase     int
	dependsOn []string
}

func (m member) autoStartup() bool {
	if a, ok := m.component.(AutoStartup); ok {
		return a.IsAutoStartup()
	}
	return true
}

// DefaultProcessor starts phases in ascending order and stops them in
// descending order. Within a phase, DependencyAware ordering applies and
// otherwise components keep registration order.
type DefaultProcessor struct {
	source       ComponentSource
	logger       Logger
	phaseTimeout time.Duration

	mu      sync.Mutex
	members []member
}

// Option configures a DefaultProcessor
type Option func(*DefaultProcessor)

// WithPhaseTimeout sets the stop timeout applied to each phase
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(p *DefaultProcessor) {
		if timeout > 0 {
			p.phaseTimeout = timeout
		}
	}
}

// WithLogger sets the processor logger
func WithLogger(logger Logger) Option {
	return func(p *DefaultProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor creates a processor discovering components from source
func NewProcessor(source ComponentSource, opts ...Option) *DefaultProcessor {
	p := &DefaultProcessor{
		source:       source,
		logger:       logging.Nop{},
		phaseTimeout: DefaultPhaseTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnRefresh starts every auto-startup component
func (p *DefaultProcessor) OnRefresh(ctx context.Context) error {
	return p.startMembers(ctx, true)
}

// Start starts every lifecycle component, including those not auto-started
func (p *DefaultProcessor) Start(ctx context.Context) error {
	return p.startMembers(ctx, false)
}

// OnClose stops every running component
func (p *DefaultProcessor) OnClose(ctx context.Context) error {
	return p.stopMembers(ctx)
}

// Stop stops every running component
func (p *DefaultProcessor) Stop(ctx context.Context) error {
	return p.stopMembers(ctx)
}

// IsRunning reports whether any known component is running
func (p *DefaultProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m.component.IsRunning() {
			return true
		}
	}
	return false
}

func (p *DefaultProcessor) startMembers(ctx context.Context, autoOnly bool) error {
	members, err := p.discover()
	if err != nil {
		return err
	}

	byPhase := groupByPhase(members)
	for _, phase := range slices.Sorted(maps.Keys(byPhase)) {
		ordered, err := orderPhase(byPhase[phase])
		if err != nil {
			return err
		}
		for _, m := range ordered {
			if autoOnly && !m.autoStartup() {
				p.logger.Debug("Lifecycle component is not auto-startup, skipping", "component", m.name)
				continue
			}
			if m.component.IsRunning() {
				continue
			}
			p.logger.Info("Starting lifecycle component", "component", m.name, "phase", phase)
			if err := m.component.Start(ctx); err != nil {
				return fmt.Errorf("%w: %s (phase %d): %w", ErrStartFailed, m.name, phase, err)
			}
		}
	}
	return nil
}

func (p *DefaultProcessor) stopMembers(ctx context.Context) error {
	p.mu.Lock()
	members := slices.Clone(p.members)
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	byPhase := groupByPhase(members)
	for _, phase := range slices.Backward(slices.Sorted(maps.Keys(byPhase))) {
		ordered, err := orderPhase(byPhase[phase])
		if err != nil {
			// stop in reverse registration order instead
			p.logger.Warn("Lifecycle phase has a dependency cycle", "phase", phase, "error", err)
			ordered = byPhase[phase]
		}

		phaseCtx, cancel := context.WithTimeout(ctx, p.phaseTimeout)
		for _, m := range slices.Backward(ordered) {
			if !m.component.IsRunning() {
				continue
			}
			p.logger.Info("Stopping lifecycle component", "component", m.name, "phase", phase)
			if err := m.component.Stop(phaseCtx); err != nil {
				p.logger.Warn("Error stopping lifecycle component", "component", m.name, "error", err)
				errs = multierr.Append(errs, fmt.Errorf("%w: %s (phase %d): %w", ErrStopFailed, m.name, phase, err))
			}
		}
		cancel()
	}
	return errs
}

// discover resolves all lifecycle components and remembers them for Stop and
// IsRunning
func (p *DefaultProcessor) discover() ([]member, error) {
	var members []member
	for _, name := range p.source.NamesOfType(lifecycleType, false) {
		instance, err := p.source.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrComponentResolution, name, err)
		}
		if self, ok := instance.(*DefaultProcessor); ok && self == p {
			continue
		}
		component, ok := instance.(Lifecycle)
		if !ok {
			continue
		}

		m := member{name: name, component: component, phase: DefaultPhase}
		if phased, ok := component.(Phased); ok {
			m.phase = phased.Phase()
		}
		if deps, ok := component.(DependencyAware); ok {
			m.dependsOn = deps.DependsOn()
		}
		members = append(members, m)
	}

	p.mu.Lock()
	p.members = members
	p.mu.Unlock()
	return members, nil
}

func groupByPhase(members []member) map[int][]member {
	byPhase := make(map[int][]member)
	for _, m := range members {
		byPhase[m.phase] = append(byPhase[m.phase], m)
	}
	return byPhase
}

// orderPhase sorts a phase topologically so that dependencies come first.
// Dependencies outside the phase are already handled by phase ordering.
func orderPhase(members []member) ([]member, error) {
	index := make(map[string]member, len(members))
	for _, m := range members {
		index[m.name] = m
	}

	var result []member
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(m member) error
	visit = func(m member) error {
		if temp[m.name] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, m.name)
		}
		if visited[m.name] {
			return nil
		}
		temp[m.name] = true

		for _, dep := range m.dependsOn {
			depMember, inPhase := index[dep]
			if !inPhase {
				continue
			}
			if err := visit(depMember); err != nil {
				return err
			}
		}

		visited[m.name] = true
		temp[m.name] = false
		result = append(result, m)
		return nil
	}

	for _, m := range members {
		if !visited[m.name] {
			if err := visit(m); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
