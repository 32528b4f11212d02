// Package lifecycle coordinates start and stop of lifecycle-aware components
// grouped into ordered phases.
package lifecycle

import (
	"context"
	"reflect"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// Lifecycle is implemented by components with a start/stop life of their own.
type Lifecycle interface {
	// Start begins the component's runtime operations
	Start(ctx context.Context) error

	// Stop halts the component; ctx carries the phase shutdown timeout
	Stop(ctx context.Context) error

	// IsRunning reports whether the component is currently running
	IsRunning() bool
}

// Phased places a component into an ordering phase. Components without a
// phase belong to DefaultPhase.
type Phased interface {
	Phase() int
}

// AutoStartup lets a component opt out of being started on refresh.
// Components not implementing it are started automatically.
type AutoStartup interface {
	IsAutoStartup() bool
}

// DependencyAware orders components within one phase. Names refer to other
// lifecycle components; dependencies start first and stop last.
type DependencyAware interface {
	DependsOn() []string
}

// Processor is the coordinator the application context drives on refresh and
// close.
type Processor interface {
	// OnRefresh starts auto-startup components after a successful refresh
	OnRefresh(ctx context.Context) error

	// OnClose stops running components before the context is destroyed
	OnClose(ctx context.Context) error

	// Start starts every lifecycle component
	Start(ctx context.Context) error

	// Stop stops every running lifecycle component
	Stop(ctx context.Context) error

	// IsRunning reports whether any component is running
	IsRunning() bool
}

// ComponentSource is the view of the component registry the processor needs
// to find lifecycle components.
type ComponentSource interface {
	NamesOfType(t reflect.Type, allowEagerInit bool) []string
	Resolve(name string) (any, error)
}

// Logger is the structured key/value logger used by the processor
type Logger = logging.Logger

// DefaultPhase is the phase of components not implementing Phased
const DefaultPhase = 0

var lifecycleType = reflect.TypeOf((*Lifecycle)(nil)).Elem()
