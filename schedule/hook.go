package schedule

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/GoCodeAlone/appcontext/registry"
)

// Well-known component names used by Register
const (
	SchedulerName = "scheduler"
	HookName      = "schedulerHook"
)

// Hook is an instance hook adding the jobs of every created Scheduled
// component to a scheduler and removing them when the component is destroyed.
// Job names are prefixed with the component name.
type Hook struct {
	scheduler *Scheduler

	mu    sync.Mutex
	owned map[string][]string
}

// NewHook creates a hook feeding s
func NewHook(s *Scheduler) *Hook {
	return &Hook{scheduler: s, owned: make(map[string][]string)}
}

// Register adds s and its hook to reg as singletons, so a context refresh
// installs the hook and starts the scheduler
func Register(reg registry.ComponentRegistry, s *Scheduler) error {
	if err := reg.RegisterSingleton(SchedulerName, s); err != nil {
		return err
	}
	return reg.RegisterSingleton(HookName, NewHook(s))
}

func (h *Hook) BeforeInit(string, any) (any, error) {
	return nil, nil
}

func (h *Hook) AfterInit(name string, instance any) (any, error) {
	scheduled, ok := instance.(Scheduled)
	if !ok {
		return nil, nil
	}

	var added []string
	for _, j := range scheduled.Schedules() {
		jobName := name + "." + j.Name
		if err := h.scheduler.Add(j.Spec, jobName, j.Run); err != nil {
			for _, n := range added {
				_ = h.scheduler.Remove(n)
			}
			return nil, err
		}
		added = append(added, jobName)
	}

	h.mu.Lock()
	h.owned[name] = added
	h.mu.Unlock()
	return nil, nil
}

func (h *Hook) BeforeDestroy(name string, _ any) error {
	h.mu.Lock()
	jobs := h.owned[name]
	delete(h.owned, name)
	h.mu.Unlock()

	var errs error
	for _, n := range jobs {
		errs = multierr.Append(errs, h.scheduler.Remove(n))
	}
	return errs
}
