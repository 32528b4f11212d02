package environment

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// Names of the built-in property sources
const (
	SystemPropertiesSourceName  = "systemProperties"
	SystemEnvironmentSourceName = "systemEnvironment"
)

// PropertySource is a named set of properties
type PropertySource interface {
	Name() string
	Property(key string) (any, bool)
	Keys() []string
}

// MapSource is a PropertySource backed by a map. It is safe for concurrent use
// and can be replaced wholesale when its backing file changes.
type MapSource struct {
	name   string
	mu     sync.RWMutex
	values map[string]any
}

// NewMapSource creates a source holding a copy of values
func NewMapSource(name string, values map[string]any) *MapSource {
	s := &MapSource{name: name, values: make(map[string]any, len(values))}
	maps.Copy(s.values, values)
	return s
}

func (s *MapSource) Name() string { return s.name }

func (s *MapSource) Property(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MapSource) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Set stores a single property
func (s *MapSource) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes a property and reports whether it existed
func (s *MapSource) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	delete(s.values, key)
	return ok
}

// Replace swaps all values and returns the keys that were added, removed or
// changed.
func (s *MapSource) Replace(values map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for k, v := range values {
		old, ok := s.values[k]
		if !ok || !equalValues(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range s.values {
		if _, ok := values[k]; !ok {
			changed = append(changed, k)
		}
	}

	s.values = make(map[string]any, len(values))
	maps.Copy(s.values, values)
	slices.Sort(changed)
	return changed
}

func equalValues(a, b any) bool {
	return stringify(a) == stringify(b)
}

// SystemEnvironment returns a snapshot of the process environment
func SystemEnvironment() *MapSource {
	values := make(map[string]any)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		values[key] = value
	}
	return NewMapSource(SystemEnvironmentSourceName, values)
}

// SystemProperties returns process-level properties that are not part of the
// environment, such as the working directory and host name.
func SystemProperties() *MapSource {
	values := map[string]any{
		"process.pid": os.Getpid(),
	}
	if wd, err := os.Getwd(); err == nil {
		values["process.workdir"] = wd
	}
	if host, err := os.Hostname(); err == nil {
		values["host.name"] = host
	}
	if exe, err := os.Executable(); err == nil {
		values["process.executable"] = exe
	}
	if len(os.Args) > 0 {
		values["process.args"] = strings.Join(os.Args[1:], " ")
	}
	return NewMapSource(SystemPropertiesSourceName, values)
}
