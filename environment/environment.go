// Package environment holds the ordered property sources a context resolves
// configuration from, together with placeholder resolution and required
// property validation.
package environment

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golobby/cast"
)

// Static errors for environment package
var (
	ErrPropertyNotFound        = errors.New("property not found")
	ErrMissingRequiredProperty = errors.New("required properties could not be resolved")
	ErrUnresolvablePlaceholder = errors.New("could not resolve placeholder")
	ErrCircularPlaceholder     = errors.New("circular placeholder reference")
	ErrPropertyConversion      = errors.New("property conversion failed")
	ErrSourceNotFound          = errors.New("property source not found")
	ErrDuplicateSource         = errors.New("property source already exists")
	ErrSourceNotReloadable     = errors.New("property source is not backed by a feeder")
)

// MissingRequiredPropertyError lists every required key that could not be
// resolved.
type MissingRequiredPropertyError struct {
	Keys []string
}

func (e *MissingRequiredPropertyError) Error() string {
	return fmt.Sprintf("the following properties were declared as required but could not be resolved: %s",
		strings.Join(e.Keys, ", "))
}

// Is lets errors.Is match ErrMissingRequiredProperty
func (e *MissingRequiredPropertyError) Is(target error) bool {
	return target == ErrMissingRequiredProperty
}

// PropertyFeeder loads a flat property map, for example from a file
type PropertyFeeder interface {
	FeedProperties() (map[string]any, error)
}

// FileFeeder is a PropertyFeeder backed by a single file that can be watched
type FileFeeder interface {
	PropertyFeeder
	FilePath() string
}

// Environment is an ordered list of property sources. Lookups walk the
// sources in order and the first source holding a key wins.
type Environment struct {
	mu       sync.RWMutex
	sources  []PropertySource
	feeders  map[string]PropertyFeeder
	required []string
}

// New creates an environment over the given sources, highest precedence first
func New(sources ...PropertySource) *Environment {
	return &Environment{
		sources: slices.Clone(sources),
		feeders: make(map[string]PropertyFeeder),
	}
}

// NewStandard creates an environment with system properties followed by the
// process environment.
func NewStandard() *Environment {
	return New(SystemProperties(), SystemEnvironment())
}

// AddFirst inserts a source with the highest precedence
func (e *Environment) AddFirst(source PropertySource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(source.Name()) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, source.Name())
	}
	e.sources = slices.Insert(e.sources, 0, source)
	return nil
}

// AddLast appends a source with the lowest precedence
func (e *Environment) AddLast(source PropertySource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(source.Name()) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, source.Name())
	}
	e.sources = append(e.sources, source)
	return nil
}

// AddFeeder loads properties from feeder into a new source with the lowest
// precedence. The feeder is kept so the source can be reloaded later.
func (e *Environment) AddFeeder(name string, feeder PropertyFeeder) error {
	values, err := feeder.FeedProperties()
	if err != nil {
		return fmt.Errorf("failed to feed property source %s: %w", name, err)
	}
	if err := e.AddLast(NewMapSource(name, values)); err != nil {
		return err
	}

	e.mu.Lock()
	e.feeders[name] = feeder
	e.mu.Unlock()
	return nil
}

// Reload feeds a feeder-backed source again and returns the changed keys
func (e *Environment) Reload(name string) ([]string, error) {
	e.mu.RLock()
	feeder, ok := e.feeders[name]
	idx := e.indexOf(name)
	var source PropertySource
	if idx >= 0 {
		source = e.sources[idx]
	}
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotReloadable, name)
	}
	ms, isMap := source.(*MapSource)
	if !isMap {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	values, err := feeder.FeedProperties()
	if err != nil {
		return nil, fmt.Errorf("failed to reload property source %s: %w", name, err)
	}
	return ms.Replace(values), nil
}

// FileSources returns the watched file path of every file-backed source
func (e *Environment) FileSources() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	files := make(map[string]string)
	for name, f := range e.feeders {
		if ff, ok := f.(FileFeeder); ok {
			files[name] = ff.FilePath()
		}
	}
	return files
}

// Remove drops a source by name
func (e *Environment) Remove(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.indexOf(name)
	if idx < 0 {
		return false
	}
	e.sources = slices.Delete(e.sources, idx, idx+1)
	delete(e.feeders, name)
	return true
}

// Source returns the source with the given name
func (e *Environment) Source(name string) (PropertySource, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.indexOf(name)
	if idx < 0 {
		return nil, false
	}
	return e.sources[idx], true
}

// Sources returns the sources in precedence order
func (e *Environment) Sources() []PropertySource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.sources)
}

func (e *Environment) indexOf(name string) int {
	return slices.IndexFunc(e.sources, func(s PropertySource) bool { return s.Name() == name })
}

// Merge appends every source of parent whose name is not present yet. Parent
// sources keep their relative order and rank below the existing ones.
func (e *Environment) Merge(parent *Environment) {
	if parent == nil || parent == e {
		return
	}
	parentSources := parent.Sources()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range parentSources {
		if e.indexOf(s.Name()) < 0 {
			e.sources = append(e.sources, s)
		}
	}
}

// RawProperty returns the unresolved value of key
func (e *Environment) RawProperty(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.sources {
		if v, ok := s.Property(key); ok {
			return v, true
		}
	}
	return nil, false
}

// ContainsProperty reports whether any source holds key
func (e *Environment) ContainsProperty(key string) bool {
	_, ok := e.RawProperty(key)
	return ok
}

// Property returns the value of key with nested placeholders resolved
func (e *Environment) Property(key string) (string, bool) {
	raw, ok := e.RawProperty(key)
	if !ok {
		return "", false
	}
	return e.ResolvePlaceholders(stringify(raw)), true
}

// PropertyOrDefault returns the value of key or def when it is absent
func (e *Environment) PropertyOrDefault(key, def string) string {
	if v, ok := e.Property(key); ok {
		return v
	}
	return def
}

// RequiredProperty returns the value of key or ErrPropertyNotFound
func (e *Environment) RequiredProperty(key string) (string, error) {
	v, ok := e.Property(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	return v, nil
}

// PropertyAs converts the value of key into t
func (e *Environment) PropertyAs(key string, t reflect.Type) (any, error) {
	v, ok := e.Property(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, key)
	}
	converted, err := cast.FromType(v, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %s as %s: %w", ErrPropertyConversion, key, t, err)
	}
	return converted, nil
}

// Int returns key as an int, or def when absent or malformed
func (e *Environment) Int(key string, def int) int {
	v, err := e.PropertyAs(key, reflect.TypeOf(def))
	if err != nil {
		return def
	}
	return v.(int)
}

// Bool returns key as a bool, or def when absent or malformed
func (e *Environment) Bool(key string, def bool) bool {
	v, err := e.PropertyAs(key, reflect.TypeOf(def))
	if err != nil {
		return def
	}
	return v.(bool)
}

// Duration returns key parsed with time.ParseDuration, or def
func (e *Environment) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.Property(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// SetRequiredProperties declares keys that ValidateRequiredProperties checks
func (e *Environment) SetRequiredProperties(keys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range keys {
		if !slices.Contains(e.required, k) {
			e.required = append(e.required, k)
		}
	}
}

// RequiredProperties returns the declared required keys
func (e *Environment) RequiredProperties() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.required)
}

// ValidateRequiredProperties fails with *MissingRequiredPropertyError when any
// required key is absent.
func (e *Environment) ValidateRequiredProperties() error {
	var missing []string
	for _, k := range e.RequiredProperties() {
		if !e.ContainsProperty(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredPropertyError{Keys: missing}
	}
	return nil
}

// Properties returns every visible key with its resolved value
func (e *Environment) Properties() map[string]string {
	keys := make(map[string]struct{})
	for _, s := range e.Sources() {
		for _, k := range s.Keys() {
			keys[k] = struct{}{}
		}
	}
	out := make(map[string]string, len(keys))
	for k := range keys {
		if v, ok := e.Property(k); ok {
			out[k] = v
		}
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = stringify(p)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}
