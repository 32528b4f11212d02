package feeders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFeeder reads process environment variables carrying a prefix. APP_DB_URL
// with prefix "APP_" becomes the property db.url.
type EnvFeeder struct {
	Prefix string
	verbose
}

// NewEnvFeeder creates a new EnvFeeder for variables starting with prefix
func NewEnvFeeder(prefix string) *EnvFeeder {
	return &EnvFeeder{Prefix: prefix}
}

// FeedProperties maps matching variables to dotted lower-case keys
func (f *EnvFeeder) FeedProperties() (map[string]any, error) {
	props := make(map[string]any)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, f.Prefix) {
			continue
		}
		trimmed := strings.TrimPrefix(name, f.Prefix)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(trimmed, "_", "."))
		f.debug("EnvFeeder: Mapped variable", "envKey", name, "property", key)
		props[key] = value
	}
	return props, nil
}

// FileFeeder is a feeder bound to one configuration file
type FileFeeder interface {
	FeedProperties() (map[string]any, error)
	FilePath() string
	SetVerboseDebug(enabled bool, logger DebugLogger)
}

// ForFile picks a feeder by file extension
func ForFile(path string) (FileFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	case ".env":
		return NewDotEnvFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, path)
	}
}
