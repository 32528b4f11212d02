// Package feeders loads flat property maps from configuration files and the
// process environment. Nested documents are flattened into dotted keys, and
// list entries are addressed as key[i].
package feeders

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Static error definitions for feeders
var (
	ErrDotEnvInvalidLineFormat = errors.New("invalid .env line format")
	ErrUnsupportedFileType     = errors.New("unsupported configuration file type")
	ErrFeedFailed              = errors.New("failed to feed properties")
)

// DebugLogger receives verbose feeder output
type DebugLogger interface {
	Debug(msg string, args ...any)
}

// verbose carries the optional debug logging shared by all feeders
type verbose struct {
	enabled bool
	logger  DebugLogger
}

// SetVerboseDebug enables or disables verbose debug logging
func (v *verbose) SetVerboseDebug(enabled bool, logger DebugLogger) {
	v.enabled = enabled
	v.logger = logger
	if enabled && logger != nil {
		logger.Debug("Verbose feeder debugging enabled")
	}
}

func (v *verbose) debug(msg string, args ...any) {
	if v.enabled && v.logger != nil {
		v.logger.Debug(msg, args...)
	}
}

// Flatten converts a nested document into dotted keys. Scalar lists are kept
// under their own key as well as under indexed keys.
func Flatten(document map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range slices.Sorted(maps.Keys(document)) {
		flatten(k, document[k], out)
	}
	return out
}

func flatten(prefix string, value any, out map[string]any) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(prefix, k), child, out)
		}
	case map[any]any:
		for k, child := range v {
			flatten(join(prefix, fmt.Sprint(k)), child, out)
		}
	case []map[string]any:
		for i, child := range v {
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	case []any:
		scalars := true
		for i, child := range v {
			switch child.(type) {
			case map[string]any, map[any]any, []any, []map[string]any:
				scalars = false
			}
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
		if scalars {
			out[prefix] = v
		}
	default:
		out[prefix] = v
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
