package environment

import (
	"fmt"
	"strings"
)

const (
	placeholderPrefix = "${"
	placeholderSuffix = "}"
	valueSeparator    = ":"
)

// ResolvePlaceholders replaces ${key} and ${key:default} references in text.
// Placeholders that cannot be resolved are left untouched.
func (e *Environment) ResolvePlaceholders(text string) string {
	out, _ := e.resolvePlaceholders(text, false, map[string]bool{})
	return out
}

// ResolveRequiredPlaceholders is like ResolvePlaceholders but fails on the
// first placeholder without a value or default.
func (e *Environment) ResolveRequiredPlaceholders(text string) (string, error) {
	return e.resolvePlaceholders(text, true, map[string]bool{})
}

func (e *Environment) resolvePlaceholders(text string, strict bool, visiting map[string]bool) (string, error) {
	if !strings.Contains(text, placeholderPrefix) {
		return text, nil
	}

	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, placeholderPrefix)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := findPlaceholderEnd(rest, start+len(placeholderPrefix))
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		placeholder := rest[start : end+len(placeholderSuffix)]
		keyExpr, def, hasDefault := splitDefault(rest[start+len(placeholderPrefix) : end])

		key, err := e.resolvePlaceholders(keyExpr, strict, visiting)
		if err != nil {
			return "", err
		}

		switch raw, ok := e.RawProperty(key); {
		case ok && visiting[key]:
			if strict {
				return "", fmt.Errorf("%w: %s", ErrCircularPlaceholder, key)
			}
			b.WriteString(placeholder)
		case ok:
			visiting[key] = true
			value, err := e.resolvePlaceholders(stringify(raw), strict, visiting)
			delete(visiting, key)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
		case hasDefault:
			value, err := e.resolvePlaceholders(def, strict, visiting)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
		case strict:
			return "", fmt.Errorf("%w %q in value %q", ErrUnresolvablePlaceholder, key, text)
		default:
			b.WriteString(placeholder)
		}

		rest = rest[end+len(placeholderSuffix):]
	}
	return b.String(), nil
}

// findPlaceholderEnd returns the index of the suffix closing the placeholder
// whose body starts at from, honouring nested placeholders.
func findPlaceholderEnd(s string, from int) int {
	depth := 0
	for i := from; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], placeholderPrefix):
			depth++
			i += len(placeholderPrefix) - 1
		case strings.HasPrefix(s[i:], placeholderSuffix):
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// splitDefault splits "key:default" at the first separator outside nested
// placeholders.
func splitDefault(body string) (key, def string, ok bool) {
	depth := 0
	for i := 0; i < len(body); i++ {
		switch {
		case strings.HasPrefix(body[i:], placeholderPrefix):
			depth++
			i += len(placeholderPrefix) - 1
		case strings.HasPrefix(body[i:], placeholderSuffix):
			depth--
		case depth == 0 && strings.HasPrefix(body[i:], valueSeparator):
			return body[:i], body[i+len(valueSeparator):], true
		}
	}
	return body, "", false
}
