package feeders

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DotEnvFeeder is a feeder that reads KEY=value pairs from .env files
type DotEnvFeeder struct {
	Path string
	verbose
}

// NewDotEnvFeeder creates a new DotEnvFeeder that reads from the specified .env file
func NewDotEnvFeeder(filePath string) *DotEnvFeeder {
	return &DotEnvFeeder{Path: filePath}
}

// FilePath returns the watched file
func (f *DotEnvFeeder) FilePath() string {
	return f.Path
}

// FeedProperties parses the file. Keys are kept exactly as written and the
// process environment is left untouched.
func (f *DotEnvFeeder) FeedProperties() (map[string]any, error) {
	f.debug("DotEnvFeeder: Parsing .env file", "filePath", f.Path)

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open .env file: %w", ErrFeedFailed, err)
	}
	defer file.Close()

	props := make(map[string]any)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, err := parseEnvLine(line, lineNum)
		if err != nil {
			f.debug("DotEnvFeeder: Failed to parse line", "lineNum", lineNum, "error", err)
			return nil, err
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scanner error: %w", ErrFeedFailed, err)
	}

	f.debug("DotEnvFeeder: Successfully parsed .env file", "filePath", f.Path, "linesProcessed", lineNum, "varsFound", len(props))
	return props, nil
}

// parseEnvLine splits a single line into key and value
func parseEnvLine(line string, lineNum int) (string, string, error) {
	line = strings.TrimPrefix(line, "export ")
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return "", "", fmt.Errorf("%w at line %d: %s", ErrDotEnvInvalidLineFormat, lineNum, line)
	}

	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])

	// Remove quotes if present
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			return key, value[1 : len(value)-1], nil
		}
	}

	// strip trailing comments from unquoted values
	if i := strings.Index(value, " #"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return key, value, nil
}
