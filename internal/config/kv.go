package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Values holds the result of ParseKV. Each entry is a bool, a []string or a
// string.
type Values map[string]any

// ParseKV reads KEY=value lines from path and returns the requested keys.
// "true" and "false" (any case) become bools, values containing a comma
// become trimmed lists and everything else stays a string. The first line
// for a key wins. Every requested key must be present.
func ParseKV(path string, keys ...string) (Values, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	values := make(Values, len(keys))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, raw, ok := strings.Cut(scanner.Text(), "=")
		if !ok || !want[key] {
			continue
		}
		if _, seen := values[key]; seen {
			continue
		}
		values[key] = parseValue(strings.TrimSpace(raw))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	for _, k := range keys {
		if _, ok := values[k]; !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingKey, k, path)
		}
	}
	return values, nil
}

func parseValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return raw
}

// String returns the value for key if it is a string.
func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Bool reports whether key holds the boolean true.
func (v Values) Bool(key string) bool {
	b, _ := v[key].(bool)
	return b
}

// List returns key as a list; a single string becomes a one-element list.
func (v Values) List(key string) []string {
	switch val := v[key].(type) {
	case []string:
		return val
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return nil
}
