package blobstore

import (
	"fmt"
	"sort"
	"strings"
)

// ConnectionString holds the key=value pairs of a "k=v;k=v" string. Keys
// compare case-insensitively.
type ConnectionString struct {
	values map[string]string
}

// ParseConnectionString splits s on ';' and each part on the first '='.
// Empty parts are skipped. Values keep any further '=' characters, which
// signatures routinely contain.
func ParseConnectionString(s string) (ConnectionString, error) {
	cs := ConnectionString{values: make(map[string]string)}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return ConnectionString{}, fmt.Errorf("connection string: malformed segment %q", redact(part))
		}
		cs.values[strings.ToLower(key)] = strings.TrimSpace(value)
	}
	if len(cs.values) == 0 {
		return ConnectionString{}, fmt.Errorf("connection string is empty")
	}
	return cs, nil
}

// Get returns the value for key and whether it was present.
func (c ConnectionString) Get(key string) (string, bool) {
	v, ok := c.values[strings.ToLower(key)]
	return v, ok
}

// Value returns the value for key or "".
func (c ConnectionString) Value(key string) string {
	v, _ := c.Get(key)
	return v
}

// Keys lists the keys present, lowercased and sorted.
func (c ConnectionString) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func redact(segment string) string {
	key, _, ok := strings.Cut(segment, "=")
	if !ok {
		if len(segment) > 8 {
			return segment[:8] + "..."
		}
		return segment
	}
	return key + "=***"
}
