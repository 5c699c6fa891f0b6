package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

type (
	// Args represents a map of named values passed into or out of a run
	Args map[Name]any

	// Name is a string identifier for parameters and context variables
	Name string

	argPair struct {
		K string `json:"k"`
		V any    `json:"v"`
	}
)

var (
	ErrMarshalArgs = errors.New("failed to marshal args")
)

// Set creates a new Args with the specified name-value pair added
func (a Args) Set(name Name, value any) Args {
	if a == nil {
		return Args{name: value}
	}
	res := maps.Clone(a)
	res[name] = value
	return res
}

// GetString retrieves a string value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetString(name Name, defaultValue string) string {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	str, ok := val.(string)
	if !ok {
		return defaultValue
	}
	return str
}

// GetBool retrieves a boolean value from args, returning defaultValue if not
// found or wrong type
func (a Args) GetBool(name Name, defaultValue bool) bool {
	val, ok := a[name]
	if !ok {
		return defaultValue
	}
	b, ok := val.(bool)
	if !ok {
		return defaultValue
	}
	return b
}

// Names returns the argument names in sorted order
func (a Args) Names() []Name {
	names := make([]Name, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// ToMap converts the Args into a plain string-keyed map, which is the shape
// capabilities and JSON encoders expect
func (a Args) ToMap() map[string]any {
	res := make(map[string]any, len(a))
	for k, v := range a {
		res[string(k)] = v
	}
	return res
}

// ArgsFromMap converts a plain string-keyed map into Args
func ArgsFromMap(m map[string]any) Args {
	res := make(Args, len(m))
	for k, v := range m {
		res[Name(k)] = v
	}
	return res
}

// HashKey computes a deterministic SHA256 hash key of the Args. Keys are
// sorted alphabetically to ensure consistent hashing regardless of map
// iteration order
func (a Args) HashKey() (string, error) {
	if len(a) == 0 {
		return sha256Hex(""), nil
	}

	keys := a.Names()
	pairs := make([]argPair, len(keys))
	for i, k := range keys {
		pairs[i] = argPair{K: string(k), V: a[k]}
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarshalArgs, err)
	}

	return sha256Hex(string(data)), nil
}

func sha256Hex(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}
