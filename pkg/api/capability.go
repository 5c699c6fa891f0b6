package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

type (
	// PromptSource loads an ordered sequence of prompt text for a query
	PromptSource interface {
		Load(ctx context.Context, query string) ([]string, error)
	}

	// MemoryStore is a key-value store for short-term run memory
	MemoryStore interface {
		Get(ctx context.Context, key string) (any, bool, error)
		Put(ctx context.Context, key string, value any) error
	}

	// RemoteEndpoint performs a structured call against an external service.
	// Implementations report retryability through ExternalCallError
	RemoteEndpoint interface {
		Call(ctx context.Context, payload Args) (map[string]any, error)
	}

	// ResourceLoader fetches bytes or structured data by locator
	ResourceLoader interface {
		Fetch(ctx context.Context, locator string) (any, error)
	}

	// ModelAsker asks a model to transform inputs, guided by instructions
	// and few-shot examples
	ModelAsker interface {
		Ask(
			ctx context.Context, guide string, examples []Example, inputs Args,
		) (any, error)
	}

	// UIFeedback requests human feedback for a run. The boolean result is
	// false when no feedback was given
	UIFeedback interface {
		Request(ctx context.Context, req *FeedbackRequest) (any, bool, error)
	}

	// ExampleStore is a versioned store of few-shot examples. A record that
	// does not exist reads as version zero
	ExampleStore interface {
		Read(ctx context.Context, key string) (*ExampleRecord, int64, error)
		WriteIfVersion(
			ctx context.Context, key string, version int64, rec *ExampleRecord,
		) (bool, error)
	}

	// Example is one input/output pair used for few-shot augmentation
	Example struct {
		Input  any `json:"input" yaml:"input"`
		Output any `json:"output" yaml:"output"`
	}

	// ExampleRecord is a versioned entry in an example store
	ExampleRecord struct {
		UpdatedAt time.Time            `json:"updated_at,omitzero"`
		Sections  map[string][]Example `json:"sections"`
		Key       string               `json:"key"`
		Version   int64                `json:"version"`
	}

	// ExampleUpdate merges examples into named sections of a record. When
	// ExpectedVersion is set, the update only commits against that version
	ExampleUpdate struct {
		ExpectedVersion *int64               `json:"expected_version,omitempty"`
		Sections        map[string][]Example `json:"sections"`
	}

	// FeedbackRequest is what a ui_feedback step presents to a human
	FeedbackRequest struct {
		Context map[string]any `json:"context,omitempty"`
		RunID   RunID          `json:"run_id"`
		Step    string         `json:"step"`
	}
)

var (
	ErrInvalidExampleUpdate = errors.New("invalid example update")
	ErrInvalidExample       = errors.New("example requires input and output")
)

// Examples returns all examples of the record, sections in name order
func (r *ExampleRecord) Examples() []Example {
	if r == nil {
		return nil
	}
	var res []Example
	for _, name := range slices.Sorted(maps.Keys(r.Sections)) {
		res = append(res, r.Sections[name]...)
	}
	return res
}

// Section returns a copy of the examples held under one section name
func (r *ExampleRecord) Section(name string) []Example {
	if r == nil {
		return nil
	}
	return slices.Clone(r.Sections[name])
}

// Apply returns the next version of the record with the update merged in.
// An example whose input equals an existing input replaces its output;
// otherwise it is appended. The receiver is not modified
func (r *ExampleRecord) Apply(
	key string, upd *ExampleUpdate, now time.Time,
) *ExampleRecord {
	res := &ExampleRecord{
		Key:       key,
		Sections:  map[string][]Example{},
		UpdatedAt: now,
	}
	if r != nil {
		res.Version = r.Version
		for name, exs := range r.Sections {
			res.Sections[name] = slices.Clone(exs)
		}
	}
	res.Version++

	for name, exs := range upd.Sections {
		section := res.Sections[name]
		for _, ex := range exs {
			if idx := indexOfInput(section, ex.Input); idx >= 0 {
				section[idx] = ex
				continue
			}
			section = append(section, ex)
		}
		res.Sections[name] = section
	}
	return res
}

// ParseExampleUpdate converts a feedback payload into an ExampleUpdate. It
// accepts either {sections: {...}, expected_version: n} or a bare mapping of
// section name to one example or a list of examples
func ParseExampleUpdate(v any) (*ExampleUpdate, error) {
	switch v := v.(type) {
	case *ExampleUpdate:
		return v, nil
	case ExampleUpdate:
		return &v, nil
	case Args:
		return ParseExampleUpdate(v.ToMap())
	case map[string]any:
		return parseExampleMap(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidExampleUpdate, v)
	}
}

func parseExampleMap(m map[string]any) (*ExampleUpdate, error) {
	res := &ExampleUpdate{Sections: map[string][]Example{}}
	sections := m
	if s, ok := m["sections"].(map[string]any); ok {
		sections = s
		if ev, ok := m["expected_version"]; ok {
			ver, err := toInt64(ev)
			if err != nil {
				return nil, err
			}
			res.ExpectedVersion = &ver
		}
	}

	for name, raw := range sections {
		switch raw := raw.(type) {
		case map[string]any:
			ex, err := parseExample(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", err, name)
			}
			res.Sections[name] = []Example{ex}
		case []any:
			for _, item := range raw {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s",
						ErrInvalidExampleUpdate, name)
				}
				ex, err := parseExample(m)
				if err != nil {
					return nil, fmt.Errorf("%w: %s", err, name)
				}
				res.Sections[name] = append(res.Sections[name], ex)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidExampleUpdate, name)
		}
	}
	if len(res.Sections) == 0 {
		return nil, ErrInvalidExampleUpdate
	}
	return res, nil
}

func parseExample(m map[string]any) (Example, error) {
	in, okIn := m["input"]
	out, okOut := m["output"]
	if !okIn || !okOut {
		return Example{}, ErrInvalidExample
	}
	return Example{Input: in, Output: out}, nil
}

func indexOfInput(exs []Example, input any) int {
	for i, ex := range exs {
		if sameValue(ex.Input, input) {
			return i
		}
	}
	return -1
}

func sameValue(l, r any) bool {
	if reflect.DeepEqual(l, r) {
		return true
	}
	lb, err := json.Marshal(l)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(r)
	if err != nil {
		return false
	}
	return string(lb) == string(rb)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("%w: expected_version %T",
			ErrInvalidExampleUpdate, v)
	}
}
