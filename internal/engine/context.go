package engine

import (
	"fmt"
	"maps"

	"github.com/kode4food/agentflow/pkg/api"
)

// ExecutionContext holds the variables bound during one flow invocation.
// A name is bound at most once. It is owned by a single run and is not
// shared across goroutines
type ExecutionContext struct {
	vars map[api.Name]any
}

// NewExecutionContext creates a context seeded with the given inputs
func NewExecutionContext(inputs api.Args) *ExecutionContext {
	vars := make(map[api.Name]any, len(inputs))
	for k, v := range inputs {
		vars[k] = snapshotValue(v)
	}
	return &ExecutionContext{vars: vars}
}

// Lookup returns the value bound to name
func (c *ExecutionContext) Lookup(name api.Name) (any, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Bind binds a value to a new name. Rebinding a name is an error
func (c *ExecutionContext) Bind(name api.Name, value any) error {
	if _, ok := c.vars[name]; ok {
		return fmt.Errorf("%w: %s", api.ErrRebind, name)
	}
	c.vars[name] = value
	return nil
}

// Has reports whether name is bound
func (c *ExecutionContext) Has(name api.Name) bool {
	_, ok := c.vars[name]
	return ok
}

// Snapshot returns a copy of the current bindings
func (c *ExecutionContext) Snapshot() api.Args {
	return maps.Clone(api.Args(c.vars))
}

// Child creates the isolated context of a nested invocation. Only explicit
// inputs are carried, restricted to the declared parameters when the target
// declares any. Values are copied so the child cannot observe later changes
// made through shared maps or lists
func Child(declared []api.Param, explicit api.Args) *ExecutionContext {
	if len(declared) == 0 {
		return NewExecutionContext(explicit)
	}
	inputs := make(api.Args, len(declared))
	for _, p := range declared {
		if v, ok := explicit[p.Name]; ok {
			inputs[p.Name] = v
		}
	}
	return NewExecutionContext(inputs)
}

func snapshotValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		res := make(map[string]any, len(v))
		for k, e := range v {
			res[k] = snapshotValue(e)
		}
		return res
	case api.Args:
		res := make(api.Args, len(v))
		for k, e := range v {
			res[k] = snapshotValue(e)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = snapshotValue(e)
		}
		return res
	default:
		return v
	}
}
