package engine

import (
	"encoding/json"
	"reflect"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/pkg/api"
)

// evaluateCondition decides which branch of a conditional runs. A scripted
// condition runs a Lua predicate over its named arguments; otherwise the
// resolved value is compared with Equals, or tested for truthiness
func (e *Engine) evaluateCondition(
	cond *api.Condition, ec *ExecutionContext,
) (bool, error) {
	res, err := e.conditionResult(cond, ec)
	if err != nil {
		return false, err
	}
	return res != cond.Not, nil
}

func (e *Engine) conditionResult(
	cond *api.Condition, ec *ExecutionContext,
) (bool, error) {
	if cond.Script != "" {
		inputs := make(api.Args, len(cond.Args))
		for _, name := range cond.Args {
			v, ok := ec.Lookup(name)
			if !ok {
				return false, &api.UnresolvedVariableError{Path: string(name)}
			}
			inputs[name] = v
		}
		return e.lua.EvaluatePredicate(cond.Script, cond.Args, inputs)
	}

	val, err := binding.Resolve(cond.Value, ec)
	if err != nil {
		return false, err
	}
	if cond.Equals != nil {
		return valuesEqual(val, cond.Equals), nil
	}
	return truthy(val), nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case api.Args:
		return len(v) > 0
	default:
		return true
	}
}

func valuesEqual(l, r any) bool {
	if lf, ok := toFloat(l); ok {
		if rf, ok := toFloat(r); ok {
			return lf == rf
		}
	}
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

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
