package binding

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// Scope supplies the values bound to top-level names
	Scope interface {
		Lookup(name api.Name) (any, bool)
	}

	// Vars is a Scope backed by a plain map
	Vars map[api.Name]any
)

// Lookup implements Scope
func (v Vars) Lookup(name api.Name) (any, bool) {
	res, ok := v[name]
	return res, ok
}

// Resolve substitutes every placeholder of tmpl. A template that is a single
// placeholder returns the typed value; anything else returns a string
func Resolve(tmpl string, scope Scope) (any, error) {
	if !HasPlaceholders(tmpl) {
		return tmpl, nil
	}
	t, err := Compile(tmpl)
	if err != nil {
		return nil, err
	}
	return t.Resolve(scope)
}

// ResolveString substitutes every placeholder of tmpl and always returns the
// string form
func ResolveString(tmpl string, scope Scope) (string, error) {
	res, err := Resolve(tmpl, scope)
	if err != nil {
		return "", err
	}
	return Stringify(res)
}

// ResolveValue resolves every string inside value, descending into maps and
// lists. Non-string leaves are returned unchanged
func ResolveValue(value any, scope Scope) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return Resolve(v, scope)
	case map[string]any:
		res := make(map[string]any, len(v))
		for key, val := range v {
			r, err := ResolveValue(val, scope)
			if err != nil {
				return nil, err
			}
			res[key] = r
		}
		return res, nil
	case api.Args:
		res := make(api.Args, len(v))
		for key, val := range v {
			r, err := ResolveValue(val, scope)
			if err != nil {
				return nil, err
			}
			res[key] = r
		}
		return res, nil
	case []any:
		res := make([]any, len(v))
		for i, val := range v {
			r, err := ResolveValue(val, scope)
			if err != nil {
				return nil, err
			}
			res[i] = r
		}
		return res, nil
	case []string:
		res := make([]any, len(v))
		for i, val := range v {
			r, err := Resolve(val, scope)
			if err != nil {
				return nil, err
			}
			res[i] = r
		}
		return res, nil
	default:
		return value, nil
	}
}

// Resolve substitutes the template's placeholders from scope
func (t *Template) Resolve(scope Scope) (any, error) {
	if t.single {
		return lookupPath(scope, t.parts[0])
	}

	var sb strings.Builder
	for _, p := range t.parts {
		if p.path == nil {
			sb.WriteString(p.literal)
			continue
		}
		v, err := lookupPath(scope, p)
		if err != nil {
			return nil, err
		}
		s, err := Stringify(v)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// Stringify renders a resolved value for concatenation into a string.
// Structured values are rendered as JSON
func Stringify(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]any, api.Args, []any, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Navigate walks a dotted path below root
func Navigate(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func lookupPath(scope Scope, p part) (any, error) {
	root, ok := scope.Lookup(api.Name(p.path[0]))
	if !ok {
		return nil, &api.UnresolvedVariableError{Path: p.expr}
	}
	res, ok := Navigate(root, p.path[1:])
	if !ok {
		return nil, &api.UnresolvedVariableError{Path: p.expr}
	}
	return res, nil
}

func step(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case api.Args:
		v, ok := c[api.Name(seg)]
		return v, ok
	case map[api.Name]any:
		v, ok := c[api.Name(seg)]
		return v, ok
	case map[string]string:
		v, ok := c[seg]
		return v, ok
	case []any:
		return index(c, seg)
	case []string:
		return index(c, seg)
	case []map[string]any:
		return index(c, seg)
	case nil, string, bool, int, int64, float64, json.Number:
		return nil, false
	default:
		return jsonStep(cur, seg)
	}
}

func index[T any](list []T, seg string) (any, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= len(list) {
		return nil, false
	}
	return list[i], true
}

// jsonStep walks one segment of a typed structure through its JSON form.
// Objects and arrays come back in their generic shape
func jsonStep(cur any, seg string) (any, bool) {
	data, err := json.Marshal(cur)
	if err != nil {
		return nil, false
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() && !doc.IsArray() {
		return nil, false
	}
	res := doc.Get(gjson.Escape(seg))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
