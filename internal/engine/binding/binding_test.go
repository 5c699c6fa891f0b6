package binding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/pkg/api"
)

func TestResolveConcatenation(t *testing.T) {
	scope := binding.Vars{
		"details": map[string]any{"name": "Apple"},
		"health":  "strong",
	}

	res, err := binding.Resolve(
		"{{details.name}} classified as {{health}}", scope,
	)
	assert.NoError(t, err)
	assert.Equal(t, "Apple classified as strong", res)
}

func TestResolveSinglePlaceholderIsTyped(t *testing.T) {
	financials := map[string]any{
		"revenue": 1000000000,
		"debt":    2000000000,
	}
	scope := binding.Vars{
		"financials": financials,
		"ok":         true,
		"ratio":      2.5,
		"items":      []any{"A", "B"},
	}

	res, err := binding.Resolve("{{financials}}", scope)
	assert.NoError(t, err)
	assert.Equal(t, financials, res)

	res, err = binding.Resolve("{{financials.revenue}}", scope)
	assert.NoError(t, err)
	assert.Equal(t, 1000000000, res)

	res, err = binding.Resolve("{{ ok }}", scope)
	assert.NoError(t, err)
	assert.Equal(t, true, res)

	res, err = binding.Resolve("{{ratio}}", scope)
	assert.NoError(t, err)
	assert.Equal(t, 2.5, res)

	res, err = binding.Resolve("{{items.1}}", scope)
	assert.NoError(t, err)
	assert.Equal(t, "B", res)
}

func TestResolveStringifiesMixedValues(t *testing.T) {
	scope := binding.Vars{
		"revenue": float64(1000000000),
		"flag":    false,
		"data":    map[string]any{"a": 1},
		"none":    nil,
	}

	res, err := binding.Resolve(
		"rev={{revenue}} flag={{flag}} data={{data}} none={{none}}", scope,
	)
	assert.NoError(t, err)
	assert.Equal(t, `rev=1000000000 flag=false data={"a":1} none=`, res)
}

func TestResolveUnbound(t *testing.T) {
	scope := binding.Vars{
		"details": map[string]any{"name": "Apple"},
	}

	tests := []struct {
		tmpl string
		path string
	}{
		{tmpl: "{{health}}", path: "health"},
		{tmpl: "{{details.ticker}}", path: "details.ticker"},
		{tmpl: "{{details.name}} is {{health}}", path: "health"},
		{tmpl: "{{details.name.first}}", path: "details.name.first"},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			res, err := binding.Resolve(tt.tmpl, scope)
			assert.Nil(t, res)
			var unresolved *api.UnresolvedVariableError
			if assert.ErrorAs(t, err, &unresolved) {
				assert.Equal(t, tt.path, unresolved.Path)
			}
		})
	}
}

func TestResolveBoundNil(t *testing.T) {
	res, err := binding.Resolve("{{feedback}}", binding.Vars{"feedback": nil})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolveNoPlaceholders(t *testing.T) {
	res, err := binding.Resolve("plain text", binding.Vars{})
	assert.NoError(t, err)
	assert.Equal(t, "plain text", res)
}

func TestResolveInvalidTemplate(t *testing.T) {
	for _, tmpl := range []string{"{{open", "{{}}", "{{a..b}}", "{{a b}}"} {
		t.Run(tmpl, func(t *testing.T) {
			_, err := binding.Resolve(tmpl, binding.Vars{"a": 1})
			assert.ErrorIs(t, err, binding.ErrInvalidTemplate)
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	scope := binding.Vars{"x": map[string]any{"y": []any{1, 2}}}
	first, err := binding.Resolve("{{x.y}}", scope)
	assert.NoError(t, err)
	for range 5 {
		again, err := binding.Resolve("{{x.y}}", scope)
		assert.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveValueRecurses(t *testing.T) {
	scope := binding.Vars{
		"id":      "A",
		"revenue": 1000,
	}

	res, err := binding.ResolveValue(map[string]any{
		"filing": "{{id}}",
		"nested": map[string]any{
			"amount": "{{revenue}}",
			"label":  "rev {{revenue}}",
		},
		"list":  []any{"{{id}}", 3},
		"fixed": 7,
	}, scope)
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{
		"filing": "A",
		"nested": map[string]any{
			"amount": 1000,
			"label":  "rev 1000",
		},
		"list":  []any{"A", 3},
		"fixed": 7,
	}, res)

	_, err = binding.ResolveValue(
		map[string]any{"x": []any{"{{missing}}"}}, scope,
	)
	var unresolved *api.UnresolvedVariableError
	assert.ErrorAs(t, err, &unresolved)
}

func TestResolveString(t *testing.T) {
	res, err := binding.ResolveString("{{n}}", binding.Vars{"n": 42})
	assert.NoError(t, err)
	assert.Equal(t, "42", res)
}

func TestNavigateTypedStructures(t *testing.T) {
	rec := &api.ExampleRecord{
		Key:     "A",
		Version: 3,
	}
	res, ok := binding.Navigate(rec, []string{"version"})
	assert.True(t, ok)
	assert.Equal(t, float64(3), res)

	args := api.Args{"inner": api.Args{"v": "x"}}
	res, ok = binding.Navigate(args, []string{"inner", "v"})
	assert.True(t, ok)
	assert.Equal(t, "x", res)

	filing := struct {
		Details map[string]any `json:"details"`
		Company string         `json:"company"`
		Tags    []string       `json:"tags"`
		Dotted  string         `json:"a.b"`
	}{
		Details: map[string]any{"debt": 2},
		Company: "Apple",
		Tags:    []string{"10-K", "annual"},
		Dotted:  "dot",
	}
	res, ok = binding.Navigate(filing, []string{"tags", "1"})
	assert.True(t, ok)
	assert.Equal(t, "annual", res)
	res, ok = binding.Navigate(filing, []string{"details", "debt"})
	assert.True(t, ok)
	assert.Equal(t, float64(2), res)
	res, ok = binding.Navigate(filing, []string{"a.b"})
	assert.True(t, ok)
	assert.Equal(t, "dot", res)
	_, ok = binding.Navigate(filing, []string{"missing"})
	assert.False(t, ok)
	_, ok = binding.Navigate(filing, []string{"tags", "9"})
	assert.False(t, ok)

	out, err := binding.Resolve("{{doc.company}} {{doc.tags.0}}",
		binding.Vars{"doc": filing})
	assert.NoError(t, err)
	assert.Equal(t, "Apple 10-K", out)

	_, ok = binding.Navigate([]any{1}, []string{"5"})
	assert.False(t, ok)
	_, ok = binding.Navigate("scalar", []string{"x"})
	assert.False(t, ok)
}

func TestReferences(t *testing.T) {
	refs, err := binding.References(map[string]any{
		"a": "{{details.name}} and {{health}}",
		"b": []any{"{{filing_id}}", 4},
		"c": "no refs",
	})
	assert.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"details.name", "health", "filing_id"}, refs,
	)
	assert.Equal(t, "details", binding.Root("details.name"))
	assert.Equal(t, "health", binding.Root("health"))

	_, err = binding.References("{{broken")
	assert.ErrorIs(t, err, binding.ErrInvalidTemplate)
}

func TestTemplateIntrospection(t *testing.T) {
	tmpl, err := binding.Compile("{{a.b}}")
	assert.NoError(t, err)
	assert.True(t, tmpl.IsSingle())
	assert.Equal(t, []string{"a.b"}, tmpl.Paths())
	assert.Equal(t, "{{a.b}}", tmpl.Raw())

	tmpl, err = binding.Compile(" {{a}}")
	assert.NoError(t, err)
	assert.False(t, tmpl.IsSingle())
}
