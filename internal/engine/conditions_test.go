package engine_test

import (
	"testing"

	"github.com/kode4food/agentflow/internal/assert"
	"github.com/kode4food/agentflow/internal/assert/helpers"
	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
)

func branchFlow(id api.FlowID, when *api.Condition) *api.FlowDefinition {
	return &api.FlowDefinition{
		ID: id,
		Params: []api.Param{
			{Name: "revenue", Type: api.TypeNumber},
			{Name: "debt", Type: api.TypeNumber},
		},
		Gives: &api.Output{Name: "health", Type: api.TypeString},
		Steps: []*api.StepDefinition{{
			Name: "route",
			Kind: api.StepConditional,
			When: when,
			Then: []*api.StepDefinition{{
				Name:   "weak",
				Kind:   api.StepAssignment,
				Params: map[string]any{"value": "weak"},
				Output: "health",
			}},
			Else: []*api.StepDefinition{{
				Name:   "strong",
				Kind:   api.StepAssignment,
				Params: map[string]any{"value": "strong"},
				Output: "health",
			}},
		}},
	}
}

func TestScriptCondition(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(branchFlow("lua", &api.Condition{
			Script: "return debt > revenue",
			Args:   []api.Name{"debt", "revenue"},
		})))

		st := env.RunFlow(t, "lua", api.Args{"revenue": 1e9, "debt": 2e9})
		as.RunStatus(st, api.RunSucceeded)
		as.Equal("weak", st.Result)

		st = env.RunFlow(t, "lua", api.Args{"revenue": 2e9, "debt": 1e9})
		as.RunStatus(st, api.RunSucceeded)
		as.Equal("strong", st.Result)
	})
}

func TestScriptConditionError(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(branchFlow("lua", &api.Condition{
			Script: "return debt.total > revenue",
			Args:   []api.Name{"debt", "revenue"},
		})))

		st := env.RunFlow(t, "lua", api.Args{"revenue": 1, "debt": 2})
		as.RunFailedAt(st, "route", api.KindInternal)
		as.Contains(st.Error.Message, engine.ErrLuaExecution.Error())
	})
}

func TestValueConditions(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.LoadDefinitions(&api.Definitions{
			Flows: []*api.FlowDefinition{
				branchFlow("equals", &api.Condition{
					Value: "{{debt}}", Equals: 2,
				}),
				branchFlow("not", &api.Condition{
					Value: "{{debt}}", Equals: 2, Not: true,
				}),
				branchFlow("truthy", &api.Condition{Value: "{{debt}}"}),
			},
		}))

		cases := []struct {
			flow api.FlowID
			debt any
			want string
		}{
			{"equals", 2.0, "weak"},
			{"equals", 3, "strong"},
			{"not", 2, "strong"},
			{"not", 3, "weak"},
			{"truthy", 1, "weak"},
			{"truthy", 0, "strong"},
		}
		for _, c := range cases {
			st := env.RunFlow(t, c.flow, api.Args{"revenue": 1, "debt": c.debt})
			as.RunStatus(st, api.RunSucceeded)
			as.Equal(c.want, st.Result, "%s debt=%v", c.flow, c.debt)
		}
	})
}

func TestLuaPredicate(t *testing.T) {
	as := assert.New(t)
	env := engine.NewLuaEnv()

	ok, err := env.EvaluatePredicate(
		"return #filings > 1 and filings[1].name == 'Apple'",
		[]api.Name{"filings"},
		api.Args{"filings": []any{
			map[string]any{"name": "Apple"},
			map[string]any{"name": "Microsoft"},
		}},
	)
	as.NoError(err)
	as.True(ok)

	ok, err = env.EvaluatePredicate("return x == nil", []api.Name{"x"}, nil)
	as.NoError(err)
	as.True(ok)

	_, err = env.Compile("return (", nil)
	as.ErrorIs(err, engine.ErrLuaCompile)

	_, err = env.EvaluatePredicate("return os.time()", nil, nil)
	as.ErrorIs(err, engine.ErrLuaExecution)
}
