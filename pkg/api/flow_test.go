package api_test

import (
	"testing"

	"github.com/kode4food/agentflow/internal/assert"
	"github.com/kode4food/agentflow/pkg/api"
)

func TestFlowValidation(t *testing.T) {
	as := assert.New(t)

	end := &api.StepDefinition{Name: "end", Kind: api.StepTerminal}

	as.ErrorIs((&api.FlowDefinition{}).Validate(), api.ErrFlowIDEmpty)
	as.ErrorIs(
		(&api.FlowDefinition{ID: "f"}).Validate(), api.ErrFlowHasNoSteps,
	)
	as.ErrorIs((&api.FlowDefinition{
		ID:     "f",
		Params: []api.Param{{Name: "a"}, {Name: "a"}},
		Steps:  []*api.StepDefinition{end},
	}).Validate(), api.ErrDuplicateParam)
	as.ErrorIs((&api.FlowDefinition{
		ID:     "f",
		Params: []api.Param{{Name: "a", Type: "blob"}},
		Steps:  []*api.StepDefinition{end},
	}).Validate(), api.ErrInvalidParamType)
	as.ErrorIs((&api.FlowDefinition{
		ID:    "f",
		Gives: &api.Output{Name: "x", Type: "blob"},
		Steps: []*api.StepDefinition{end},
	}).Validate(), api.ErrInvalidOutputType)

	dup := &api.FlowDefinition{
		ID: "f",
		Steps: []*api.StepDefinition{
			{
				Name: "branch",
				Kind: api.StepConditional,
				When: &api.Condition{Value: "{{a}}"},
				Then: []*api.StepDefinition{end},
			},
			end,
		},
	}
	as.ErrorIs(dup.Validate(), api.ErrDuplicateStepName)

	ok := &api.FlowDefinition{
		ID:     "f",
		Params: []api.Param{{Name: "a", Type: api.TypeString}},
		Gives:  &api.Output{Name: "a", Type: api.TypeString},
		Steps:  []*api.StepDefinition{end},
	}
	as.NoError(ok.Validate())
}

func TestFlowParams(t *testing.T) {
	as := assert.New(t)

	fl := &api.FlowDefinition{
		Params: []api.Param{
			{Name: "filing_id", Type: api.TypeString},
			{Name: "hint", Optional: true},
		},
	}

	p, ok := fl.Param("filing_id")
	as.True(ok)
	as.Equal(api.TypeString, p.Type)
	_, ok = fl.Param("missing")
	as.False(ok)
	as.Equal([]api.Name{"filing_id"}, fl.RequiredParams())
}

func TestFlowWalk(t *testing.T) {
	as := assert.New(t)

	fl := &api.FlowDefinition{
		Steps: []*api.StepDefinition{
			{Name: "a"},
			{
				Name: "b",
				Then: []*api.StepDefinition{{Name: "c"}},
				Else: []*api.StepDefinition{{Name: "d"}},
			},
			{Name: "e"},
		},
	}

	var names []string
	fl.Walk(func(s *api.StepDefinition) {
		names = append(names, s.Name)
	})
	as.Equal([]string{"a", "b", "c", "d", "e"}, names)
}

func TestWorkflowValidation(t *testing.T) {
	as := assert.New(t)

	wf := &api.WorkflowDefinition{
		ID:     "batch",
		Over:   "filing_ids",
		Item:   "id",
		Invoke: api.Invocation{Target: "sec-processor"},
	}
	as.NoError(wf.Validate())
	as.Equal(api.Name("results"), wf.GivesName())

	wf.Gives = &api.Output{Name: "reports"}
	as.Equal(api.Name("reports"), wf.GivesName())

	bad := *wf
	bad.Policy = "sometimes"
	as.ErrorIs(bad.Validate(), api.ErrInvalidFailurePolicy)

	bad = *wf
	bad.Over = ""
	as.ErrorIs(bad.Validate(), api.ErrWorkflowOverEmpty)

	bad = *wf
	bad.Item = ""
	as.ErrorIs(bad.Validate(), api.ErrWorkflowItemEmpty)

	bad = *wf
	bad.Invoke.Target = ""
	as.ErrorIs(bad.Validate(), api.ErrInvokeTargetEmpty)

	bad = *wf
	bad.Parallelism = -1
	as.ErrorIs(bad.Validate(), api.ErrNegativeParallelism)
}

func TestAgentValidation(t *testing.T) {
	as := assert.New(t)

	as.ErrorIs((&api.AgentDefinition{}).Validate(), api.ErrAgentIDEmpty)
	as.ErrorIs(
		(&api.AgentDefinition{ID: "a"}).Validate(), api.ErrAgentFlowEmpty,
	)
	as.NoError((&api.AgentDefinition{ID: "a", Flow: "f"}).Validate())
}
