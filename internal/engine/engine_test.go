package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kode4food/agentflow/internal/assert"
	"github.com/kode4food/agentflow/internal/assert/helpers"
	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
)

type recordingArchiver struct {
	states []*api.RunState
	mu     sync.Mutex
}

const defaultWait = 5 * time.Second

func (a *recordingArchiver) Archive(_ context.Context, st *api.RunState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states = append(a.states, st)
	return nil
}

func (a *recordingArchiver) archived() []*api.RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*api.RunState(nil), a.states...)
}

func simpleFlow() *api.FlowDefinition {
	return &api.FlowDefinition{
		ID:     "echo",
		Params: []api.Param{{Name: "msg", Type: api.TypeString}},
		Gives:  &api.Output{Name: "out", Type: api.TypeString},
		Steps: []*api.StepDefinition{{
			Name:   "echo",
			Kind:   api.StepEmit,
			Params: map[string]any{"message": "echo: {{msg}}"},
			Output: "out",
		}},
	}
}

func TestArchiveRootRuns(t *testing.T) {
	as := assert.New(t)
	arch := &recordingArchiver{}
	hub := engine.NewEventHub()
	defer hub.Close()

	caps := engine.NewCapabilities()
	e := engine.New(helpers.NewTestConfig(), caps,
		engine.WithArchiver(arch), engine.WithEventHub(hub),
	)
	defer func() { _ = e.Stop() }()
	as.Same(hub, e.Events())
	as.Same(caps, e.Capabilities())

	as.NoError(e.LoadDefinitions(&api.Definitions{
		Flows: []*api.FlowDefinition{
			simpleFlow(),
			{
				ID:     "outer",
				Params: []api.Param{{Name: "msg", Type: api.TypeString}},
				Steps: []*api.StepDefinition{{
					Name:   "call",
					Kind:   api.StepDelegate,
					Target: "echo",
					Params: map[string]any{"msg": "{{msg}}"},
				}},
			},
		},
	}))

	run, err := e.SubmitFlow(context.Background(), "outer",
		api.Args{"msg": "hi"})
	as.NoError(err)
	ctx, cancel := context.WithTimeout(context.Background(), defaultWait)
	defer cancel()
	st, err := e.Wait(ctx, run.ID())
	as.NoError(err)
	as.RunStatus(st, api.RunSucceeded)

	as.Eventually(func() bool {
		return len(arch.archived()) > 0
	}, defaultWait, "run never archived")
	states := arch.archived()
	if as.Len(states, 1) {
		as.Equal(run.ID(), states[0].ID)
		as.Equal(api.RunSucceeded, states[0].Status)
	}
}

func TestRunLifecycle(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(simpleFlow()))

		st := env.RunFlow(t, "echo", api.Args{"msg": "hi"})
		as.RunStatus(st, api.RunSucceeded)
		as.Equal("echo: hi", st.Result)
		as.Equal(api.RunKindFlow, st.Kind)
		as.Equal("echo", st.Target)
		as.False(st.CompletedAt.Before(st.CreatedAt))
		as.Equal(0, env.Engine.ActiveRuns())

		as.NoError(env.Engine.Cancel(st.ID))
		again, err := env.Engine.GetStatus(st.ID)
		as.NoError(err)
		as.RunStatus(again, api.RunSucceeded)
	})
}

func TestWaitHonorsContext(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(&api.FlowDefinition{
			ID: "ask",
			Steps: []*api.StepDefinition{{
				Name:       "ask",
				Kind:       api.StepAskModel,
				Capability: helpers.ModelCap,
				Params:     map[string]any{"guide": "classify"},
			}},
		}))
		release := make(chan struct{})
		env.Model.SetHandler(func(
			context.Context, string, []api.Example, api.Args,
		) (any, error) {
			<-release
			return "ok", nil
		})

		run, err := env.Engine.SubmitFlow(context.Background(), "ask", nil)
		as.NoError(err)
		as.Eventually(func() bool {
			return len(env.Model.Calls()) > 0
		}, defaultWait, "model never called")

		ctx, cancel := context.WithTimeout(context.Background(),
			20*time.Millisecond)
		defer cancel()
		st, err := env.Engine.Wait(ctx, run.ID())
		as.ErrorIs(err, context.DeadlineExceeded)
		as.RunStatus(st, api.RunRunning)
		as.Equal(1, env.Engine.ActiveRuns())

		close(release)
		st = env.WaitRun(t, run.ID())
		as.RunStatus(st, api.RunSucceeded)
	})
}

func TestRunTimeout(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(&api.FlowDefinition{
			ID:        "slow",
			TimeoutMs: 20,
			Steps: []*api.StepDefinition{
				{
					Name:       "ask",
					Kind:       api.StepAskModel,
					Capability: helpers.ModelCap,
					Params:     map[string]any{"guide": "classify"},
					Output:     "answer",
				},
				assignment("after", "{{answer}}", "copy"),
			},
		}))
		env.Model.SetHandler(func(
			context.Context, string, []api.Example, api.Args,
		) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "ok", nil
		})

		st := env.RunFlow(t, "slow", nil)
		as.RunStatus(st, api.RunFailed)
		if as.NotNil(st.Error) {
			as.Equal(api.KindTimeout, st.Error.Kind)
		}
	})
}

func TestEngineStopCancelsRuns(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.RegisterFlow(&api.FlowDefinition{
			ID: "ask",
			Steps: []*api.StepDefinition{
				{
					Name:       "ask",
					Kind:       api.StepAskModel,
					Capability: helpers.ModelCap,
					Params:     map[string]any{"guide": "classify"},
				},
				assignment("after", 1, "x"),
			},
		}))
		env.Model.SetHandler(func(
			ctx context.Context, _ string, _ []api.Example, _ api.Args,
		) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		run, err := env.Engine.SubmitFlow(context.Background(), "ask", nil)
		as.NoError(err)
		as.Eventually(func() bool {
			return len(env.Model.Calls()) > 0
		}, defaultWait, "model never called")

		as.NoError(env.Engine.Stop())
		st, err := env.Engine.GetStatus(run.ID())
		as.NoError(err)
		as.RunStatus(st, api.RunCancelled)
	})
}

func TestFinishedRunsEvicted(t *testing.T) {
	as := assert.New(t)
	cfg := helpers.NewTestConfig()
	cfg.RunRetention = 50

	e := engine.New(cfg, engine.NewCapabilities())
	defer func() { _ = e.Stop() }()

	as.NoError(e.LoadDefinitions(&api.Definitions{Flows: []*api.FlowDefinition{
		simpleFlow(),
		{
			ID:     "outer",
			Params: []api.Param{{Name: "msg", Type: api.TypeString}},
			Gives:  &api.Output{Name: "out", Type: api.TypeString},
			Steps: []*api.StepDefinition{{
				Name:   "call",
				Kind:   api.StepDelegate,
				Target: "echo",
				Params: map[string]any{"msg": "{{msg}}"},
				Output: "out",
			}},
		},
	}}))

	run, err := e.SubmitFlow(context.Background(), "outer",
		api.Args{"msg": "hi"})
	as.NoError(err)
	ctx, cancel := context.WithTimeout(context.Background(), defaultWait)
	defer cancel()
	st, err := e.Wait(ctx, run.ID())
	as.NoError(err)
	as.RunStatus(st, api.RunSucceeded)

	childID := run.ID() + ":call"
	child, err := e.GetStatus(childID)
	as.NoError(err)
	as.Equal(run.ID(), child.Parent)

	as.Eventually(func() bool {
		_, err := e.GetStatus(run.ID())
		return errors.Is(err, engine.ErrRunNotFound)
	}, defaultWait, "run never evicted")

	_, err = e.GetStatus(childID)
	as.ErrorIs(err, engine.ErrRunNotFound)
	as.Empty(e.ListRuns())
	as.Zero(e.ActiveRuns())
}

func TestRunningRunsKept(t *testing.T) {
	as := assert.New(t)
	cfg := helpers.NewTestConfig()
	cfg.RunRetention = 20

	model := helpers.NewMockModel()
	release := make(chan struct{})
	model.SetHandler(func(
		ctx context.Context, _ string, _ []api.Example, _ api.Args,
	) (any, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	caps := engine.NewCapabilities()
	caps.RegisterModelAsker(helpers.ModelCap, model)

	e := engine.New(cfg, caps)
	defer func() { _ = e.Stop() }()
	as.NoError(e.RegisterFlow(&api.FlowDefinition{
		ID: "slow",
		Steps: []*api.StepDefinition{{
			Name:       "ask",
			Kind:       api.StepAskModel,
			Capability: helpers.ModelCap,
			Params:     map[string]any{"guide": "wait"},
		}},
	}))

	run, err := e.SubmitFlow(context.Background(), "slow", nil)
	as.NoError(err)
	time.Sleep(100 * time.Millisecond)

	st, err := e.GetStatus(run.ID())
	as.NoError(err)
	as.Equal(api.RunRunning, st.Status)
	close(release)
}
