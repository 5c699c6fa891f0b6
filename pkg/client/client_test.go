package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/internal/assert/helpers"
	"github.com/kode4food/agentflow/internal/server"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/client"
)

const waitTimeout = 5 * time.Second

func withClient(
	t *testing.T, fn func(*client.Client, *helpers.TestEngineEnv),
) {
	t.Helper()
	helpers.WithSECEnv(t, func(env *helpers.TestEngineEnv) {
		srv := httptest.NewServer(server.NewServer(env.Engine).SetupRoutes())
		defer srv.Close()
		fn(client.NewClient(srv.URL, waitTimeout), env)
	})
}

func runFinished(
	t *testing.T, rc *client.RunClient, status api.RunStatus,
) func() bool {
	return func() bool {
		st, err := rc.GetState(context.Background())
		return assert.NoError(t, err) && st.Status == status
	}
}

func TestListDefinitions(t *testing.T) {
	withClient(t, func(c *client.Client, _ *helpers.TestEngineEnv) {
		flows, err := c.ListFlows(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, flows.Count)

		wfs, err := c.ListWorkflows(context.Background())
		assert.NoError(t, err)
		if assert.Len(t, wfs.Workflows, 1) {
			assert.Equal(t, helpers.BatchAnalyze, wfs.Workflows[0].ID)
		}
	})
}

func TestStartFlowWait(t *testing.T) {
	withClient(t, func(c *client.Client, env *helpers.TestEngineEnv) {
		env.PutFiling(t, "A", helpers.Filing{
			Company: "Apple", Revenue: 1, Debt: 2,
		})

		res, err := c.StartFlow(context.Background(), helpers.ProcessFiling,
			&api.SubmitFlowRequest{
				Inputs: api.Args{"filing_id": "A"},
				Wait:   true,
			})
		assert.NoError(t, err)
		if assert.NotNil(t, res.State) {
			assert.Equal(t, api.RunSucceeded, res.State.Status)
			assert.Equal(t, "Apple escalated: review stored", res.State.Result)
		}
	})
}

func TestStartWorkflow(t *testing.T) {
	withClient(t, func(c *client.Client, env *helpers.TestEngineEnv) {
		env.PutFiling(t, "M", helpers.Filing{
			Company: "Microsoft", Revenue: 2, Debt: 1,
		})

		res, err := c.StartWorkflow(context.Background(), helpers.BatchAnalyze,
			&api.SubmitWorkflowRequest{Items: []any{"M"}})
		assert.NoError(t, err)
		assert.NotEmpty(t, res.RunID)
		assert.Nil(t, res.State)

		rc := c.Run(res.RunID)
		assert.Equal(t, res.RunID, rc.ID())
		assert.Eventually(t, runFinished(t, rc, api.RunSucceeded),
			waitTimeout, 10*time.Millisecond)

		st, err := rc.GetState(context.Background())
		assert.NoError(t, err)
		assert.Equal(t,
			[]any{"Microsoft classified as strong"}, st.Result)
	})
}

func TestFeedback(t *testing.T) {
	withClient(t, func(c *client.Client, env *helpers.TestEngineEnv) {
		res, err := c.StartFlow(context.Background(),
			helpers.HandleEscalation, &api.SubmitFlowRequest{
				Inputs: api.Args{
					"filing_id": "A",
					"details":   map[string]any{"name": "Apple"},
				},
			})
		assert.NoError(t, err)
		assert.Eventually(t, func() bool {
			return env.Inbox.Waiting(res.RunID)
		}, waitTimeout, time.Millisecond)

		rc := c.Run(res.RunID)
		err = rc.Feedback(context.Background(), "", map[string]any{
			"classify": map[string]any{
				"input":  map[string]any{"revenue": 1, "debt": 2},
				"output": "adequate",
			},
		})
		assert.NoError(t, err)
		assert.Eventually(t, runFinished(t, rc, api.RunSucceeded),
			waitTimeout, 10*time.Millisecond)

		ex, err := c.GetExamples(context.Background(),
			helpers.ExamplesCap, "A")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), ex.Version)
	})
}

func TestCancel(t *testing.T) {
	withClient(t, func(c *client.Client, env *helpers.TestEngineEnv) {
		release := make(chan struct{})
		env.Model.SetHandler(func(
			ctx context.Context, guide string, ex []api.Example, in api.Args,
		) (any, error) {
			<-release
			return helpers.SECAnalyst(ctx, guide, ex, in)
		})
		env.PutFiling(t, "M", helpers.Filing{
			Company: "Microsoft", Revenue: 2, Debt: 1,
		})

		res, err := c.StartFlow(context.Background(), helpers.ProcessFiling,
			&api.SubmitFlowRequest{Inputs: api.Args{"filing_id": "M"}})
		assert.NoError(t, err)
		assert.Eventually(t, func() bool {
			return len(env.Model.Calls()) > 0
		}, waitTimeout, 5*time.Millisecond)

		rc := c.Run(res.RunID)
		assert.NoError(t, rc.Cancel(context.Background()))
		close(release)

		assert.Eventually(t, runFinished(t, rc, api.RunCancelled),
			waitTimeout, 10*time.Millisecond)
	})
}

func TestExamples(t *testing.T) {
	withClient(t, func(c *client.Client, _ *helpers.TestEngineEnv) {
		ctx := context.Background()
		upd := &api.ExampleUpdate{
			Sections: map[string][]api.Example{
				"classify": {{
					Input:  map[string]any{"revenue": 1, "debt": 2},
					Output: "weak",
				}},
			},
		}

		res, err := c.PutExamples(ctx, helpers.ExamplesCap, "A", upd)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), res.Version)

		res, err = c.GetExamples(ctx, helpers.ExamplesCap, "A")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), res.Version)
		if assert.NotNil(t, res.Record) {
			assert.Len(t, res.Record.Sections["classify"], 1)
		}

		stale := int64(0)
		upd.ExpectedVersion = &stale
		_, err = c.PutExamples(ctx, helpers.ExamplesCap, "A", upd)
		var se *client.StatusError
		if assert.ErrorAs(t, err, &se) {
			assert.Equal(t, http.StatusConflict, se.Status)
		}
		assert.ErrorIs(t, err, client.ErrPutExamples)
	})
}

func TestStatusErrors(t *testing.T) {
	withClient(t, func(c *client.Client, _ *helpers.TestEngineEnv) {
		ctx := context.Background()

		_, err := c.StartFlow(ctx, "missing", &api.SubmitFlowRequest{})
		assert.ErrorIs(t, err, client.ErrStartRun)
		var se *client.StatusError
		if assert.ErrorAs(t, err, &se) {
			assert.Equal(t, http.StatusNotFound, se.Status)
			assert.Contains(t, se.Body, "flow not found")
		}

		_, err = c.Run("missing").GetState(ctx)
		assert.ErrorIs(t, err, client.ErrGetRun)

		err = c.Run("missing").Cancel(ctx)
		assert.ErrorIs(t, err, client.ErrCancelRun)

		err = c.Run("missing").Feedback(ctx, "", "ok")
		assert.ErrorIs(t, err, client.ErrSubmitFeedback)
	})
}

func TestUnreachable(t *testing.T) {
	c := client.NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.ListFlows(context.Background())
	assert.Error(t, err)
}
