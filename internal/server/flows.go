package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/agentflow/pkg/api"
)

func (s *Server) listFlows(c *gin.Context) {
	flows := s.engine.ListFlows()
	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: flows,
		Count: len(flows),
	})
}

func (s *Server) getFlow(c *gin.Context) {
	flow, err := s.engine.GetFlow(api.FlowID(c.Param("flowID")))
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) runFlow(c *gin.Context) {
	var req api.SubmitFlowRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		errorJSON(c, http.StatusBadRequest,
			fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}

	flowID := api.FlowID(c.Param("flowID"))
	run, err := s.engine.SubmitFlow(c.Request.Context(), flowID, req.Inputs)
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	s.respondStarted(c, run.ID(), req.Wait)
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows := s.engine.ListWorkflows()
	c.JSON(http.StatusOK, api.WorkflowsListResponse{
		Workflows: workflows,
		Count:     len(workflows),
	})
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.engine.GetWorkflow(api.WorkflowID(c.Param("workflowID")))
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) runWorkflow(c *gin.Context) {
	var req api.SubmitWorkflowRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		errorJSON(c, http.StatusBadRequest,
			fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}

	id := api.WorkflowID(c.Param("workflowID"))
	run, err := s.engine.SubmitWorkflow(
		c.Request.Context(), id, req.Items, req.Inputs, req.Policy,
	)
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	s.respondStarted(c, run.ID(), req.Wait)
}

// respondStarted reports a submitted run. When wait is requested the
// response is held until the run is terminal or the client goes away
func (s *Server) respondStarted(c *gin.Context, id api.RunID, wait bool) {
	if !wait {
		c.JSON(http.StatusAccepted, api.RunStartedResponse{
			RunID:   id,
			Message: "run started",
		})
		return
	}

	st, err := s.engine.Wait(c.Request.Context(), id)
	if err != nil {
		errorJSON(c, http.StatusGatewayTimeout, err)
		return
	}
	c.JSON(http.StatusOK, api.RunStartedResponse{
		RunID:   id,
		State:   st,
		Message: fmt.Sprintf("run %s", st.Status),
	})
}

func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(target)
}
