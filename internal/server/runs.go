package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.ListRuns())
}

func (s *Server) getRun(c *gin.Context) {
	st, err := s.engine.GetStatus(api.RunID(c.Param("runID")))
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelRun(c *gin.Context) {
	id := api.RunID(c.Param("runID"))
	if err := s.engine.Cancel(id); err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: fmt.Sprintf("cancellation requested: %s", id),
	})
}

func (s *Server) submitFeedback(c *gin.Context) {
	var req api.FeedbackRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest,
			fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}
	if req.Payload == nil {
		errorJSON(c, http.StatusBadRequest, ErrFeedbackPayload)
		return
	}

	id := api.RunID(c.Param("runID"))
	if err := s.engine.DeliverFeedback(id, req.Step, req.Payload); err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}

	slog.Info("Feedback delivered",
		log.RunID(id),
		log.StepName(req.Step))
	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: "feedback delivered",
	})
}
