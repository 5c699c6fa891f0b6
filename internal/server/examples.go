package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/agentflow/pkg/api"
)

func (s *Server) getExamples(c *gin.Context) {
	store, key, ok := examplePath(c)
	if !ok {
		return
	}

	rec, version, err := s.engine.ReadExamples(c.Request.Context(), store, key)
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, api.ExamplesResponse{
		Record:  rec,
		Version: version,
	})
}

func (s *Server) putExamples(c *gin.Context) {
	store, key, ok := examplePath(c)
	if !ok {
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest,
			fmt.Errorf("%w: %v", ErrInvalidJSON, err))
		return
	}
	upd, err := api.ParseExampleUpdate(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	rec, err := s.engine.ApplyFeedback(c.Request.Context(), store, key, upd)
	if err != nil {
		errorJSON(c, errorStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, api.ExamplesResponse{
		Record:  rec,
		Version: rec.Version,
	})
}

func examplePath(c *gin.Context) (string, string, bool) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		errorJSON(c, http.StatusBadRequest, ErrExampleKey)
		return "", "", false
	}
	return c.Param("store"), key, true
}
