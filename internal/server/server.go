package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/internal/util"
	"github.com/kode4food/agentflow/pkg/api"
)

// Server implements the HTTP API server for the orchestrator
type Server struct {
	engine  *engine.Engine
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine) *Server {
	return &Server{
		engine:  eng,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	eng := router.Group("/engine")
	{
		// Definitions
		eng.GET("/flow", s.listFlows)
		eng.GET("/flow/:flowID", s.getFlow)
		eng.POST("/flow/:flowID/run", s.runFlow)
		eng.GET("/workflow", s.listWorkflows)
		eng.GET("/workflow/:workflowID", s.getWorkflow)
		eng.POST("/workflow/:workflowID/run", s.runWorkflow)

		// Runs
		eng.GET("/run", s.listRuns)
		eng.GET("/run/:runID", s.getRun)
		eng.DELETE("/run/:runID", s.cancelRun)
		eng.POST("/run/:runID/feedback", s.submitFeedback)

		// Example stores
		eng.GET("/examples/:store/*key", s.getExamples)
		eng.PUT("/examples/:store/*key", s.putExamples)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}
