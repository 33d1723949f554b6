// Package server exposes the query pipeline over HTTP. One POST starts a
// run; progress and the final answer stream back as server-sent events on
// the open connection.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"datachat/internal/answer"
	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/events"
	"datachat/internal/llm"
	"datachat/internal/logging"
	"datachat/internal/pipeline"
	"datachat/internal/planner"
	"datachat/internal/safety"
	"datachat/internal/sandbox"
)

// Server serves one dataset over the ask API.
type Server struct {
	cfg *config.Config
	ds  *dataset.Dataset
}

// New creates a server for a loaded dataset.
func New(cfg *config.Config, ds *dataset.Dataset) *Server {
	return &Server{cfg: cfg, ds: ds}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.handleHealth)
	r.GET("/api/dataset", s.handleDataset)
	r.POST("/api/ask", s.handleAsk)
	return r
}

// Run blocks serving HTTP on the configured address.
func (s *Server) Run() error {
	logging.Info(logging.CategoryServer, "listening on %s, dataset %s (%d records)",
		s.cfg.Server.Listen, s.ds.Name, len(s.ds.Records))
	return s.Router().Run(s.cfg.Server.Listen)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDataset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.ds.Name,
		"records": len(s.ds.Records),
		"fields":  s.ds.FieldOrder,
	})
}

type askRequest struct {
	Question string         `json:"question" binding:"required"`
	History  []planner.Turn `json:"history,omitempty"`

	// Model optionally overrides the configured model for this question.
	Model string `json:"model,omitempty"`
}

// handleAsk runs the pipeline and streams phase events, then either an
// "answer" or an "error" event, then closes the stream. Consumers never see
// stack traces, only the distilled error text.
func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	stream := events.NewStream(c.Writer)
	defer stream.Close()

	ctx := c.Request.Context()
	client, err := llm.NewClient(ctx, s.cfg.LLM, req.Model)
	if err != nil {
		_ = stream.Send("error", gin.H{"error": err.Error()})
		return
	}

	orch := pipeline.NewOrchestrator(
		planner.NewGenerator(client, s.cfg.Pipeline),
		safety.NewValidator(client),
		sandbox.NewExecutor(s.cfg.Sandbox),
		s.cfg.Pipeline,
		s.cfg.Reduce,
	)

	outcome, err := orch.Ask(ctx, req.Question, req.History, s.ds, stream)
	if err != nil {
		logging.Error(logging.CategoryServer, "run failed: %v", err)
		_ = stream.Send("error", gin.H{"error": err.Error()})
		return
	}

	attempt := outcome.Summary.Attempts
	stream.Emit(events.Active(events.PhaseSynthesis, attempt))
	ans, err := answer.NewSynthesizer(client).Synthesize(ctx, req.Question, outcome)
	if err != nil {
		stream.Emit(events.Warning(events.PhaseSynthesis, attempt, gin.H{"error": err.Error()}))
		_ = stream.Send("error", gin.H{"error": err.Error(), "summary": outcome.Summary})
		return
	}
	stream.Emit(events.Completed(events.PhaseSynthesis, attempt, nil))
	_ = stream.Send("answer", ans)
}
