package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
)

// controlResponse acknowledges a lifecycle control request.
type controlResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	sess, err := s.registry.Create(c.Request.Context(), &req)
	if err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.registry.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// startSessionHandler handles POST /api/v1/sessions/:id/start.
func (s *Server) startSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.registry.Start(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "session started"})
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause.
func (s *Server) pauseSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.registry.Pause(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "session paused"})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.registry.Resume(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "session resumed"})
}

// stopSessionHandler handles POST /api/v1/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.registry.Stop(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "stop requested"})
}

// restartSessionHandler handles POST /api/v1/sessions/:id/restart.
func (s *Server) restartSessionHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.registry.Restart(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "session reset to configuring"})
}

// submitInterventionHandler handles POST /api/v1/sessions/:id/interventions.
func (s *Server) submitInterventionHandler(c *gin.Context) {
	var req models.SubmitInterventionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	iv, err := s.registry.SubmitIntervention(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, iv)
}

// submitHumanTurnHandler handles POST /api/v1/sessions/:id/human-turn.
func (s *Server) submitHumanTurnHandler(c *gin.Context) {
	var req models.SubmitHumanTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	sessionID := c.Param("id")
	if err := s.registry.SubmitHumanTurn(c.Request.Context(), sessionID, &req); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, controlResponse{SessionID: sessionID, Message: "human turn accepted"})
}

// listUtterancesHandler handles GET /api/v1/sessions/:id/utterances.
func (s *Server) listUtterancesHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.registry.Session(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}

	utterances, err := s.gateway.ListUtterancesBySession(c.Request.Context(), sessionID)
	if err != nil {
		writeEngineError(c, s.logger, fmt.Errorf("list utterances: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"count":      len(utterances),
		"utterances": utterances,
	})
}
