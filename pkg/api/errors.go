package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/orchestrator"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// writeEngineError maps engine errors to HTTP status codes and writes
// the error envelope. Unknown errors are logged and become 500s.
func writeEngineError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrNoPendingTurn),
		errors.Is(err, orchestrator.ErrRendezvousPending):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, orchestrator.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		logger.Error("unexpected engine error", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
