package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/version"
)

const healthCheckTimeout = 5 * time.Second

// healthHandler handles GET /health. Reports storage "memory" when the
// process runs without Postgres.
func (s *Server) healthHandler(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}

	if s.db == nil {
		resp["storage"] = "memory"
		c.JSON(http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.Pool())
	resp["storage"] = "postgres"
	resp["database"] = dbHealth
	if err != nil {
		resp["status"] = "unhealthy"
		resp["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
