package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// eventsHandler handles GET /api/v1/sessions/:id/events as a Server-Sent
// Events stream. Session events carry an `id:` line with their event id
// so EventSource reconnects resume via the Last-Event-ID header;
// subscriber-local control events are sent without one. A query param
// `last_event_id` is accepted for clients that cannot set headers.
func (s *Server) eventsHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.registry.Session(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}

	lastEventID := int64(-1)
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = id
		}
	}
	if v := c.Query("last_event_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = id
		}
	}

	sub, err := s.bus.Subscribe(c.Request.Context(), sessionID, lastEventID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	defer sub.Close()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	s.logger.Debug("sse subscriber attached",
		"session_id", sessionID, "subscription_id", sub.ID(), "last_event_id", lastEventID)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("failed to marshal event", "session_id", sessionID, "type", ev.Type, "error", err)
				continue
			}
			if !ev.Control() {
				fmt.Fprintf(c.Writer, "id: %d\n", ev.EventID)
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			c.Writer.Flush()
		}
	}
}
