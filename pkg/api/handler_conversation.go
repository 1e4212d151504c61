package api

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/events"
)

// conversationHandler handles GET /api/v1/sessions/:id/conversation by
// upgrading to a WebSocket. The client drives it with JSON messages:
// {action:"subscribe", last_event_id} attaches the session event stream,
// {action:"say", content, speaker} injects a human utterance, and
// {action:"ping"} checks liveness. Blocks until the socket closes.
func (s *Server) conversationHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.registry.Session(c.Request.Context(), sessionID); err != nil {
		writeEngineError(c, s.logger, err)
		return
	}

	opts := &websocket.AcceptOptions{}
	if origins := s.cfg.System.AllowedWSOrigins; len(origins) > 0 {
		opts.OriginPatterns = origins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	wc := &wsConn{
		server:    s,
		sessionID: sessionID,
		connID:    uuid.NewString(),
		conn:      conn,
	}
	wc.serve(c.Request.Context())
}

// wsConn is one conversation client. The read loop owns all connection
// state; the event pump goroutine only writes outbound frames.
type wsConn struct {
	server    *Server
	sessionID string
	connID    string
	conn      *websocket.Conn

	ctx        context.Context
	cancelPump context.CancelFunc
}

func (wc *wsConn) serve(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	wc.ctx = ctx
	defer func() {
		wc.stopPump()
		cancel()
		_ = wc.conn.Close(websocket.StatusNormalClosure, "")
	}()

	s := wc.server
	s.bus.Publish(wc.sessionID, events.EventTypeConversationConnected, events.ConversationConnectedPayload{
		ConnectionID: wc.connID,
	})
	wc.sendJSON(map[string]string{
		"type":          "conversation_connected",
		"session_id":    wc.sessionID,
		"connection_id": wc.connID,
	})
	s.logger.Info("conversation client connected", "session_id", wc.sessionID, "connection_id", wc.connID)

	for {
		_, data, err := wc.conn.Read(ctx)
		if err != nil {
			s.logger.Debug("conversation client disconnected",
				"session_id", wc.sessionID, "connection_id", wc.connID, "error", err)
			return
		}

		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.sendJSON(map[string]string{"type": "error", "message": "invalid message"})
			continue
		}
		wc.handleMessage(ctx, &msg)
	}
}

func (wc *wsConn) handleMessage(ctx context.Context, msg *events.ClientMessage) {
	s := wc.server
	switch msg.Action {
	case "subscribe":
		lastEventID := int64(-1)
		if msg.LastEventID != nil {
			lastEventID = *msg.LastEventID
		}
		// A re-subscribe replaces the previous stream.
		wc.stopPump()
		pumpCtx, cancel := context.WithCancel(ctx)
		sub, err := s.bus.Subscribe(pumpCtx, wc.sessionID, lastEventID)
		if err != nil {
			cancel()
			wc.sendJSON(map[string]string{"type": "error", "message": "subscribe failed"})
			return
		}
		wc.cancelPump = cancel
		go wc.pump(sub)

	case "say":
		speaker := msg.Speaker
		if speaker == "" {
			speaker = "audience"
		}
		if err := s.registry.SubmitConversationUtterance(ctx, wc.sessionID, speaker, msg.Content); err != nil {
			wc.sendJSON(map[string]string{"type": "error", "message": err.Error()})
			return
		}
		wc.sendJSON(map[string]string{"type": "say_accepted"})

	case "ping":
		wc.sendJSON(map[string]string{"type": "pong"})

	default:
		wc.sendJSON(map[string]string{"type": "error", "message": "unknown action"})
	}
}

// pump forwards bus events to the socket until the subscription or the
// connection dies.
func (wc *wsConn) pump(sub *events.Subscription) {
	defer sub.Close()
	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := wc.sendRaw(data); err != nil {
			return
		}
	}
}

func (wc *wsConn) stopPump() {
	if wc.cancelPump != nil {
		wc.cancelPump()
		wc.cancelPump = nil
	}
}

func (wc *wsConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		wc.server.logger.Warn("failed to marshal websocket message",
			"connection_id", wc.connID, "error", err)
		return
	}
	if err := wc.sendRaw(data); err != nil {
		wc.server.logger.Warn("failed to send websocket message",
			"connection_id", wc.connID, "error", err)
	}
}

// sendRaw writes one text frame under the write timeout so a stalled
// client cannot wedge the pump.
func (wc *wsConn) sendRaw(data []byte) error {
	writeCtx, cancel := context.WithTimeout(wc.ctx, wsWriteTimeout)
	defer cancel()
	return wc.conn.Write(writeCtx, websocket.MessageText, data)
}
