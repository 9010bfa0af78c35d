package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware
	},
}

// Message is the WebSocket envelope in both directions. Clients send
// chat or summarize; the server answers with token, done or error.
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Error reading message", zap.Error(err))
			}
			cancel()
			return nil
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(ws, "error", "invalid message")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, ws, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, ws *wsConn, msg Message) {
	send := func(fragment string) error {
		return s.sendMessage(ws, "token", fragment)
	}

	var err error
	switch msg.Type {
	case "chat":
		err = s.orch.AskStream(ctx, msg.SessionID, msg.Content, s.countFragments("chat", send))
	case "summarize":
		err = s.orch.SummarizeStream(ctx, msg.SessionID, s.countFragments("summarize", send))
	default:
		s.sendMessage(ws, "error", "unknown message type: "+msg.Type)
		return
	}

	if err != nil {
		if ctx.Err() == nil {
			s.sendMessage(ws, "error", err.Error())
		}
		return
	}
	s.sendMessage(ws, "done", "")
}

func (s *Server) countFragments(kind string, fn func(string) error) func(string) error {
	fragments := s.metrics.fragments.WithLabelValues(kind)
	return func(fragment string) error {
		fragments.Inc()
		return fn(fragment)
	}
}

func (s *Server) sendMessage(ws *wsConn, msgType, content string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.conn.WriteJSON(Message{Type: msgType, Content: content}); err != nil {
		s.logger.Debug("Error sending message", zap.Error(err))
		return err
	}
	return nil
}
