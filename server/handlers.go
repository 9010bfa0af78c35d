package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xhad/docrag/internal/models"
	"go.uber.org/zap"
)

// chatRequest accepts both {"session_id":...} and {"input":{"session_id":...}}.
type chatRequest struct {
	SessionID string        `json:"session_id"`
	Question  string        `json:"question"`
	History   []models.Turn `json:"history,omitempty"`
}

type invokeResponse struct {
	Output string `json:"output"`
}

func bindInput(c echo.Context, dst *chatRequest) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var wrapped struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if len(wrapped.Input) > 0 {
		body = wrapped.Input
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return nil
}

func (s *Server) handleIngest(c echo.Context) error {
	maxBytes := int64(s.config.MaxUploadMB) << 20
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes+(1<<20))

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusBadRequest, s.tooLargeMessage())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded.")
	}
	if fh.Size > maxBytes {
		return echo.NewHTTPError(http.StatusBadRequest, s.tooLargeMessage())
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded.")
	}
	defer f.Close()

	result, err := s.ingestor.Ingest(req.Context(), f, fh.Filename)
	if err != nil {
		s.metrics.ingests.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	s.metrics.ingests.WithLabelValues("ok").Inc()

	return c.JSON(http.StatusOK, result)
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("File too large (max %d MB).", s.config.MaxUploadMB)
}

func (s *Server) handleChatInvoke(c echo.Context) error {
	var req chatRequest
	if err := bindInput(c, &req); err != nil {
		return err
	}

	var answer string
	var err error
	if len(req.History) > 0 {
		answer, err = collect(func(fn func(string) error) error {
			return s.orch.AskWithHistory(c.Request().Context(), req.SessionID, req.Question, req.History, fn)
		})
	} else {
		answer, err = s.orch.Ask(c.Request().Context(), req.SessionID, req.Question)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invokeResponse{Output: answer})
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req chatRequest
	if err := bindInput(c, &req); err != nil {
		return err
	}

	return s.streamSSE(c, "chat", func(fn func(string) error) error {
		if len(req.History) > 0 {
			return s.orch.AskWithHistory(c.Request().Context(), req.SessionID, req.Question, req.History, fn)
		}
		return s.orch.AskStream(c.Request().Context(), req.SessionID, req.Question, fn)
	})
}

func (s *Server) handleSummarizeInvoke(c echo.Context) error {
	var req chatRequest
	if err := bindInput(c, &req); err != nil {
		return err
	}

	summary, err := s.orch.Summarize(c.Request().Context(), req.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invokeResponse{Output: summary})
}

func (s *Server) handleSummarizeStream(c echo.Context) error {
	var req chatRequest
	if err := bindInput(c, &req); err != nil {
		return err
	}

	return s.streamSSE(c, "summarize", func(fn func(string) error) error {
		return s.orch.SummarizeStream(c.Request().Context(), req.SessionID, fn)
	})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Session not found.")
	}
	return c.JSON(http.StatusOK, sess.Info())
}

func (s *Server) handleCloseSession(c echo.Context) error {
	closed := s.sessions.Close(c.Param("id"))
	if closed {
		s.logger.Info("Session closed", zap.String("session_id", c.Param("id")))
	}
	return c.JSON(http.StatusOK, map[string]bool{"closed": closed})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.Len()})
}

func collect(run func(fn func(string) error) error) (string, error) {
	var buf bytes.Buffer
	err := run(func(fragment string) error {
		buf.WriteString(fragment)
		return nil
	})
	return buf.String(), err
}
