package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xhad/docrag/pkg/relay"
	"go.uber.org/zap"
)

// sseWriter frames fragments as tagged JSON-patch events.
type sseWriter struct {
	resp    *echo.Response
	flusher http.Flusher
}

func newSSEWriter(c echo.Context) (*sseWriter, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{resp: resp, flusher: flusher}, nil
}

func (w *sseWriter) event(kind, data string) error {
	if _, err := fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) token(fragment string) error {
	data, err := json.Marshal(relay.Patch{Ops: []relay.Op{{Op: "add", Path: relay.StreamPath, Value: fragment}}})
	if err != nil {
		return err
	}
	return w.event(relay.EventToken, string(data))
}

func (w *sseWriter) fail(msg string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.event(relay.EventError, string(data))
}

func (w *sseWriter) done() error {
	return w.event(relay.EventDone, "[DONE]")
}

func (s *Server) streamSSE(c echo.Context, kind string, run func(fn func(string) error) error) error {
	w, err := newSSEWriter(c)
	if err != nil {
		return err
	}

	err = run(s.countFragments(kind, w.token))

	ctx := c.Request().Context()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		s.logger.Debug("Client went away mid-stream", zap.String("kind", kind), zap.Error(err))
		return nil
	default:
		s.logger.Error("Stream failed", zap.String("kind", kind), zap.Error(err))
		if werr := w.fail(err.Error()); werr != nil {
			return nil
		}
	}

	if err := w.done(); err != nil {
		s.logger.Debug("Failed to finish stream", zap.String("kind", kind), zap.Error(err))
	}
	return nil
}
