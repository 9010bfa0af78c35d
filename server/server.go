package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xhad/docrag/pkg/rag"
	"github.com/xhad/docrag/pkg/session"
	"go.uber.org/zap"
)

type Config struct {
	MaxUploadMB  int
	AllowOrigins []string
}

// Server exposes ingestion, question answering and summarization over HTTP,
// SSE and WebSocket, plus the demo page.
type Server struct {
	config   Config
	echo     *echo.Echo
	ingestor *rag.Ingestor
	orch     *rag.Orchestrator
	sessions *session.Store
	metrics  *Metrics
	demo     *demoStore
	logger   *zap.Logger
}

func New(config Config, ingestor *rag.Ingestor, orch *rag.Orchestrator, sessions *session.Store, logger *zap.Logger) *Server {
	if config.MaxUploadMB == 0 {
		config.MaxUploadMB = 32
	}
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   config,
		echo:     echo.New(),
		ingestor: ingestor,
		orch:     orch,
		sessions: sessions,
		metrics:  NewMetrics(sessions.Len),
		demo:     newDemoStore(),
		logger:   logger,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.config.AllowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
	}))

	e.POST("/ingest", s.handleIngest)

	e.POST("/chat", s.handleChatInvoke)
	e.POST("/chat/invoke", s.handleChatInvoke)
	e.POST("/chat/stream", s.handleChatStream)

	e.POST("/summarize", s.handleSummarizeInvoke)
	e.POST("/summarize/invoke", s.handleSummarizeInvoke)
	e.POST("/summarize/stream", s.handleSummarizeStream)

	e.GET("/sessions/:id", s.handleGetSession)
	e.DELETE("/sessions/:id", s.handleCloseSession)

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/ws", s.handleWebSocket)

	e.GET("/", s.handleDemoPage)
	e.POST("/demo/upload", s.handleDemoUpload)
	e.POST("/demo/summarize", s.handleDemoSummarize)
	e.POST("/demo/ask", s.handleDemoAsk)
	e.POST("/demo/reset", s.handleDemoReset)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders every failure as {"detail": ...}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote_ip", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields...)
	} else {
		s.logger.Debug("Request rejected", fields...)
	}

	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"detail": msg})
}
