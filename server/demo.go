package server

import (
	"embed"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/rag"
	"go.uber.org/zap"
)

const (
	demoCookie   = "docrag_demo"
	demoCapacity = 1000
	demoTTL      = time.Hour
)

//go:embed templates/*.html
var templateFS embed.FS

var demoTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// demoState is what one browser sees on the demo page.
type demoState struct {
	mu        sync.Mutex
	SessionID string
	Filename  string
	Status    string
	Summary   string
	History   []models.Turn
}

// demoView is a copy of demoState safe to render.
type demoView struct {
	SessionID string
	Filename  string
	Status    string
	Summary   string
	History   []models.Turn
}

type demoStore struct {
	states *expirable.LRU[string, *demoState]
}

func newDemoStore() *demoStore {
	return &demoStore{states: expirable.NewLRU[string, *demoState](demoCapacity, nil, demoTTL)}
}

// state returns the caller's state, issuing a cookie on first visit.
func (d *demoStore) state(c echo.Context) *demoState {
	if cookie, err := c.Cookie(demoCookie); err == nil {
		if st, ok := d.states.Get(cookie.Value); ok {
			return st
		}
	}

	id := uuid.NewString()
	st := &demoState{}
	d.states.Add(id, st)
	c.SetCookie(&http.Cookie{
		Name:     demoCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(demoTTL / time.Second),
	})
	return st
}

func (st *demoState) view() demoView {
	st.mu.Lock()
	defer st.mu.Unlock()
	return demoView{
		SessionID: st.SessionID,
		Filename:  st.Filename,
		Status:    st.Status,
		Summary:   st.Summary,
		History:   append([]models.Turn(nil), st.History...),
	}
}

func (s *Server) handleDemoPage(c echo.Context) error {
	st := s.demo.state(c)
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return demoTemplate.Execute(c.Response(), st.view())
}

func (s *Server) handleDemoUpload(c echo.Context) error {
	st := s.demo.state(c)
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, int64(s.config.MaxUploadMB+1)<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		st.setStatus("Please upload a file first.")
		return c.Redirect(http.StatusSeeOther, "/")
	}
	f, err := fh.Open()
	if err != nil {
		st.setStatus("Please upload a file first.")
		return c.Redirect(http.StatusSeeOther, "/")
	}
	defer f.Close()

	result, err := s.ingestor.Ingest(c.Request().Context(), f, fh.Filename)
	if err != nil {
		s.metrics.ingests.WithLabelValues("error").Inc()
		s.logger.Error("Demo ingestion failed", zap.String("filename", fh.Filename), zap.Error(err))
		st.setStatus("Error processing PDF: " + err.Error())
		return c.Redirect(http.StatusSeeOther, "/")
	}
	s.metrics.ingests.WithLabelValues("ok").Inc()

	st.mu.Lock()
	previous := st.SessionID
	st.SessionID = result.SessionID
	st.Filename = fh.Filename
	st.Status = result.Status
	st.Summary = ""
	st.History = nil
	st.mu.Unlock()

	if previous != "" {
		s.sessions.Close(previous)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleDemoSummarize(c echo.Context) error {
	st := s.demo.state(c)

	summary := rag.MsgNoDocument
	if sessionID := st.view().SessionID; sessionID != "" {
		var err error
		if summary, err = s.orch.Summarize(c.Request().Context(), sessionID); err != nil {
			return err
		}
	}

	st.mu.Lock()
	st.Summary = summary
	st.mu.Unlock()
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleDemoAsk(c echo.Context) error {
	st := s.demo.state(c)
	question := c.FormValue("question")

	answer := rag.MsgNoDocument
	if sessionID := st.view().SessionID; sessionID != "" {
		var err error
		if answer, err = s.orch.Ask(c.Request().Context(), sessionID, question); err != nil {
			return err
		}
	}

	st.mu.Lock()
	st.History = append(st.History,
		models.Turn{Role: "user", Content: question},
		models.Turn{Role: "assistant", Content: answer},
	)
	st.mu.Unlock()
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleDemoReset(c echo.Context) error {
	st := s.demo.state(c)

	st.mu.Lock()
	previous := st.SessionID
	st.SessionID, st.Filename, st.Status, st.Summary, st.History = "", "", "", "", nil
	st.mu.Unlock()

	if previous != "" {
		s.sessions.Close(previous)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (st *demoState) setStatus(status string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Status = status
}
