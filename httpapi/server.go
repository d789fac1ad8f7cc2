// Package httpapi serves the workflow router over HTTP.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tbxark/visaflow"
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

const defaultMaxUpload = 10 << 20

type Server struct {
	router    *visaflow.Router
	logger    *slog.Logger
	maxUpload int64
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxUpload caps the size of an uploaded document in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func NewServer(router *visaflow.Router, opts ...Option) *Server {
	s := &Server{
		router:    router,
		logger:    slog.Default(),
		maxUpload: defaultMaxUpload,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Echo builds an echo instance with the API mounted under /api/v1.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			s.logger.Log(c.Request().Context(), level, "HTTP request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.Register(e.Group("/api/v1"))
	return e
}

func (s *Server) Register(g *echo.Group) {
	g.GET("/definitions", s.ListDefinitions)
	g.POST("/sessions", s.OpenSession)
	g.GET("/sessions/:id", s.GetSession)
	g.DELETE("/sessions/:id", s.CloseSession)
	g.GET("/sessions/:id/requirements", s.GetRequirements)
	g.GET("/sessions/:id/progress", s.GetProgress)
	g.POST("/sessions/:id/messages", s.PostMessage)
	g.POST("/sessions/:id/documents", s.PostDocument)
	g.POST("/sessions/:id/export", s.Export)
}

type openRequest struct {
	SessionID string              `json:"session_id"`
	Handoff   session.HandoffData `json:"handoff"`
}

type messageRequest struct {
	Text   string         `json:"text"`
	Intent types.Intent   `json:"intent"`
	Fields map[string]any `json:"fields"`
}

// ListDefinitions returns the registered visa types
// (GET /api/v1/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"visa_types": s.router.VisaTypes()})
}

// OpenSession creates a session from a handoff
// (POST /api/v1/sessions)
func (s *Server) OpenSession(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	resp, err := s.router.Open(c.Request().Context(), strings.TrimSpace(req.SessionID), req.Handoff)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// (GET /api/v1/sessions/:id)
func (s *Server) GetSession(c echo.Context) error {
	sess, err := s.router.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

// (DELETE /api/v1/sessions/:id)
func (s *Server) CloseSession(c echo.Context) error {
	if err := s.router.Close(c.Request().Context(), c.Param("id")); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// (GET /api/v1/sessions/:id/requirements)
func (s *Server) GetRequirements(c echo.Context) error {
	req, err := s.router.Requirements(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// (GET /api/v1/sessions/:id/progress)
func (s *Server) GetProgress(c echo.Context) error {
	progress, err := s.router.Progress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, progress)
}

// PostMessage handles a user turn. A request naming an intent skips classification.
// (POST /api/v1/sessions/:id/messages)
func (s *Server) PostMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	ev := visaflow.Event{SessionID: c.Param("id"), Kind: visaflow.EventText, Text: req.Text}
	if req.Intent != "" {
		ev.Kind = visaflow.EventSignal
		ev.Intent = req.Intent
		ev.Fields = req.Fields
	} else if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	return s.handle(c, ev)
}

// PostDocument uploads a multipart file under the form field "file" with its type in
// "document_type".
// (POST /api/v1/sessions/:id/documents)
func (s *Server) PostDocument(c echo.Context) error {
	docType := strings.TrimSpace(c.FormValue("document_type"))
	if docType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document_type is required")
	}
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if header.Size > s.maxUpload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "document is too large")
	}
	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is unreadable")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is unreadable")
	}
	if int64(len(data)) > s.maxUpload {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "document is too large")
	}
	return s.handle(c, visaflow.Event{
		SessionID:    c.Param("id"),
		Kind:         visaflow.EventDocument,
		DocumentType: docType,
		Document: &oracle.Document{
			Name:     header.Filename,
			MIMEType: header.Header.Get(echo.HeaderContentType),
			Data:     data,
		},
	})
}

// Export returns the final payload of a completed session
// (POST /api/v1/sessions/:id/export)
func (s *Server) Export(c echo.Context) error {
	payload, err := s.router.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, payload)
}

func (s *Server) handle(c echo.Context, ev visaflow.Event) error {
	resp, err := s.router.Handle(c.Request().Context(), ev)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// httpError maps router errors to status codes. Internal details stay in the log.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, types.ErrSessionAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "session already exists")
	case errors.Is(err, types.ErrWorkflowNotComplete):
		return echo.NewHTTPError(http.StatusConflict, "workflow is not complete")
	case errors.Is(err, types.ErrDefinitionNotFound):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "unknown visa type")
	case errors.Is(err, types.ErrValidation):
		issues := types.FieldIssues(err)
		if len(issues) == 1 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s %s", issues[0].Field, issues[0].Reason))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	s.logger.Error("Request failed", "error", err, "retryable", types.IsRetryable(err))
	if types.IsRetryable(err) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
