package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"nutrition-rag/internal/models"
	"nutrition-rag/internal/rag"
)

// Assistant is the part of rag.Session the HTTP API needs.
type Assistant interface {
	Handle(ctx context.Context, question string) rag.Reply
	Status() string
	State() rag.State
}

type Server struct {
	echo      *echo.Echo
	assistant Assistant
	metrics   *Metrics
	addr      string
}

type AskRequest struct {
	Question string `json:"question"`
}

type AskResponse struct {
	RequestID string       `json:"request_id"`
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	Grounded  bool         `json:"grounded"`
	Sources   []models.Hit `json:"sources,omitempty"`
}

type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

type HealthResponse struct {
	State  string `json:"state"`
	Status string `json:"status"`
}

func New(assistant Assistant, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	metrics := NewMetrics()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Msg("http request")
			return err
		}
	})

	e.Use(metrics.Middleware())

	s := &Server{echo: e, assistant: assistant, metrics: metrics, addr: addr}
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", metrics.Handler())
	v1 := e.Group("/api/v1")
	v1.POST("/ask", s.handleAsk)
	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	state := s.assistant.State()
	code := http.StatusOK
	if state != rag.StateReady {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{State: state.String(), Status: s.assistant.Status()})
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	reply := s.assistant.Handle(c.Request().Context(), req.Question)
	s.metrics.ObserveReply(reply)
	if !reply.OK() {
		return c.JSON(statusFor(reply.Err), ErrorResponse{RequestID: reply.RequestID, Error: reply.Message})
	}
	return c.JSON(http.StatusOK, AskResponse{
		RequestID: reply.RequestID,
		Question:  reply.Answer.Question,
		Answer:    reply.Answer.Text,
		Grounded:  reply.Answer.Grounded,
		Sources:   reply.Answer.Sources,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotReady),
		errors.Is(err, models.ErrDataAccess),
		errors.Is(err, models.ErrCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrGeneration), errors.Is(err, models.ErrRetryable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting http server")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down http server")
	return s.echo.Shutdown(ctx)
}
