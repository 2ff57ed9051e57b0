package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nutrition-rag/internal/models"
	"nutrition-rag/internal/rag"
)

// Metrics are kept on a private registry so tests can build many servers.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	questions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutrition_rag_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nutrition_rag_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutrition_rag_questions_total",
			Help: "Answered questions by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.requests, m.duration, m.questions)
	return m
}

func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			m.requests.WithLabelValues(c.Request().Method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ObserveReply counts one handled question.
func (m *Metrics) ObserveReply(r rag.Reply) {
	m.questions.WithLabelValues(outcome(r)).Inc()
}

func outcome(r rag.Reply) string {
	switch {
	case r.Err == nil && r.Answer.Grounded:
		return "answered"
	case r.Err == nil:
		return "fallback"
	case errors.Is(r.Err, models.ErrCredential):
		return "credential"
	case errors.Is(r.Err, models.ErrNotReady), errors.Is(r.Err, models.ErrDataAccess):
		return "unavailable"
	case errors.Is(r.Err, models.ErrGeneration):
		return "generation"
	case errors.Is(r.Err, rag.ErrEmptyQuestion):
		return "bad_request"
	default:
		return "error"
	}
}
