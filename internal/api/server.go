// Package api serves forecasts, backtests and charts over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/pipeline"
	"github.com/lox/wandiforecast/internal/store"
)

const chartCacheTTL = 15 * time.Minute

type Server struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	port     string
	charts   *cache.Cache
}

// NewServer wires the HTTP handlers. st may be nil, in which case /health
// reports no storage statistics.
func NewServer(p *pipeline.Pipeline, st *store.Store, port string) *Server {
	return &Server{
		pipeline: p,
		store:    st,
		port:     port,
		charts:   cache.New(chartCacheTTL, 2*chartCacheTTL),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/forecast/chart", s.handleForecastChart)
	mux.HandleFunc("GET /api/backtest", s.handleBacktest)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrSchema):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
