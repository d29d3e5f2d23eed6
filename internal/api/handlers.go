package api

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/lox/wandiforecast/internal/chart"
	"github.com/lox/wandiforecast/internal/models"
	"github.com/lox/wandiforecast/internal/pipeline"
	"github.com/lox/wandiforecast/internal/store"
)

type HealthStatus struct {
	Status       string                     `json:"status"`
	Payloads     *store.PayloadStats        `json:"payloads,omitempty"`
	Fetches      []store.FetchHealthSummary `json:"fetches,omitempty"`
	RecentErrors []string                   `json:"recent_errors,omitempty"`
}

type ForecastResponse struct {
	Forecast          *models.Table      `json:"forecast"`
	Actual            *models.Table      `json:"actual"`
	Comparison        map[string]float64 `json:"comparison"`
	ConditionAccuracy *float64           `json:"condition_accuracy"`
}

type BacktestResponse struct {
	Period int                `json:"period"`
	MAE    map[string]float64 `json:"mae"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	if s.store != nil {
		stats, err := s.store.GetPayloadStats()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		health.Payloads = stats

		if fetches, err := s.store.GetFetchHealth(1); err != nil {
			log.Printf("api: get fetch health: %v", err)
		} else {
			health.Fetches = fetches
		}
		if runs, err := s.store.GetRecentFetchErrors(5); err != nil {
			log.Printf("api: get recent fetch errors: %v", err)
		} else {
			for _, run := range runs {
				health.RecentErrors = append(health.RecentErrors, run.RequestKey+": "+run.ErrorMessage.String)
			}
		}
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.pipeline.Forecast(r.Context(), req)
	if err != nil {
		log.Printf("api: forecast %s: %v", r.URL.RawQuery, err)
		writeError(w, err)
		return
	}

	resp := ForecastResponse{
		Forecast:   res.Forecast,
		Actual:     res.Actual,
		Comparison: finiteOnly(res.Comparison),
	}
	if !math.IsNaN(res.ConditionAccuracy) {
		resp.ConditionAccuracy = &res.ConditionAccuracy
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForecastChart(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := req.Parse()
	if err != nil {
		writeError(w, err)
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = models.Features(q.Granularity).Regressors[0]
	}

	key := fmt.Sprintf("%s|%s|%s|%s|%s", q.Location.Key(),
		q.Start.Format(models.DateLayout), q.End.Format(models.DateLayout), q.Granularity.Param(), field)
	if data, ok := s.charts.Get(key); ok {
		servePNG(w, data.([]byte))
		return
	}

	res, err := s.pipeline.ForecastQuery(r.Context(), q)
	if err != nil {
		log.Printf("api: chart %s: %v", r.URL.RawQuery, err)
		writeError(w, err)
		return
	}
	data, err := chart.Render(field, res.Forecast, res.Actual)
	if err != nil {
		writeError(w, err)
		return
	}
	s.charts.Set(key, data, cache.DefaultExpiration)
	servePNG(w, data)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req, err := parseRequest(params)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := req.Parse()
	if err != nil {
		writeError(w, err)
		return
	}

	period := pipeline.DefaultBacktestPeriod
	if p := params.Get("period"); p != "" {
		period, err = strconv.Atoi(p)
		if err != nil || period <= 0 {
			writeError(w, models.InvalidRequest("period must be a positive integer, got %q", p))
			return
		}
	}

	mae, err := s.pipeline.Backtest(r.Context(), q, period)
	if err != nil {
		log.Printf("api: backtest %s: %v", r.URL.RawQuery, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BacktestResponse{Period: period, MAE: finiteOnly(mae)})
}

// parseRequest reads lat, lon, from, to and type. Type defaults to daily.
func parseRequest(params url.Values) (models.Request, error) {
	req := models.Request{
		From: params.Get("from"),
		To:   params.Get("to"),
		Type: params.Get("type"),
	}
	if req.Type == "" {
		req.Type = "Daily"
	}
	var err error
	if req.Latitude, err = parseCoord(params, "lat"); err != nil {
		return req, err
	}
	if req.Longitude, err = parseCoord(params, "lon"); err != nil {
		return req, err
	}
	return req, nil
}

func parseCoord(params url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(params.Get(name))
	if raw == "" {
		return 0, models.InvalidRequest("missing %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, models.InvalidRequest("invalid %s %q", name, raw)
	}
	return v, nil
}

func finiteOnly(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=900")
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}
