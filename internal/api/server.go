// Package api exposes the explorer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/explorer"
	"github.com/sells-group/city-explorer/internal/rank"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// DefaultLimit applies when a request has no limit parameter; 0 returns
	// every city.
	DefaultLimit   int
	RequestTimeout time.Duration
}

// Server routes requests to an Explorer.
type Server struct {
	exp  *explorer.Explorer
	opts Options
	log  *zap.Logger
}

// New creates a Server.
func New(exp *explorer.Explorer, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	return &Server{exp: exp, opts: opts, log: zap.L().With(zap.String("component", "api"))}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Get("/occupations", s.occupations)
		r.Get("/sliders", s.sliders)
		r.Get("/predict_similar_cities", s.predict)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"loaded": s.exp.LoadedOccupations(),
	})
}

func (s *Server) occupations(w http.ResponseWriter, r *http.Request) {
	occs, err := s.exp.Occupations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if occs == nil {
		occs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"occupations": occs})
}

type sliderInfo struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Columns []string `json:"columns"`
	Default float64  `json:"default"`
}

func (s *Server) sliders(w http.ResponseWriter, _ *http.Request) {
	cat := s.exp.Catalog()
	out := make([]sliderInfo, len(cat.Sliders))
	for i, sl := range cat.Sliders {
		out[i] = sliderInfo{Name: sl.Name, Aliases: sl.Aliases, Columns: sl.Columns, Default: sl.DefaultWeight()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sliders": out})
}

// Query parameters that are not slider weights.
var reserved = map[string]bool{
	"city_id":          true,
	"occupation_title": true,
	"limit":            true,
	"metric":           true,
	"exclude_self":     true,
}

type predictResponse struct {
	CityID     int64            `json:"city_id"`
	Occupation string           `json:"occupation_title"`
	Metric     string           `json:"metric"`
	Results    []explorer.Match `json:"results"`
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	raw := q.Get("city_id")
	if raw == "" {
		badRequest(w, "city_id is required")
		return
	}
	cityID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(w, "city_id must be an integer")
		return
	}

	limit := s.opts.DefaultLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
	}

	var opts []explorer.QueryOption
	metric := ""
	if v := q.Get("metric"); v != "" {
		m, err := rank.ParseMetric(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		metric = m.String()
		opts = append(opts, explorer.WithMetric(m))
	}
	if v := q.Get("exclude_self"); v != "" {
		ex, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "exclude_self must be a boolean")
			return
		}
		if ex {
			opts = append(opts, explorer.WithExcludeSelf())
		}
	}

	sliders := make(map[string]float64)
	for name, vals := range q {
		if reserved[name] || len(vals) == 0 {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			badRequest(w, "slider "+name+" must be a non-negative number")
			return
		}
		sliders[name] = f
	}

	occupation := q.Get("occupation_title")
	matches, err := s.exp.Similar(r.Context(), cityID, occupation, sliders, limit, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if metric == "" {
		metric = s.exp.Metric().String()
	}
	writeJSON(w, http.StatusOK, predictResponse{
		CityID:     cityID,
		Occupation: occupation,
		Metric:     metric,
		Results:    matches,
	})
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unknownCfg  *explorer.UnknownConfigError
		unknownCity *rank.UnknownCityError
		empty       *rank.EmptyFeatureSetError
		badWeight   *rank.InvalidWeightError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &unknownCfg), errors.As(err, &empty), errors.As(err, &badWeight):
		status = http.StatusBadRequest
	case errors.As(err, &unknownCity):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
