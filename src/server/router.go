// Package server exposes the KSI dataset, filters, aggregates and charts over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"KSIDashboard/src/metrics"
	"KSIDashboard/src/storage"
)

const requestIDHeader = "X-Request-ID"

const selectorPath = "/api/{kind:neighbourhoods|years|hours}/{value}"

func CreateRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/dataset/head", h.Head).Methods("GET")
	r.HandleFunc("/api/dataset/summary", h.Summary).Methods("GET")
	r.HandleFunc(selectorPath+"/collisions", h.Collisions).Methods("GET")
	r.HandleFunc(selectorPath+"/collisions.xlsx", h.Export).Methods("GET")
	r.HandleFunc("/api/aggregates", h.Aggregates).Methods("GET")
	r.HandleFunc("/api/aggregates/{name}", h.Aggregate).Methods("GET")
	r.HandleFunc("/charts/{name}.png", h.Chart).Methods("GET")
	r.HandleFunc("/logs", h.Logs).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		HttpError(w, "not found", http.StatusNotFound, h.logger)
	})

	r.Use(requestLogging(h.logger, h.metrics))
	return r
}

// statusRecorder 记录状态码, 同时保留 Flusher
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogging tags each request with an id, then logs and counts it by route template.
func requestLogging(logger *storage.Logger, m *metrics.Collector) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			m.ObserveRequest(route, rec.status, elapsed)
			logger.Info("http request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
}
