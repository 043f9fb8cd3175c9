package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

type LoggingMiddleware struct {
	logger  *Logger
	metrics *Metrics
}

func NewLoggingMiddleware(logger *Logger, metrics *Metrics) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger,
		metrics: metrics,
	}
}

// Middleware tags each request with an id (reusing X-Request-ID when the
// caller sent one), logs it and records route metrics.
func (lm *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		r = r.WithContext(context.WithValue(r.Context(), RequestIDKey, requestID))
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(startTime)
		route := routeTemplate(r)

		lm.logger.Info("request_completed").
			Component("http").
			Operation("handle_request").
			HTTP(r.Method, r.URL.Path, wrapped.statusCode).
			Request(requestID).
			Duration(duration).
			Log()

		lm.metrics.RecordRequest(route, duration, wrapped.statusCode)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
