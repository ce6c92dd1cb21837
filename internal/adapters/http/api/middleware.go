package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/fanpulse/pkg/logger"
	"github.com/okian/fanpulse/pkg/metrics"
)

var errHandlerPanic = errors.New("handler panic")

// MetricsMiddleware records request count and latency per endpoint. A
// panicking handler is answered with 500 and logged; 5xx responses are
// logged with the request line.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	log := logger.Default().Named("http")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				log.Error(r.Context(), "handler panicked",
					logger.String("endpoint", endpoint),
					logger.Any("panic", p))
				if !rw.wroteHeader {
					writeError(rw, http.StatusInternalServerError, "internal_error", errHandlerPanic)
				}
			}

			status := strconv.Itoa(rw.statusCode)
			metrics.RecordHTTPRequest(endpoint, r.Method, status)
			metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(time.Since(start).Milliseconds()))
			if rw.statusCode >= http.StatusInternalServerError {
				log.Warn(r.Context(), "request failed",
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.Int("status", rw.statusCode),
					logger.Duration("elapsed", time.Since(start)))
			}
		}()
		next(rw, r)
	}
}

// responseWriter records the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
