package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// requestLogger logs one line per request once it has been served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"latency_ms": time.Since(start).Milliseconds(),
			"remote":     r.RemoteAddr,
			"request_id": middleware.GetReqID(r.Context()),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	})
}
