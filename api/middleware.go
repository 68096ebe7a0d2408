package api

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/storyjobs/observe"
)

// requestLogger logs every request with method, path, status and duration.
func requestLogger(log observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info(r.Context(), "request",
				observe.String("method", r.Method),
				observe.String("path", r.URL.Path),
				observe.Int("status", status),
				observe.Duration("duration", time.Since(start)),
				observe.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

func maxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
