package api

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"github.com/renderlite/renderlite/pkg/metrics"
)

// requestLogger is the hlog chain: a request-scoped child logger, a
// request id echoed in the Request-Id header, and one access line per
// request.
func (s *Server) requestLogger() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(s.logger),
		hlog.RequestIDHandler("request_id", "Request-Id"),
		hlog.RemoteAddrHandler("remote"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", size).
				Dur("duration", duration).
				Msg("Request handled")
		}),
	}
}

// instrument records request count and latency. SSE requests are counted
// on connect and observed when the stream ends.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}
