package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"limitpaste/internal/metrics"
	"limitpaste/internal/paste"
)

// testNowHeader overrides the clock (unix milliseconds) in test mode.
const testNowHeader = "X-Test-Now-Ms"

// observeDuration records request latency by route pattern, so ids do not
// explode label cardinality.
func observeDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// testClock pins the paste clock to the X-Test-Now-Ms header. Malformed
// values are ignored.
func testClock(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(testNowHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			hlog.FromRequest(r).Debug().Str("value", raw).Msg("ignoring malformed test clock header")
			next.ServeHTTP(w, r)
			return
		}
		ctx := paste.WithNow(r.Context(), time.UnixMilli(ms).UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
