package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/metrics"
	"github.com/vango-go/callcoach/pkg/gateway/principal"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

// RateLimit applies the per-principal token bucket and concurrency cap to
// REST requests. Live connections are capped separately by the coach
// handler once the user is known.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		resolved := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(resolved.Key, time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit("requests")
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
				RetryAfter: func() *int {
					if dec.RetryAfter <= 0 {
						return nil
					}
					v := dec.RetryAfter
					return &v
				}(),
			})
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
