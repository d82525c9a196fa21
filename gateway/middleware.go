package gateway

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/security"
)

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{
	"Content-Type",
	auth.HeaderAuthorization,
	auth.HeaderAPIKey,
	auth.HeaderSecret,
}

// withMiddleware wraps h, outermost first: panic recovery, allow-all CORS,
// tracing, per-client rate limiting. CORS grants browsers read access to
// the gateway from any origin and is not an access control.
func (g *Gateway) withMiddleware(h http.Handler) http.Handler {
	h = g.rateLimit(h)
	h = otelhttp.NewHandler(h, "nodegate",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders(corsHeaders),
		handlers.MaxAge(600),
	)(h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{g.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	if g.limiter == nil {
		return next
	}
	retryAfter := strconv.Itoa(int(math.Ceil(g.cfg.RateLimit.Interval.Seconds())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == g.cfg.HealthPath {
			next.ServeHTTP(w, r)
			return
		}
		if !g.limiter.Allow(security.ClientKey(r.RemoteAddr)) {
			g.metrics.IncRateLimited(metrics.TransportHTTP)
			g.logger.Debug("request rate limited", logging.RemoteAddr(r.RemoteAddr))
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryLogger adapts Logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("panic in http handler", slog.String("panic", fmt.Sprint(v...)))
}
