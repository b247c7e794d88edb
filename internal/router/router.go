package router

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership-go/internal/application"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/membership"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/respond"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/stats"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/update"
	"github.com/ovaphlow/pitchfork/service-membership-go/internal/user"
)

const Prefix = "/membership-api"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// Flush lets event streams through the wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

func (lrw *loggingResponseWriter) code() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

func wrap(w http.ResponseWriter) *loggingResponseWriter {
	if lrw, ok := w.(*loggingResponseWriter); ok {
		return lrw
	}
	return &loggingResponseWriter{ResponseWriter: w}
}

// LoggingMiddleware logs requests at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := wrap(w)
			next.ServeHTTP(lrw, r)
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", lrw.code(),
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// HSTS only over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics are the per-route request counters and latencies.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membership",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "membership",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// MetricsMiddleware records each request under its mux pattern, so it must
// see the same *http.Request the mux routes.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := wrap(w)
			next.ServeHTTP(lrw, r)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.requests.WithLabelValues(r.Method, route, strconv.Itoa(lrw.code())).Inc()
			m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	// EventSource cannot set headers
	return r.URL.Query().Get("access_token")
}

// SessionMiddleware attaches the caller's session to the request context.
// Missing, expired or revoked tokens yield an anonymous session; only a
// failing revocation store rejects the request.
func SessionMiddleware(m *session.Manager, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := m.New()
			if token := bearer(r); token != "" {
				resumed, err := m.Resume(r.Context(), token)
				switch {
				case err == nil:
					sess = resumed
				case session.IsAuthError(err):
					logger.Debugw("ignoring stale session token", "err", err)
				default:
					respond.Error(w, logger, err)
					return
				}
			}
			defer sess.Close()
			next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), sess)))
		})
	}
}

// Deps are the handlers and infrastructure the routes are mounted on.
type Deps struct {
	Logger       *zap.SugaredLogger
	Sessions     *session.Manager
	Membership   *membership.Handler
	Users        *user.Handler
	Applications *application.Handler
	Updates      *update.Handler
	Stats        *stats.Handler
	Metrics      *Metrics
	Gatherer     prometheus.Gatherer
	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]func(context.Context) error
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+Prefix+"/health", health(d.Checks, d.Logger))
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST "+Prefix+"/signup", d.Membership.Signup)
	mux.HandleFunc("POST "+Prefix+"/login", d.Membership.Login)
	mux.HandleFunc("POST "+Prefix+"/logout", d.Membership.Logout)
	mux.HandleFunc("GET "+Prefix+"/session", d.Membership.Directive)
	mux.HandleFunc("GET "+Prefix+"/session/stream", d.Membership.Stream)

	mux.HandleFunc("GET "+Prefix+"/profile", d.Users.Profile)
	mux.HandleFunc("PATCH "+Prefix+"/profile", d.Users.UpdateProfile)
	mux.HandleFunc("GET "+Prefix+"/usernames/{username}", d.Users.LookupUsername)
	mux.HandleFunc("POST "+Prefix+"/admin/users/{username}/ban", d.Users.Ban)
	mux.HandleFunc("POST "+Prefix+"/admin/users/{username}/unban", d.Users.Unban)
	mux.HandleFunc("GET "+Prefix+"/admin/users", d.Users.ListAccounts)

	mux.HandleFunc("POST "+Prefix+"/applications", d.Applications.Submit)
	mux.HandleFunc("GET "+Prefix+"/applications/me", d.Applications.Mine)
	mux.HandleFunc("GET "+Prefix+"/applications", d.Applications.List)
	mux.HandleFunc("POST "+Prefix+"/applications/{id}/review", d.Applications.Review)

	mux.HandleFunc("GET "+Prefix+"/updates", d.Updates.List)
	mux.HandleFunc("GET "+Prefix+"/updates/stream", d.Updates.Stream)
	mux.HandleFunc("POST "+Prefix+"/updates", d.Updates.Create)
	mux.HandleFunc("PUT "+Prefix+"/updates/{id}/pin", d.Updates.Pin)
	mux.HandleFunc("DELETE "+Prefix+"/updates/{id}", d.Updates.Delete)

	mux.HandleFunc("GET "+Prefix+"/stats", d.Stats.Summary)

	var handler http.Handler = SecurityHeadersMiddleware()(mux)
	handler = LoggingMiddleware(d.Logger)(handler)
	if d.Metrics != nil {
		handler = MetricsMiddleware(d.Metrics)(handler)
	}
	return SessionMiddleware(d.Sessions, d.Logger)(handler)
}

func health(checks map[string]func(context.Context) error, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, body := http.StatusOK, map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warnw("health check failed", "component", name, "err", err)
				status, body[name] = http.StatusServiceUnavailable, "down"
				continue
			}
			body[name] = "ok"
		}
		respond.JSON(w, status, body)
	}
}
