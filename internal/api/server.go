// Package api is the HTTP control surface of the clock: reading and
// changing simulation time, and the look-ahead tools built on it.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/timekeeper/internal/auth"
	"github.com/star/timekeeper/internal/cache"
	"github.com/star/timekeeper/internal/health"
	"github.com/star/timekeeper/internal/httputil"
	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/stream"
	"github.com/star/timekeeper/internal/tle"
)

// Controller gives access to the clock owned by the frame loop.
type Controller interface {
	Snapshot() simclock.Snapshot
	Do(ctx context.Context, fn func(*simclock.Clock)) error
	OffsetTime(offset time.Duration) time.Time
	Running() bool
}

// LinkSource returns the link recorded after the last clock change.
type LinkSource interface {
	Link() string
}

// OrbitSource returns the latest orbit paths.
type OrbitSource interface {
	Paths() []propagation.OrbitPath
}

// Deps are the components the routes serve. Clock and Store are required.
type Deps struct {
	Clock    Controller
	Links    LinkSource
	Orbits   OrbitSource
	Store    *tle.Store
	TLECache *tle.Cache
	Cache    *cache.KeyframeCache
	Stream   *stream.Handler
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Clock.Running))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/clock", s.handleClock)
	mux.HandleFunc("POST /api/v1/clock/rate", s.handleSetRate)
	mux.HandleFunc("POST /api/v1/clock/offset", s.handleSetOffset)
	mux.HandleFunc("POST /api/v1/clock/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/v1/clock/date", s.handleSetDate)
	mux.HandleFunc("GET /api/v1/clock/epoch", s.handleEpoch)
	mux.HandleFunc("GET /api/v1/clock/offset-time", s.handleOffsetTime)
	mux.HandleFunc("GET /api/v1/clock/link", s.handleGetLink)
	mux.HandleFunc("POST /api/v1/clock/link", s.handleApplyLink)

	mux.HandleFunc("GET /api/v1/tle/metadata", s.handleTLEMetadata)
	mux.HandleFunc("POST /api/v1/tle/reload", s.handleTLEReload)
	mux.HandleFunc("POST /api/v1/tle/{norad_id}/epoch", s.handleRewriteEpoch)
	mux.HandleFunc("GET /api/v1/orbits", s.handleOrbits)
	mux.HandleFunc("POST /api/v1/screening", s.handleScreening)
	mux.HandleFunc("GET /api/v1/passes/{norad_id}", s.handlePasses)

	if deps.Cache != nil {
		mux.HandleFunc("GET /api/v1/cache/stats", s.handleCacheStats)
	}
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/clock", deps.Stream.HandleClock)
		mux.HandleFunc("GET /api/v1/stream/keyframes", deps.Stream.HandleKeyframes)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body of at most 64 KiB into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers flush through the wrapper.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, false),
			)
		})
	}
}
