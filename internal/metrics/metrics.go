package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timekeeper_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	clockRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_clock_prop_rate",
		Help: "Current propagation rate (0 = paused).",
	})

	clockStaticOffsetSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_clock_static_offset_seconds",
		Help: "Current static offset of the simulation clock.",
	})

	clockRateChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_clock_rate_changes_total",
		Help: "Number of propagation rate changes.",
	})

	clockOffsetJumpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_clock_offset_jumps_total",
		Help: "Number of static offset changes.",
	})

	clockFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_clock_frames_total",
		Help: "Number of frames ticked by the frame loop.",
	})

	displayUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_display_updates_total",
		Help: "Number of display sink refreshes.",
	})

	displaySkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_display_skipped_total",
		Help: "Display refreshes skipped because simulation time was jumping.",
	})

	syncSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_sync_sent_total",
			Help: "Synchronization messages delivered to workers.",
		},
		[]string{"worker"},
	)

	syncSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_sync_skipped_total",
			Help: "Synchronization messages skipped because the worker was not ready.",
		},
		[]string{"worker"},
	)

	propagationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timekeeper_propagation_duration_seconds",
		Help:    "Duration of one catalog propagation.",
		Buckets: prometheus.DefBuckets,
	})

	propagationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_propagation_results_total",
			Help: "Per-satellite propagation results.",
		},
		[]string{"result"},
	)

	propagationWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_propagation_workers",
		Help: "Size of the propagation worker pool.",
	})

	tleDatasetCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_tle_dataset_count",
		Help: "Number of satellites in the loaded TLE dataset.",
	})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_cache_hits_total",
		Help: "Keyframe cache hits.",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_cache_misses_total",
		Help: "Keyframe cache misses.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_cache_evictions_total",
		Help: "Keyframe cache evictions.",
	})

	cacheResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_cache_resets_total",
		Help: "Keyframe cache resets caused by simulation time jumps.",
	})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_cache_entries",
		Help: "Keyframes currently cached.",
	})

	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_cache_size_bytes",
		Help: "Estimated keyframe cache memory footprint.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timekeeper_streams_active",
		Help: "Open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_stream_messages_total",
		Help: "SSE messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timekeeper_stream_bytes_total",
		Help: "SSE bytes sent.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timekeeper_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		clockRate,
		clockStaticOffsetSeconds,
		clockRateChangesTotal,
		clockOffsetJumpsTotal,
		clockFramesTotal,
		displayUpdatesTotal,
		displaySkippedTotal,
		syncSentTotal,
		syncSkippedTotal,
		propagationDurationSeconds,
		propagationResultsTotal,
		propagationWorkers,
		tleDatasetCount,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheResetsTotal,
		cacheEntries,
		cacheSizeBytes,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetClockRate records the current propagation rate.
func SetClockRate(rate float64) { clockRate.Set(rate) }

// SetClockStaticOffset records the current static offset.
func SetClockStaticOffset(offset time.Duration) { clockStaticOffsetSeconds.Set(offset.Seconds()) }

// IncClockRateChanges counts a propagation rate change.
func IncClockRateChanges() { clockRateChangesTotal.Inc() }

// IncClockOffsetJumps counts a static offset change.
func IncClockOffsetJumps() { clockOffsetJumpsTotal.Inc() }

// IncClockFrames counts one frame of the frame loop.
func IncClockFrames() { clockFramesTotal.Inc() }

// IncDisplayUpdates counts a display refresh.
func IncDisplayUpdates() { displayUpdatesTotal.Inc() }

// IncDisplaySkipped counts a display refresh skipped during a jump.
func IncDisplaySkipped() { displaySkippedTotal.Inc() }

// IncSyncSent counts a sync message delivered to worker.
func IncSyncSent(worker string) { syncSentTotal.WithLabelValues(worker).Inc() }

// IncSyncSkipped counts a sync message skipped because worker was not ready.
func IncSyncSkipped(worker string) { syncSkippedTotal.WithLabelValues(worker).Inc() }

// RecordPropagation records one catalog propagation.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationResultsTotal.WithLabelValues("success").Add(float64(success))
	propagationResultsTotal.WithLabelValues("error").Add(float64(errors))
}

// SetPropagationWorkersActive records the worker pool size.
func SetPropagationWorkersActive(n int) { propagationWorkers.Set(float64(n)) }

// SetTLEDatasetCount records the number of satellites in the loaded catalog.
func SetTLEDatasetCount(n int) { tleDatasetCount.Set(float64(n)) }

// IncCacheHits counts a keyframe cache hit.
func IncCacheHits() { cacheHitsTotal.Inc() }

// IncCacheMisses counts a keyframe cache miss.
func IncCacheMisses() { cacheMissesTotal.Inc() }

// AddCacheEvictions counts n evicted keyframes.
func AddCacheEvictions(n int) { cacheEvictionsTotal.Add(float64(n)) }

// IncCacheResets counts a keyframe cache reset.
func IncCacheResets() { cacheResetsTotal.Inc() }

// SetCacheEntries records the number of cached keyframes.
func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

// SetCacheSizeBytes records the estimated cache footprint.
func SetCacheSizeBytes(n int64) { cacheSizeBytes.Set(float64(n)) }

// IncStreamConnections counts an SSE connect or disconnect event.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

// IncStreamsActive marks an SSE stream as opened.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive marks an SSE stream as closed.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one SSE message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes counts n bytes written to SSE streams.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts an SSE error by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/healthz":                  true,
	"/readyz":                   true,
	"/metrics":                  true,
	"/api/v1/clock":             true,
	"/api/v1/clock/rate":        true,
	"/api/v1/clock/offset":      true,
	"/api/v1/clock/toggle":      true,
	"/api/v1/clock/date":        true,
	"/api/v1/clock/epoch":       true,
	"/api/v1/clock/offset-time": true,
	"/api/v1/clock/link":        true,
	"/api/v1/tle/metadata":      true,
	"/api/v1/tle/reload":        true,
	"/api/v1/orbits":            true,
	"/api/v1/screening":         true,
	"/api/v1/stream/clock":      true,
	"/api/v1/stream/keyframes":  true,
	"/api/v1/cache/stats":       true,
}

// normalizeRoute collapses parameterized and unknown paths so the path
// label stays low-cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, "/api/v1/passes/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/api/v1/passes/{norad_id}"
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/tle/"); ok {
		if id, ok := strings.CutSuffix(rest, "/epoch"); ok && id != "" && !strings.Contains(id, "/") {
			return "/api/v1/tle/{norad_id}/epoch"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
