// Package stream implements Server-Sent Events (SSE) streaming of the
// simulation clock and of satellite keyframes at simulation time.
//
// Clock stream (GET /api/v1/stream/clock):
//
//	data: {"type":"clock","text":"02/06/26 12:00:00 UTC","day_of_year":37}\n\n
//	data: {"type":"toast","text":"Propagation Speed: 60.0x","severity":"serious"}\n\n
//
// Keyframe stream (GET /api/v1/stream/keyframes). The first message is
// always metadata, followed by batches read from the keyframe cache at the
// current simulation time:
//
//	data: {"type":"metadata","dataset_epoch":"...","tle_age_seconds":1800,"simulation_time":"...","prop_rate":60}\n\n
//	data: {"type":"keyframe_batch","t":"2026-02-06T04:00:00Z","frame":"ECEF","sat":[...]}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh first message on each connection.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/timekeeper/internal/cache"
	"github.com/star/timekeeper/internal/httputil"
	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/tle"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxStreams         int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Read client IPs from proxy headers.
}

// Timeline exposes the current clock state.
type Timeline interface {
	Snapshot() simclock.Snapshot
}

// Handler manages SSE streaming connections.
type Handler struct {
	cache    *cache.KeyframeCache
	store    *tle.Store
	timeline Timeline
	hub      *Hub
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(kfCache *cache.KeyframeCache, store *tle.Store, timeline Timeline, hub *Hub, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		cache:    kfCache,
		store:    store,
		timeline: timeline,
		hub:      hub,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxStreams),
		logger:   logger.With("component", "stream"),
	}
}

// HandleClock serves the SSE clock stream.
// GET /api/v1/stream/clock
func (h *Handler) HandleClock(w http.ResponseWriter, r *http.Request) {
	c, done, ok := h.open(w, r, "clock")
	if !ok {
		return
	}
	defer done()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	// Current time first so the client does not wait for the next refresh.
	first, ok := h.hub.Last()
	if !ok {
		snap := h.timeline.Snapshot()
		first = Event{
			Type:      "clock",
			Text:      snap.SimulationTime.UTC().Format(time.RFC3339),
			DayOfYear: simclock.DayOfYear(snap.SimulationTime),
		}
	}
	if err := c.sendJSON(first); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (clock)", "remote_ip", c.ip, "error", err)
		return
	}

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-events:
			if err := c.sendJSON(ev); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", c.ip, "error", err)
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", c.ip, "error", err)
				return
			}
		}
	}
}

// HandleKeyframes serves the SSE keyframe stream. The stream ends once
// the sent keyframes span horizon seconds of simulation time.
// GET /api/v1/stream/keyframes?step=5&horizon=600&trail=20
func (h *Handler) HandleKeyframes(w http.ResponseWriter, r *http.Request) {
	step, ok := intParam(w, r, "step", 5, 1, 60)
	if !ok {
		return
	}
	horizon, ok := intParam(w, r, "horizon", 600, 10, 3600)
	if !ok {
		return
	}
	trail, ok := intParam(w, r, "trail", 20, 0, 120)
	if !ok {
		return
	}

	c, done, ok := h.open(w, r, "keyframes",
		"step", step,
		"horizon", horizon,
	)
	if !ok {
		return
	}
	defer done()

	// Send metadata message (first message on every connection).
	snap := h.timeline.Snapshot()
	meta := metadataMessage{
		Type:           "metadata",
		SimulationTime: snap.SimulationTime.UTC().Format(time.RFC3339Nano),
		PropRate:       snap.Mapping.PropRate,
	}
	if ds := h.store.Get(); ds != nil {
		meta.DatasetEpoch = ds.FetchedAt.UTC().Format(time.RFC3339)
	}
	if age, ok := h.store.Age(time.Now()); ok {
		meta.TLEAge = int(age.Seconds())
	}
	if err := c.sendJSON(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", c.ip, "error", err)
		return
	}

	// Stream keyframes at the requested step interval of wall time.
	ticker := time.NewTicker(time.Duration(step) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	span := time.Duration(horizon) * time.Second

	var firstSent, lastSent time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			snap := h.timeline.Snapshot()
			kf := h.cache.GetNearest(snap.SimulationTime)
			if kf == nil {
				metrics.IncStreamErrors("cache_miss")
				h.logger.Debug("stream cache miss",
					"simulation_time", h.cache.RoundToStep(snap.SimulationTime).UTC().Format(time.RFC3339),
					"remote_ip", c.ip,
				)
				continue
			}
			// Paused clocks keep landing on the same keyframe.
			if kf.Timestamp.Equal(lastSent) {
				continue
			}

			var trailKFs []*propagation.Keyframe
			if trail > 0 {
				trailKFs = h.cache.GetRecent(kf.Timestamp, trail, snap.Mapping.PropRate < 0)
			}

			data, err := json.Marshal(buildBatchMessage(kf, trailKFs))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", c.ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", c.ip, "error", err)
				return
			}
			lastSent = kf.Timestamp
			if firstSent.IsZero() {
				firstSent = kf.Timestamp
			}
			// The client reconnects and resumes from a fresh metadata message.
			if lastSent.Sub(firstSent).Abs() >= span {
				h.logger.Debug("stream horizon reached", "remote_ip", c.ip, "horizon", horizon)
				return
			}

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", c.ip, "error", err)
				return
			}
		}
	}
}

// open enforces the stream limits and starts the SSE response. On
// success the caller must call done when the stream ends.
func (h *Handler) open(w http.ResponseWriter, r *http.Request, kind string, attrs ...any) (*client, func(), bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if limit, ok := h.limiter.acquire(ip); !ok {
		metrics.IncStreamErrors("rate_limit_" + limit)
		h.logger.Warn("stream rate limit exceeded",
			"limit", limit,
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
			"active_streams", h.limiter.active(),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return nil, nil, false
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	release := func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
	}

	c, err := newClient(w, ip, h.logger)
	if err != nil {
		if errors.Is(err, errNoFlusher) {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		release()
		return nil, nil, false
	}

	startTime := time.Now()
	h.logger.Info("stream connected",
		append([]any{
			"stream", kind,
			"remote_ip", ip,
			"user_agent", r.Header.Get("User-Agent"),
		}, attrs...)...,
	)

	done := func() {
		release()
		h.logger.Info("stream disconnected",
			"stream", kind,
			"remote_ip", ip,
			"messages", c.messages,
			"bytes", c.bytes,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}
	return c, done, true
}

// intParam reads an integer query parameter within [lo, hi]. It writes a
// 400 response and returns false if the value is invalid.
func intParam(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s parameter, must be %d-%d", name, lo, hi))
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// buildBatchMessage formats a keyframe into the SSE batch payload.
// If trailKFs is non-empty, each satellite includes its trail positions in
// playback order.
func buildBatchMessage(kf *propagation.Keyframe, trailKFs []*propagation.Keyframe) keyframeBatchMessage {
	// NORAD ID -> trail positions.
	var trailIndex map[int][][3]float64
	if len(trailKFs) > 0 {
		trailIndex = make(map[int][][3]float64, len(kf.Satellites))
		for _, tkf := range trailKFs {
			for _, s := range tkf.Satellites {
				trailIndex[s.NORADID] = append(trailIndex[s.NORADID], s.PositionECEF)
			}
		}
	}

	sats := make([]satPayload, len(kf.Satellites))
	for i, s := range kf.Satellites {
		sats[i] = satPayload{
			ID: s.NORADID,
			P:  s.PositionECEF,
		}
		if tr, ok := trailIndex[s.NORADID]; ok {
			sats[i].Tr = tr
		}
	}
	return keyframeBatchMessage{
		Type:  "keyframe_batch",
		T:     kf.Timestamp.UTC().Format(time.RFC3339),
		Frame: "ECEF",
		Sat:   sats,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type           string  `json:"type"`
	DatasetEpoch   string  `json:"dataset_epoch,omitempty"`
	TLEAge         int     `json:"tle_age_seconds"`
	SimulationTime string  `json:"simulation_time"`
	PropRate       float64 `json:"prop_rate"`
}

type keyframeBatchMessage struct {
	Type  string       `json:"type"`
	T     string       `json:"t"`
	Frame string       `json:"frame"`
	Sat   []satPayload `json:"sat"`
}

type satPayload struct {
	ID int          `json:"id"`
	P  [3]float64   `json:"p"`
	Tr [][3]float64 `json:"tr,omitempty"`
}
