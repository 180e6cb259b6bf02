package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/star/timekeeper/internal/passes"
	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/screening"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

const (
	maxPassHours    = 72
	lookAheadWrites = 2 * time.Minute
)

// dataset returns the loaded catalog or writes 503.
func (s *Server) dataset(w http.ResponseWriter) *tle.TLEDataset {
	ds := s.deps.Store.Get()
	if ds == nil || len(ds.Satellites) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no TLE catalog loaded")
		return nil
	}
	return ds
}

// entry looks up the {norad_id} path value or writes an error.
func (s *Server) entry(w http.ResponseWriter, r *http.Request) (tle.TLEEntry, bool) {
	id, err := strconv.Atoi(r.PathValue("norad_id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid norad_id")
		return tle.TLEEntry{}, false
	}
	ds := s.dataset(w)
	if ds == nil {
		return tle.TLEEntry{}, false
	}
	e, ok := ds.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not in catalog", id))
		return tle.TLEEntry{}, false
	}
	return e, true
}

// GET /api/v1/tle/metadata
func (s *Server) handleTLEMetadata(w http.ResponseWriter, r *http.Request) {
	ds := s.dataset(w)
	if ds == nil {
		return
	}
	age, _ := s.deps.Store.Age(time.Now())
	sim := s.deps.Clock.Snapshot().SimulationTime
	writeJSON(w, http.StatusOK, map[string]any{
		"source":      ds.Source,
		"fetched_at":  ds.FetchedAt,
		"age_seconds": int(age.Seconds()),
		"count":       len(ds.Satellites),
		"epoch_min":   ds.EpochRange.Min,
		"epoch_max":   ds.EpochRange.Max,
		// Signed distance from the simulation time to the catalog epochs.
		"epoch_distance_seconds": ds.EpochRange.Distance(sim).Seconds(),
	})
}

// POST /api/v1/tle/reload
func (s *Server) handleTLEReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.TLECache == nil {
		writeError(w, http.StatusNotImplemented, "no TLE cache directory configured")
		return
	}

	ds, err := s.deps.Store.Reload(func() (*tle.TLEDataset, error) {
		return tle.LoadLatest(s.deps.TLECache, s.logger)
	})
	switch {
	case errors.Is(err, tle.ErrNoCatalog):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Warn("TLE reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("TLE catalog reloaded", "count", len(ds.Satellites), "fetched_at", ds.FetchedAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(ds.Satellites),
		"fetched_at": ds.FetchedAt,
	})
}

// POST /api/v1/tle/{norad_id}/epoch?offset=0s
// Rewrites the satellite's epoch to the current simulation time.
func (s *Server) handleRewriteEpoch(w http.ResponseWriter, r *http.Request) {
	offset, ok := offsetParam(w, r)
	if !ok {
		return
	}
	e, ok := s.entry(w, r)
	if !ok {
		return
	}

	t := s.deps.Clock.OffsetTime(offset)
	line1, err := tle.RewriteEpoch(e.Line1, t)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"norad_id": e.NORADID,
		"name":     e.Name,
		"epoch":    t,
		"line1":    line1,
		"line2":    e.Line2,
	})
}

// GET /api/v1/orbits
func (s *Server) handleOrbits(w http.ResponseWriter, r *http.Request) {
	paths := []propagation.OrbitPath{}
	if s.deps.Orbits != nil {
		if p := s.deps.Orbits.Paths(); p != nil {
			paths = p
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}

type screeningRequest struct {
	NORADID       int     `json:"norad_id"`
	U             float64 `json:"u"`
	V             float64 `json:"v"`
	W             float64 `json:"w"`
	WindowMinutes int     `json:"window_minutes"`
	StepSeconds   int     `json:"step_seconds"`
}

// POST /api/v1/screening
func (s *Server) handleScreening(w http.ResponseWriter, r *http.Request) {
	var body screeningRequest
	if !decodeBody(w, r, &body) {
		return
	}
	ds := s.dataset(w)
	if ds == nil {
		return
	}

	// Long windows take longer than the server's default write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(lookAheadWrites)); err != nil {
		s.logger.Debug("could not extend write deadline", "error", err)
	}

	result, err := screening.Screen(r.Context(), screening.Request{
		NORADID: body.NORADID,
		U:       body.U,
		V:       body.V,
		W:       body.W,
		Window:  time.Duration(body.WindowMinutes) * time.Minute,
		Step:    time.Duration(body.StepSeconds) * time.Second,
	}, ds.Satellites, s.deps.Clock, s.logger)
	switch {
	case errors.Is(err, screening.ErrPrimaryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case r.Context().Err() != nil:
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/v1/passes/{norad_id}?lat=40.7&lon=-74&alt=10&lead=0s&hours=24&min_el=10&max=10
func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "invalid lat parameter, must be -90 to 90")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "invalid lon parameter, must be -180 to 180")
		return
	}
	alt, ok := floatParam(w, q.Get("alt"), "alt", 0, -500, 9000)
	if !ok {
		return
	}
	hours, ok := floatParam(w, q.Get("hours"), "hours", 24, 0.1, maxPassHours)
	if !ok {
		return
	}
	minEl, ok := floatParam(w, q.Get("min_el"), "min_el", 10, 0, 90)
	if !ok {
		return
	}
	maxPasses, ok := floatParam(w, q.Get("max"), "max", 10, 1, 50)
	if !ok {
		return
	}

	var lead time.Duration
	if v := q.Get("lead"); v != "" {
		lead, err = time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid lead parameter, must be a duration like 30m")
			return
		}
	}

	e, ok := s.entry(w, r)
	if !ok {
		return
	}

	results := passes.Predict(r.Context(), passes.Request{
		Observer:     transform.NewObserverPosition(lat, lon, alt),
		Entries:      []tle.TLEEntry{e},
		Lead:         lead,
		HorizonHours: hours,
		MinElevation: minEl,
		MaxPasses:    int(maxPasses),
	}, s.deps.Clock)

	sat := results[0]
	if sat.Error != "" {
		writeError(w, http.StatusUnprocessableEntity, sat.Error)
		return
	}
	if sat.Passes == nil {
		sat.Passes = []passes.PassEvent{}
	}
	writeJSON(w, http.StatusOK, sat)
}

func floatParam(w http.ResponseWriter, v, name string, def, lo, hi float64) (float64, bool) {
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < lo || f > hi {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s parameter, must be %g to %g", name, lo, hi))
		return 0, false
	}
	return f, true
}

// GET /api/v1/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Cache.Stats()
	resp := map[string]any{
		"entries":    st.Entries,
		"size_bytes": st.SizeBytes,
		"hits":       st.Hits,
		"misses":     st.Misses,
		"evictions":  st.Evictions,
		"resets":     st.Resets,
		"step_ms":    s.deps.Cache.Step().Milliseconds(),
	}
	if st.Entries > 0 {
		resp["oldest"] = st.OldestTimestamp
		resp["newest"] = st.NewestTimestamp
	}
	writeJSON(w, http.StatusOK, resp)
}
