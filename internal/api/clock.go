package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/star/timekeeper/internal/frameloop"
	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/urlstate"
)

type clockResponse struct {
	SimulationTime     time.Time `json:"simulation_time"`
	RealTime           time.Time `json:"real_time"`
	SelectedDate       time.Time `json:"selected_date"`
	PropRate           float64   `json:"prop_rate"`
	LastPropRate       float64   `json:"last_prop_rate"`
	StaticOffsetMs     int64     `json:"static_offset_ms"`
	DynamicOffsetEpoch int64     `json:"dynamic_offset_epoch"`
	Frozen             bool      `json:"frozen"`
	TimeText           string    `json:"time_text,omitempty"`
	DayOfYear          int       `json:"day_of_year"`
	Link               string    `json:"link"`
}

func newClockResponse(snap simclock.Snapshot) clockResponse {
	return clockResponse{
		SimulationTime:     snap.SimulationTime,
		RealTime:           snap.RealTime,
		SelectedDate:       snap.SelectedDate,
		PropRate:           snap.Mapping.PropRate,
		LastPropRate:       snap.LastPropRate,
		StaticOffsetMs:     snap.Mapping.StaticOffset.Milliseconds(),
		DynamicOffsetEpoch: snap.Mapping.DynamicOffsetEpoch.UnixMilli(),
		Frozen:             snap.Mapping.Frozen(),
		TimeText:           snap.TimeText,
		DayOfYear:          simclock.DayOfYear(snap.SimulationTime),
		Link:               urlstate.FromSnapshot(snap).Link(),
	}
}

// GET /api/v1/clock
func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newClockResponse(s.deps.Clock.Snapshot()))
}

// apply runs fn on the frame loop and responds with the resulting state.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, fn func(*simclock.Clock)) {
	if err := s.deps.Clock.Do(r.Context(), fn); err != nil {
		if errors.Is(err, frameloop.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "clock is not running")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newClockResponse(s.deps.Clock.Snapshot()))
}

// POST /api/v1/clock/rate {"rate": 60}
func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate *float64 `json:"rate"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Rate == nil {
		writeError(w, http.StatusBadRequest, "rate is required")
		return
	}
	rate := *body.Rate
	s.apply(w, r, func(c *simclock.Clock) { c.SetRate(rate) })
}

// maxOffsetMs is the widest static offset that can land inside the
// simulation range.
var maxOffsetMs = simclock.MaxSimulationTime.Sub(simclock.MinSimulationTime).Milliseconds()

// POST /api/v1/clock/offset {"static_offset_ms": -3600000}
func (s *Server) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StaticOffsetMs *int64 `json:"static_offset_ms"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.StaticOffsetMs == nil {
		writeError(w, http.StatusBadRequest, "static_offset_ms is required")
		return
	}
	if ms := *body.StaticOffsetMs; ms > maxOffsetMs || ms < -maxOffsetMs {
		writeError(w, http.StatusBadRequest, "static_offset_ms outside the simulation range")
		return
	}
	offset := time.Duration(*body.StaticOffsetMs) * time.Millisecond
	s.apply(w, r, func(c *simclock.Clock) { c.SetStaticOffset(offset) })
}

// POST /api/v1/clock/toggle
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, (*simclock.Clock).Toggle)
}

// POST /api/v1/clock/date {"date": "2024-01-05T06:00:00Z"}
func (s *Server) handleSetDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Date *time.Time `json:"date"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Date == nil || body.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date := *body.Date
	if !simclock.InSimulationRange(date) {
		writeError(w, http.StatusBadRequest, "date outside the simulation range")
		return
	}
	s.apply(w, r, func(c *simclock.Clock) { c.JumpTo(date) })
}

// offsetParam reads the optional "offset" query parameter as a Go duration.
func offsetParam(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	v := r.URL.Query().Get("offset")
	if v == "" {
		return 0, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset parameter, must be a duration like 90m or -2h")
		return 0, false
	}
	return d, true
}

// GET /api/v1/clock/epoch?offset=1h
func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	offset, ok := offsetParam(w, r)
	if !ok {
		return
	}
	t := s.deps.Clock.OffsetTime(offset)
	year, day := simclock.ComputeEpoch(t)
	writeJSON(w, http.StatusOK, map[string]any{
		"time":  t,
		"year":  year,
		"day":   day,
		"epoch": year + day,
	})
}

// GET /api/v1/clock/offset-time?offset=90m
func (s *Server) handleOffsetTime(w http.ResponseWriter, r *http.Request) {
	offset, ok := offsetParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offset_seconds": offset.Seconds(),
		"time":           s.deps.Clock.OffsetTime(offset),
	})
}

// GET /api/v1/clock/link
func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	current := urlstate.FromSnapshot(s.deps.Clock.Snapshot()).Link()
	link := ""
	if s.deps.Links != nil {
		link = s.deps.Links.Link()
	}
	if link == "" {
		link = current
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"link":    link,
		"current": current,
	})
}

// POST /api/v1/clock/link {"link": "?date=1704434400000&rate=60"}
func (s *Server) handleApplyLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Link string `json:"link"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := urlstate.ParseLink(body.Link)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.apply(w, r, st.Apply)
}
