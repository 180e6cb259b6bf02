// Package urlstate keeps the clock state shareable and durable: every rate
// or offset change produces a link that reproduces the current simulation
// time and rate, and the latest state is saved to a store so it survives a
// restart.
package urlstate

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/timekeeper/internal/simclock"
)

// ErrNoState is returned by a Store that has nothing saved yet.
var ErrNoState = errors.New("no stored clock state")

// State is the part of the clock state worth sharing.
type State struct {
	SimulationTime time.Time `json:"simulation_time"`
	PropRate       float64   `json:"prop_rate"`
	SavedAt        time.Time `json:"saved_at"`
}

// FromSnapshot extracts the shareable state from a clock snapshot.
func FromSnapshot(s simclock.Snapshot) State {
	return State{
		SimulationTime: s.SimulationTime,
		PropRate:       s.Mapping.PropRate,
		SavedAt:        s.RealTime,
	}
}

// Link encodes the state as a query string: ?date=<unix ms>&rate=<rate>.
func (s State) Link() string {
	q := url.Values{}
	q.Set("date", strconv.FormatInt(s.SimulationTime.UnixMilli(), 10))
	q.Set("rate", strconv.FormatFloat(s.PropRate, 'f', -1, 64))
	return "?" + q.Encode()
}

// At returns the state as it stands at wall time now: simulation time
// advanced by the playback since SavedAt at PropRate. States without
// SavedAt, such as parsed links, are returned unchanged.
func (s State) At(now time.Time) State {
	if s.SavedAt.IsZero() || s.PropRate == 0 {
		return s
	}
	m := simclock.Mapping{
		StaticOffset:       s.SimulationTime.Sub(s.SavedAt),
		DynamicOffsetEpoch: s.SavedAt,
		PropRate:           s.PropRate,
	}
	s.SimulationTime = m.At(now)
	s.SavedAt = now
	return s
}

// Apply moves clock to the state's simulation time and rate.
func (s State) Apply(c *simclock.Clock) {
	c.SetRate(s.PropRate)
	c.JumpTo(s.SimulationTime)
}

// ParseLink decodes a link produced by Link. It accepts a bare query string
// or a full URL. A missing rate means real time.
func ParseLink(link string) (State, error) {
	raw := strings.TrimSpace(link)
	if raw == "" {
		return State{}, errors.New("empty link")
	}
	if !strings.Contains(raw, "?") {
		raw = "?" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return State{}, fmt.Errorf("parsing link: %w", err)
	}
	q := u.Query()

	dateStr := q.Get("date")
	if dateStr == "" {
		return State{}, errors.New("link has no date")
	}
	ms, err := strconv.ParseInt(dateStr, 10, 64)
	if err != nil {
		return State{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}

	st := State{SimulationTime: time.UnixMilli(ms).UTC(), PropRate: 1}
	if rateStr := q.Get("rate"); rateStr != "" {
		rate, err := strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return State{}, fmt.Errorf("invalid rate %q: %w", rateStr, err)
		}
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			return State{}, fmt.Errorf("invalid rate %q", rateStr)
		}
		st.PropRate = rate
	}
	return st, nil
}
