package tle

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"
)

// TLEEntry is one satellite's two-line element set.
type TLEEntry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// EpochRange spans the oldest and newest element set epochs of a catalog.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Contains reports whether t lies inside the range.
func (r EpochRange) Contains(t time.Time) bool {
	return !t.Before(r.Min) && !t.After(r.Max)
}

// Distance returns how far t lies outside the range: negative before Min,
// positive after Max, zero inside.
func (r EpochRange) Distance(t time.Time) time.Duration {
	switch {
	case t.Before(r.Min):
		return t.Sub(r.Min)
	case t.After(r.Max):
		return t.Sub(r.Max)
	}
	return 0
}

// TLEDataset is a parsed catalog and where it came from.
type TLEDataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []TLEEntry
}

// NewDataset builds a dataset from parsed entries and computes its epoch range.
func NewDataset(source string, fetchedAt time.Time, entries []TLEEntry) *TLEDataset {
	ds := &TLEDataset{
		Source:     source,
		FetchedAt:  fetchedAt,
		Satellites: entries,
	}
	for _, e := range entries {
		if ds.EpochRange.Min.IsZero() || e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
	}
	return ds
}

// Find returns the entry with the given NORAD ID.
func (ds *TLEDataset) Find(noradID int) (TLEEntry, bool) {
	for _, e := range ds.Satellites {
		if e.NORADID == noradID {
			return e, true
		}
	}
	return TLEEntry{}, false
}

// LoadLatest parses the newest cached catalog file into a dataset.
func LoadLatest(c *Cache, logger *slog.Logger) (*TLEDataset, error) {
	data, ts, err := c.LoadLatest()
	if err != nil {
		return nil, err
	}
	entries, err := Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cached catalog from %s has no valid entries", ts.UTC().Format(time.RFC3339))
	}
	return NewDataset("cache", ts, entries), nil
}
