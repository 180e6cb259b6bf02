package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/star/timekeeper/internal/simclock"
)

// errNotTriplet marks three lines that do not start a name/line1/line2 group.
var errNotTriplet = errors.New("not a TLE triplet")

// Parse reads the 3-line name/line1/line2 catalog format. Malformed
// entries are logged and skipped; only read errors are returned.
func Parse(r io.Reader, logger *slog.Logger) ([]TLEEntry, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	var entries []TLEEntry
	for i := 0; i+2 < len(lines); {
		entry, err := parseEntry(lines[i], lines[i+1], lines[i+2])
		switch {
		case errors.Is(err, errNotTriplet):
			// Resynchronize one line at a time.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", lines[i])
			i++
			continue
		case err != nil:
			logger.Warn("skipping TLE entry", "name", strings.TrimSpace(lines[i]), "error", err)
		default:
			entries = append(entries, entry)
		}
		i += 3
	}
	return entries, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}
	return lines, nil
}

func parseEntry(name, line1, line2 string) (TLEEntry, error) {
	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return TLEEntry{}, errNotTriplet
	}
	if len(line1) < 32 {
		return TLEEntry{}, fmt.Errorf("line 1 too short: %d chars", len(line1))
	}

	// Catalog number in columns 3-7, epoch in columns 19-32.
	id, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return TLEEntry{}, fmt.Errorf("catalog number %q: %w", line1[2:7], err)
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return TLEEntry{}, err
	}

	return TLEEntry{
		NORADID: id,
		Name:    strings.TrimSpace(name),
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// parseEpoch decodes the YYDDD.DDDDDDDD epoch field.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	return simclock.ParseEpoch(s[:2], s[2:])
}
