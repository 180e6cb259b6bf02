package tle

import (
	"fmt"
	"time"

	"github.com/star/timekeeper/internal/simclock"
)

const lineLength = 69

// RewriteEpoch returns line1 with its epoch (columns 19-32) replaced by t
// and the checksum recomputed.
func RewriteEpoch(line1 string, t time.Time) (string, error) {
	if len(line1) != lineLength {
		return "", fmt.Errorf("line1 length %d, expected %d", len(line1), lineLength)
	}
	if line1[0] != '1' {
		return "", fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}

	year, day := simclock.ComputeEpoch(t)
	body := line1[:18] + year + day + line1[32:68]
	return body + string(rune('0'+Checksum(body))), nil
}

// Checksum computes the modulo-10 checksum over the first 68 columns of a
// TLE line: digits count their value, minus signs count one.
func Checksum(line string) int {
	if len(line) > lineLength-1 {
		line = line[:lineLength-1]
	}
	sum := 0
	for _, r := range line {
		switch {
		case r >= '0' && r <= '9':
			sum += int(r - '0')
		case r == '-':
			sum++
		}
	}
	return sum % 10
}

// ValidChecksum reports whether the last column of line matches its checksum.
func ValidChecksum(line string) bool {
	if len(line) != lineLength {
		return false
	}
	last := line[lineLength-1]
	return last >= '0' && last <= '9' && int(last-'0') == Checksum(line)
}
