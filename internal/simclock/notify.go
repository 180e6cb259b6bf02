package simclock

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Severity ranks a user-facing notification.
type Severity string

// Severities, from the real-time rate up to fast playback.
const (
	SeverityNormal  Severity = "normal"
	SeverityStandby Severity = "standby"
	SeverityCaution Severity = "caution"
	SeveritySerious Severity = "serious"
)

// Notification is a short user-facing message about a clock change.
type Notification struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

var printer = message.NewPrinter(language.English)

// RateSeverity tiers a propagation rate by magnitude.
func RateSeverity(rate float64) Severity {
	mag := math.Abs(rate)
	switch {
	case mag > 0.99 && mag < 1.01:
		return SeverityNormal
	case mag < 10:
		return SeverityStandby
	case mag < 60:
		return SeverityCaution
	default:
		return SeveritySerious
	}
}

// RateNotification builds the notification shown after a rate change. The
// rate has one decimal and no digit grouping.
func RateNotification(rate float64) Notification {
	return Notification{
		Text:     printer.Sprintf("Propagation Speed: %vx", number.Decimal(rate, number.Scale(1), number.NoSeparator())),
		Severity: RateSeverity(rate),
	}
}
