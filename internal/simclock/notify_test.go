package simclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateSeverity(t *testing.T) {
	tests := []struct {
		rate float64
		want Severity
	}{
		{1, SeverityNormal},
		{-1, SeverityNormal},
		{1.005, SeverityNormal},
		{0, SeverityStandby},
		{0.5, SeverityStandby},
		{9.9, SeverityStandby},
		{-5, SeverityStandby},
		{10, SeverityCaution},
		{59.9, SeverityCaution},
		{60, SeveritySerious},
		{-3600, SeveritySerious},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RateSeverity(tt.rate), "rate %v", tt.rate)
	}
}

func TestRateNotificationText(t *testing.T) {
	assert.Equal(t, "Propagation Speed: 0.0x", RateNotification(0).Text)
	assert.Equal(t, "Propagation Speed: -2.5x", RateNotification(-2.5).Text)
	assert.Equal(t, "Propagation Speed: 1000.0x", RateNotification(1000).Text)
	assert.Equal(t, "Propagation Speed: -3600.0x", RateNotification(-3600).Text)
}
