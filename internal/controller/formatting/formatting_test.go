package formatting

import (
	"testing"

	"github.com/Freeeeeet/notary_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestEveryStatusHasDisplay(t *testing.T) {
	for _, st := range model.AllBookingStatuses {
		assert.NotEqual(t, "Unknown", GetBookingStatusDisplay(st).Text, st)
	}
	assert.Equal(t, "Unknown", GetBookingStatusDisplay("bogus").Text)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{30, "30 min"},
		{60, "1 h"},
		{90, "1 h 30 min"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.minutes))
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$50", FormatCents(5000))
	assert.Equal(t, "$12.50", FormatCents(1250))
}
