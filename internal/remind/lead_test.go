package remind

import (
	"testing"
	"time"
)

func TestFireTime(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	got := FireTime(anchor, 30)
	if want := anchor.Add(-30 * time.Minute); !got.Equal(want) {
		t.Fatalf("FireTime = %v, want %v", got, want)
	}

	// No clamping: a huge lead lands in the past.
	got = FireTime(anchor, 7*24*60)
	if !got.Before(anchor.Add(-6 * 24 * time.Hour)) {
		t.Fatalf("expected fire time a week early, got %v", got)
	}
}

func TestFormatLead(t *testing.T) {
	t.Parallel()
	tests := []struct {
		minutes int
		want    string
	}{
		{45, "45 minutes"},
		{90, "1 hour"},
		{120, "2 hours"},
		{1500, "1 day"},
		{2880, "2 days"},
		{1, "1 minutes"},
		{59, "59 minutes"},
		{60, "1 hour"},
		{1440, "1 day"},
	}
	for _, tt := range tests {
		if got := FormatLead(tt.minutes); got != tt.want {
			t.Errorf("FormatLead(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}
