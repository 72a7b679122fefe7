package notify_test

import (
	"errors"
	"testing"
	"time"

	"github.com/flemzord/chime/internal/notify"
)

func TestParseQuietHours(t *testing.T) {
	t.Parallel()

	q, err := notify.ParseQuietHours("23:00-07:00")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Start != 23*time.Hour {
		t.Errorf("Start = %v, want 23h", q.Start)
	}
	if q.End != 7*time.Hour {
		t.Errorf("End = %v, want 7h", q.End)
	}
}

func TestParseQuietHours_Invalid(t *testing.T) {
	t.Parallel()

	tests := []string{
		"nope",
		"23:00",
		"25:00-01:00",
		"23:00-24:30",
		"23:60-01:00",
		"aa:bb-cc:dd",
		"",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			_, err := notify.ParseQuietHours(s)
			if !errors.Is(err, notify.ErrInvalidQuiet) {
				t.Errorf("ParseQuietHours(%q) error = %v, want ErrInvalidQuiet", s, err)
			}
		})
	}
}

func TestQuietHours_IsQuiet(t *testing.T) {
	t.Parallel()

	at := func(h, m int) time.Time {
		return time.Date(2025, 6, 1, h, m, 0, 0, time.UTC)
	}

	normal, _ := notify.ParseQuietHours("02:00-06:00")
	wrap, _ := notify.ParseQuietHours("23:00-07:00")

	tests := []struct {
		name  string
		q     notify.QuietHours
		t     time.Time
		quiet bool
	}{
		{"inside normal range", normal, at(3, 0), true},
		{"before normal range", normal, at(1, 59), false},
		{"start is inclusive", normal, at(2, 0), true},
		{"end is exclusive", normal, at(6, 0), false},
		{"wrap late evening", wrap, at(23, 30), true},
		{"wrap early morning", wrap, at(3, 0), true},
		{"wrap midday", wrap, at(12, 0), false},
		{"wrap end exclusive", wrap, at(7, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.q.IsQuiet(tt.t); got != tt.quiet {
				t.Errorf("IsQuiet(%v) = %v, want %v", tt.t, got, tt.quiet)
			}
		})
	}
}
