package schedule

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"every five minutes", "*/5 * * * *", false},
		{"daily at midnight", "0 0 * * *", false},
		{"weekday mornings", "30 8 * * 1-5", false},
		{"named month", "0 0 1 jan *", false},
		{"empty", "", true},
		{"free text", "not a cron", true},
		{"minute out of range", "60 * * * *", true},
		{"hour out of range", "0 25 * * *", true},
		{"too few fields", "* * * *", true},
		{"seconds field rejected", "0 * * * * *", true},
		{"descriptor rejected", "@daily", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil {
				var invalid *InvalidScheduleError
				if !errors.As(err, &invalid) {
					t.Fatalf("error should be *InvalidScheduleError, got %T", err)
				}
				if invalid.Expression != tt.expr {
					t.Errorf("Expression = %q, want %q", invalid.Expression, tt.expr)
				}
			}
		})
	}
}

func TestInvalidScheduleError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("bad field")
	err := &InvalidScheduleError{Expression: "x", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("InvalidScheduleError should unwrap to the parser error")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	job := testJob(1, "alice", "*/10 * * * *", "drink water")
	got := Render(job)

	want := "⏰ Periodic Reminder\n\ndrink water\n\n🕐 */10 * * * *"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
	if !strings.Contains(got, job.Payload) {
		t.Error("rendered message should carry the payload")
	}
	if !strings.Contains(got, job.Schedule) {
		t.Error("rendered message should echo the cron expression")
	}
}
