package schedule

import (
	"errors"
	"testing"
)

func FuzzValidate(f *testing.F) {
	f.Add("*/5 * * * *")
	f.Add("0 0 * * *")
	f.Add("0 0 1 1 *")
	f.Add("* * * * *")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")
	f.Add("0 25 * * *")
	f.Add("@daily")

	f.Fuzz(func(t *testing.T, expr string) {
		// Must not panic, and every failure must be an *InvalidScheduleError.
		err := Validate(expr)
		if err == nil {
			return
		}
		var invalid *InvalidScheduleError
		if !errors.As(err, &invalid) {
			t.Fatalf("Validate(%q) returned %T, want *InvalidScheduleError", expr, err)
		}
	})
}
