package schedule

import "fmt"

// InvalidScheduleError reports a cron expression that failed validation.
// The expression is echoed back so API callers can see exactly what was
// rejected.
type InvalidScheduleError struct {
	Expression string
	Err        error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("schedule: invalid cron expression %q: %v", e.Expression, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }
