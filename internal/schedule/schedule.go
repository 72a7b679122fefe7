// Package schedule runs cron-driven reminder jobs.
//
// The Engine wraps a cron runner and a Registry of live jobs. Jobs are
// validated before they are accepted, loaded from a store when the engine
// starts, and delivered through a single replaceable callback when they
// fire. A failing callback is logged and counted but never unschedules
// the job that triggered it.
package schedule

import (
	cron "github.com/robfig/cron/v3"
)

// parser accepts standard five-field cron expressions (minute, hour,
// day-of-month, month, day-of-week). Seconds fields and descriptors
// such as @daily are rejected.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks expr against the five-field cron format. It returns an
// *InvalidScheduleError describing the failure, or nil when expr is valid.
// Callers should validate before persisting a job so malformed expressions
// never reach the store.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return &InvalidScheduleError{Expression: expr, Err: err}
	}
	return nil
}
