// Package scheduler runs the housekeeping jobs (cron or fixed interval) in
// a configurable timezone.
//
// Jobs run on cron's goroutines; a job still running when its next trigger
// fires is skipped, and every run is bounded by its timeout.
package scheduler
