// Package task runs periodic background jobs on cron schedules. Jobs run
// with panic recovery and never overlap with their own previous run.
package task
