// Package scheduler registers cron, interval, daily and one-shot triggers on
// top of robfig/cron and runs their jobs in-process.
//
// Jobs that share a *Slot never overlap: a trigger that fires while another
// job holds the slot is skipped, not queued.
package scheduler
