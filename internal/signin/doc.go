// Package signin runs the daily check-in batch: it picks the sites still due
// today, attempts them on a bounded pool, classifies the replies, records the
// day's progress and posts a summary.
//
// Service owns configuration and triggers. Orchestrator is the run body and
// can be driven directly.
package signin
