// Package worker hosts the long-running processes around the scheduling
// engine: the due-job claimer, the send worker pool at the SES boundary,
// the cron sweeps (paused dates, frozen leads), and the provider backfill
// poller. Every worker registers in the workers table and heartbeats while
// running.
package worker
