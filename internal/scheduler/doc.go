// Package scheduler is the engine core: it decides which email a lead gets
// next, finds the first slot that respects business hours and the global
// rate limit, and creates the job. Every mutating entry point serializes on
// the per-lead distributed lock and finishes by running the status resolver,
// so concurrent workers converge on the same observable lead state.
package scheduler
