// Package postgres holds the SQL-backed stores for leads, jobs, schedules,
// settings, conditional rules, and notifications. All scheduling reads and
// writes go through these stores; callers compose them inside the per-lead
// lock, so multi-row reconciliation does not need cross-store transactions.
package postgres
