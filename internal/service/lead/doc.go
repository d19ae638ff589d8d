// Package lead implements lead lifecycle management.
//
// The service layer contains the business logic for importing leads and for
// user-facing lifecycle actions: freeze, unfreeze, convert, resurrect, and
// skip configuration. It depends on repository interfaces defined in this
// package and never reaches into HTTP handlers or workers.
//
// Repository implementations live in repository/postgres/.
package lead
