package lead

import "errors"

// Sentinel errors for the lead service layer.
var (
	ErrNotFound      = errors.New("lead not found")
	ErrDuplicate     = errors.New("lead with this email already exists")
	ErrTerminal      = errors.New("lead is in a terminal state")
	ErrNotDead       = errors.New("only dead leads can be resurrected")
	ErrInvalidInput  = errors.New("invalid lead input")
	ErrInvalidFreeze = errors.New("freeze-until must be in the future")
)
