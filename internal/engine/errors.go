package engine

import "errors"

// ErrValidation marks a malformed test definition, rejected before any state
// is created.
var ErrValidation = errors.New("invalid test definition")

// ErrIllegalTransition marks a status change the state machine does not
// allow, such as re-activating a completed test.
var ErrIllegalTransition = errors.New("illegal status transition")
