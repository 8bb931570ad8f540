package registration

import "errors"

var (
	ErrInvalidTransition = errors.New("transition not allowed from current stage")
	ErrFlowInProgress    = errors.New("a request is already in progress")
)
