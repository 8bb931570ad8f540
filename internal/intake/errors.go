package intake

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrMaxAttemptsExceeded = errors.New("maximum upload attempts exceeded")
	ErrDuplicateContent    = errors.New("document content already uploaded")
)
