package service

import "errors"

// Expected outcomes of the session lifecycle. They are returned to callers,
// never treated as internal failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrDenied           = errors.New("no access to this assessment")
	ErrAlreadyCompleted = errors.New("assessment already completed")
	ErrInvalidToken     = errors.New("invalid session token")
	ErrInvalidAnswers   = errors.New("invalid answers")
)
