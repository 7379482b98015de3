package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("invalid input")
	ErrNotAMember      = errors.New("user is not a member of this suggestion")
	ErrAlreadyTerminal = errors.New("suggestion is in a terminal state")
	ErrInvalidSplit    = errors.New("traffic split must sum to 100")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrDependency      = errors.New("dependency unavailable")
)
