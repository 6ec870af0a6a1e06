package rate

import "errors"

var (
	// ErrRateLimited is returned when the window budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable is returned when the counter store cannot be reached.
	ErrUnavailable = errors.New("rate limiter unavailable")
)
