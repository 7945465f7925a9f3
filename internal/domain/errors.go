package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrNoFairPrice       = errors.New("no venue has a live book")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrMarketUnavailable = errors.New("market not listed on venue")
	ErrInvalidOrder      = errors.New("invalid order parameters")
)
