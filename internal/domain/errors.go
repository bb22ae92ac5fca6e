package domain

import "errors"

var (
	// ErrNotFound reports a lookup for a symbol that is not tracked.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports an attempt to track a symbol twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrWouldTrigger reports a stop order the exchange refused
	// because the market is already past its trigger price.
	ErrWouldTrigger = errors.New("order would immediately trigger")

	// ErrNoExecution reports an entry order that was accepted but
	// never executed any quantity.
	ErrNoExecution = errors.New("order not executed")

	// ErrBracketIncomplete reports a bracket placement that could not
	// arm all protective orders.
	ErrBracketIncomplete = errors.New("bracket incomplete")

	// ErrRiskRejected reports a trade refused by the risk gate.
	ErrRiskRejected = errors.New("rejected by risk checks")

	// ErrRateLimited reports a request refused by the local limiter.
	ErrRateLimited = errors.New("rate limited")
)
