package game

import "errors"

// Validation and settlement errors surfaced to callers. Handlers map these to
// HTTP responses; everything else is an internal failure.
var (
	ErrInvalidAmount       = errors.New("bet amount outside allowed bounds")
	ErrInvalidAutoCashout  = errors.New("auto cashout must be greater than 1.00")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBettingClosed       = errors.New("betting is closed for this round")
	ErrRoundNotFlying      = errors.New("round is not flying")
	ErrBetNotFound         = errors.New("bet not found")
	ErrAlreadySettled      = errors.New("bet already settled")
	ErrEngineBusy          = errors.New("engine request queue full")
)
