package domain

import "errors"

var (
	ErrAlreadyActive      = errors.New("ladder already active")
	ErrNotActive          = errors.New("ladder not active")
	ErrLadderNotFound     = errors.New("ladder not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrNoPrice            = errors.New("no recent price for instrument")
	ErrLadderBusy         = errors.New("ladder busy: another pass holds the lock")
	ErrOrderRejected      = errors.New("order rejected by gateway")
)
