package timers

import "errors"

var (
	ErrUnknownLabel  = errors.New("unknown timer label")
	ErrAlreadyActive = errors.New("timer already running")
	ErrNotActive     = errors.New("timer not running")
)
