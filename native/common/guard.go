package common

import "errors"

var ErrActionPaused = errors.New("action paused")

// Pausable actions checked by Guard.
const (
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
	ActionSweep    = "sweep"
)

type PauseView interface {
	IsPaused(action string) bool
}

func Guard(p PauseView, action string) error {
	if p == nil || action == "" {
		return nil
	}
	if p.IsPaused(action) {
		return ErrActionPaused
	}
	return nil
}

// PauseSet is a static PauseView keyed by action name.
type PauseSet map[string]bool

func (s PauseSet) IsPaused(action string) bool {
	if s == nil {
		return false
	}
	return s[action]
}
