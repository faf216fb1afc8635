package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	pauses := PauseSet{ActionWithdraw: true}

	if err := Guard(pauses, ActionDeposit); err != nil {
		t.Fatalf("unexpected error for deposit: %v", err)
	}
	if err := Guard(pauses, ActionWithdraw); !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}
	if err := Guard(nil, ActionWithdraw); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	var empty PauseSet
	if empty.IsPaused(ActionSweep) {
		t.Fatalf("nil set reported paused")
	}
}
