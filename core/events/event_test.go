package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestDepositRecordAttributes(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	rec := ToRecord(Deposit{
		Account:   account,
		Gross:     big.NewInt(100),
		Fee:       big.NewInt(3),
		Amount:    big.NewInt(97),
		Timestamp: 42,
	})
	if rec.Type != TypeDeposit {
		t.Fatalf("unexpected type %q", rec.Type)
	}
	if rec.Attributes["account"] != account.Hex() {
		t.Fatalf("unexpected account %q", rec.Attributes["account"])
	}
	if rec.Attributes["amount"] != "97" || rec.Attributes["fee"] != "3" {
		t.Fatalf("unexpected amounts: %v", rec.Attributes)
	}
	if _, ok := rec.Attributes["debt"]; ok {
		t.Fatalf("nil amounts must be omitted")
	}
	if rec.Attributes["timestamp"] != "42" {
		t.Fatalf("unexpected timestamp %q", rec.Attributes["timestamp"])
	}
}

func TestToRecordFallsBackToType(t *testing.T) {
	rec := ToRecord(bareEvent{})
	if rec.Type != "bare" || len(rec.Attributes) != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if ToRecord(nil) != nil {
		t.Fatalf("expected nil record for nil event")
	}
}

func TestMultiFansOut(t *testing.T) {
	var first, second Recorder
	var count int
	multi := Multi{&first, nil, &second, EmitterFunc(func(Event) { count++ })}
	multi.Emit(Sweep{Accounts: 2})
	multi.Emit(FeeRouted{Amount: big.NewInt(1)})

	if len(first.Events()) != 2 || len(second.Events()) != 2 || count != 2 {
		t.Fatalf("unexpected fan-out: %d %d %d", len(first.Events()), len(second.Events()), count)
	}
	if got := first.OfType(TypeSweep); len(got) != 1 {
		t.Fatalf("expected one sweep event, got %d", len(got))
	}
}
