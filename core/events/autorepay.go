package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeDeposit marks collateral credited to an account.
	TypeDeposit = "autorepay.deposit"
	// TypeWithdraw marks collateral released to an account.
	TypeWithdraw = "autorepay.withdraw"
	// TypeYieldApplied marks debt reduced by accrued yield.
	TypeYieldApplied = "autorepay.yield_applied"
	// TypeSweep marks a completed batch accrual.
	TypeSweep = "autorepay.sweep"
	// TypeFeeRouted marks skimmed fees delivered to the fee sink.
	TypeFeeRouted = "autorepay.fee_routed"
)

// Deposit records a successful deposit. Amount is the net collateral credited.
type Deposit struct {
	Account    common.Address
	Gross      *big.Int
	Fee        *big.Int
	Amount     *big.Int
	Collateral *big.Int
	Debt       *big.Int
	Price      *big.Int
	Timestamp  uint64
}

func (Deposit) EventType() string { return TypeDeposit }

func (e Deposit) Record() *Record {
	attrs := map[string]string{"account": e.Account.Hex()}
	putAmount(attrs, "gross", e.Gross)
	putAmount(attrs, "fee", e.Fee)
	putAmount(attrs, "amount", e.Amount)
	putAmount(attrs, "collateral", e.Collateral)
	putAmount(attrs, "debt", e.Debt)
	putAmount(attrs, "price", e.Price)
	putTimestamp(attrs, e.Timestamp)
	return &Record{Type: TypeDeposit, Attributes: attrs}
}

// Withdraw records a successful withdrawal. Requested is deducted from the
// ledger; Received is what the yield market actually returned.
type Withdraw struct {
	Account    common.Address
	Requested  *big.Int
	Received   *big.Int
	Collateral *big.Int
	Timestamp  uint64
}

func (Withdraw) EventType() string { return TypeWithdraw }

func (e Withdraw) Record() *Record {
	attrs := map[string]string{"account": e.Account.Hex()}
	putAmount(attrs, "requested", e.Requested)
	putAmount(attrs, "received", e.Received)
	putAmount(attrs, "collateral", e.Collateral)
	putTimestamp(attrs, e.Timestamp)
	return &Record{Type: TypeWithdraw, Attributes: attrs}
}

// YieldApplied records a non-zero debt reduction for one account.
type YieldApplied struct {
	Account   common.Address
	Applied   *big.Int
	Remaining *big.Int
	Source    string
	Timestamp uint64
}

func (YieldApplied) EventType() string { return TypeYieldApplied }

func (e YieldApplied) Record() *Record {
	attrs := map[string]string{"account": e.Account.Hex()}
	putAmount(attrs, "applied", e.Applied)
	putAmount(attrs, "remaining", e.Remaining)
	if e.Source != "" {
		attrs["source"] = e.Source
	}
	putTimestamp(attrs, e.Timestamp)
	return &Record{Type: TypeYieldApplied, Attributes: attrs}
}

// Sweep records a committed batch accrual.
type Sweep struct {
	RunID         string
	Accounts      int
	TotalApplied  *big.Int
	PooledBalance *big.Int
	Price         *big.Int
	Timestamp     uint64
}

func (Sweep) EventType() string { return TypeSweep }

func (e Sweep) Record() *Record {
	attrs := map[string]string{
		"accounts": strconv.Itoa(e.Accounts),
	}
	if e.RunID != "" {
		attrs["runId"] = e.RunID
	}
	putAmount(attrs, "totalApplied", e.TotalApplied)
	putAmount(attrs, "pooledBalance", e.PooledBalance)
	putAmount(attrs, "price", e.Price)
	putTimestamp(attrs, e.Timestamp)
	return &Record{Type: TypeSweep, Attributes: attrs}
}

// FeeRouted records fees handed to the fee sink.
type FeeRouted struct {
	Amount    *big.Int
	Pending   *big.Int
	Timestamp uint64
}

func (FeeRouted) EventType() string { return TypeFeeRouted }

func (e FeeRouted) Record() *Record {
	attrs := map[string]string{}
	putAmount(attrs, "amount", e.Amount)
	putAmount(attrs, "pending", e.Pending)
	putTimestamp(attrs, e.Timestamp)
	return &Record{Type: TypeFeeRouted, Attributes: attrs}
}

func putAmount(attrs map[string]string, key string, v *big.Int) {
	if v != nil {
		attrs[key] = v.String()
	}
}

func putTimestamp(attrs map[string]string, ts uint64) {
	if ts > 0 {
		attrs["timestamp"] = strconv.FormatUint(ts, 10)
	}
}
