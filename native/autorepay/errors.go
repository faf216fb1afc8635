package autorepay

import "errors"

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("autorepay: amount must be positive")
	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// account's collateral.
	ErrInsufficientCollateral = errors.New("autorepay: insufficient collateral")
	// ErrDebtNotFullyRepaid blocks withdrawals while debt remains.
	ErrDebtNotFullyRepaid = errors.New("autorepay: debt not fully repaid")
	// ErrOracleUnavailable covers read failures and invalid quotes.
	ErrOracleUnavailable = errors.New("autorepay: price oracle unavailable")
	// ErrExternalMarketFailure wraps custody, market and fee sink failures.
	ErrExternalMarketFailure = errors.New("autorepay: external market failure")
	// ErrArithmeticOverflow is returned when a value leaves the 256-bit range.
	ErrArithmeticOverflow = errors.New("autorepay: arithmetic overflow")
	// ErrCompensationFailed is joined with the original cause when a rollback
	// step itself fails.
	ErrCompensationFailed = errors.New("autorepay: compensation failed")
	// ErrNotConfigured is returned for missing collaborators.
	ErrNotConfigured = errors.New("autorepay: engine not configured")

	errTxClosed       = errors.New("autorepay: ledger transaction already closed")
	errNegativeValue  = errors.New("autorepay: negative value")
	errDivisionByZero = errors.New("autorepay: division by zero")
)
