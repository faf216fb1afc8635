package config

import nativecommon "autorepay/native/common"

// Pauses holds the per-action circuit breakers.
type Pauses struct {
	Deposit  bool `toml:"Deposit"`
	Withdraw bool `toml:"Withdraw"`
	Sweep    bool `toml:"Sweep"`
}

// IsPaused satisfies native/common.PauseView.
func (p Pauses) IsPaused(action string) bool {
	switch action {
	case nativecommon.ActionDeposit:
		return p.Deposit
	case nativecommon.ActionWithdraw:
		return p.Withdraw
	case nativecommon.ActionSweep:
		return p.Sweep
	default:
		return false
	}
}

// Wiring names the collaborator addresses the protocol is bound to. Paper
// deployments derive defaults for any left empty.
type Wiring struct {
	Asset   string `toml:"Asset"`
	Vault   string `toml:"Vault"`
	Market  string `toml:"Market"`
	FeeSink string `toml:"FeeSink"`
}
