package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	MaxFeeBps             = uint32(1_000)
	MinCollateralRatioPct = uint32(100)
)

func ValidateConfig(c Config) error {
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("params: fee_bps %d exceeds %d", c.FeeBps, MaxFeeBps)
	}
	if c.CollateralRatioPct < MinCollateralRatioPct {
		return fmt.Errorf("params: collateral_ratio_pct below %d", MinCollateralRatioPct)
	}
	if c.UpdateIntervalSeconds == 0 {
		return fmt.Errorf("params: update_interval_seconds must be positive")
	}
	for name, raw := range map[string]string{
		"asset":    c.Wiring.Asset,
		"vault":    c.Wiring.Vault,
		"fee_sink": c.Wiring.FeeSink,
		"market":   c.Wiring.Market,
	} {
		if raw != "" && !common.IsHexAddress(raw) {
			return fmt.Errorf("params: wiring.%s is not a hex address", name)
		}
	}
	return nil
}
