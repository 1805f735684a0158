package escrow

import (
	"math/big"

	"vaultix/native/common"
)

const (
	// ModuleName identifies the escrow module to pause guards and metrics.
	ModuleName = "escrow"

	BasisPoints   = 10_000
	MaxFeeBps     = 1_000
	DefaultFeeBps = 50
)

// Config is the contract-wide configuration written once by Initialize.
type Config struct {
	Admin    [20]byte
	Treasury [20]byte
	FeeBps   uint32
	Paused   bool
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// IsPaused implements common.PauseView.
func (c *Config) IsPaused(module string) bool {
	return c != nil && c.Paused && module == ModuleName
}

var _ common.PauseView = (*Config)(nil)

// ComputeFee returns floor(amount * bps / 10000). Negative or nil amounts
// yield zero.
func ComputeFee(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Quo(fee, big.NewInt(BasisPoints))
}

func validateFeeBps(bps uint32) error {
	if bps > MaxFeeBps {
		return ErrInvalidFeeBps
	}
	return nil
}
