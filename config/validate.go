package config

import (
	"fmt"
	"strings"

	"vaultix/crypto"
	"vaultix/native/escrow"
)

// Validate checks that the configuration can boot the daemon.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := crypto.ParseIdentity(c.Admin); err != nil {
		return fmt.Errorf("config: Admin: %w", err)
	}
	if _, err := crypto.ParseIdentity(c.Treasury); err != nil {
		return fmt.Errorf("config: Treasury: %w", err)
	}
	if c.FeeBps > escrow.MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds %d", c.FeeBps, escrow.MaxFeeBps)
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("config: at least one token required")
	}
	for _, token := range c.Tokens {
		if _, err := escrow.NormalizeToken(token); err != nil {
			return fmt.Errorf("config: token %q: %w", token, err)
		}
	}
	if strings.TrimSpace(c.VaultAddress) != "" {
		if _, err := crypto.ParseIdentity(c.VaultAddress); err != nil {
			return fmt.Errorf("config: VaultAddress: %w", err)
		}
	}
	if vault := c.VaultIdentity(); vault == c.AdminIdentity() || vault == c.TreasuryIdentity() {
		return fmt.Errorf("config: VaultAddress must differ from Admin and Treasury")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	return nil
}

// AdminIdentity returns the decoded admin address.
func (c *Config) AdminIdentity() [20]byte { return crypto.MustParseIdentity(c.Admin) }

// TreasuryIdentity returns the decoded treasury address.
func (c *Config) TreasuryIdentity() [20]byte { return crypto.MustParseIdentity(c.Treasury) }

// VaultIdentity returns the configured vault address, falling back to the
// deterministic default custody address.
func (c *Config) VaultIdentity() [20]byte {
	if strings.TrimSpace(c.VaultAddress) == "" {
		return escrow.DefaultVaultAddress()
	}
	return crypto.MustParseIdentity(c.VaultAddress)
}
