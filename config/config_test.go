package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultix/crypto"
	"vaultix/native/escrow"
)

func testIdentity(b byte) string {
	var raw [20]byte
	raw[0] = b
	raw[19] = b
	return crypto.FromRaw(raw).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultix.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(dir, "admin.keystore"))
	require.Equal(t, cfg.Admin, cfg.Treasury)
	require.EqualValues(t, escrow.DefaultFeeBps, cfg.FeeBps)
	require.Equal(t, []string{"USDC"}, cfg.Tokens)
	require.NoError(t, cfg.Validate())

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Admin, again.Admin)
	require.Equal(t, cfg.AdminIdentity(), again.AdminIdentity())
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultix.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/vaultix"
Environment = "staging"
LogFile = "/var/log/vaultixd.log"
LogLevel = "debug"
Admin = "` + testIdentity(0x01) + `"
Treasury = "` + testIdentity(0x02) + `"
FeeBps = 125
Tokens = ["usdc", "EURC"]
VaultAddress = "` + testIdentity(0x03) + `"

[rate_limit]
RequestsPerMinute = 120
Burst = 5

[telemetry]
Endpoint = "collector:4318"
Insecure = true
Traces = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, filepath.Join("/var/lib/vaultix", "events.db"), cfg.EventDBPath)
	require.Equal(t, "staging", cfg.Environment)
	require.EqualValues(t, 125, cfg.FeeBps)
	require.Equal(t, []string{"usdc", "EURC"}, cfg.Tokens)
	require.Equal(t, 120.0, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.True(t, cfg.Telemetry.Traces)
	require.False(t, cfg.Telemetry.Metrics)
	require.Equal(t, crypto.MustParseIdentity(testIdentity(0x03)), cfg.VaultIdentity())
	require.Equal(t, crypto.MustParseIdentity(testIdentity(0x02)), cfg.TreasuryIdentity())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultix.toml")
	contents := `Admin = "` + testIdentity(0x01) + `"
Treasury = "` + testIdentity(0x02) + `"
GenesisFile = "genesis.json"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "GenesisFile")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Admin: testIdentity(0x01), Treasury: testIdentity(0x02), FeeBps: 50}
		cfg.applyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())
	require.Equal(t, escrow.DefaultVaultAddress(), valid().VaultIdentity())

	cases := map[string]func(*Config){
		"missing admin":    func(c *Config) { c.Admin = "" },
		"bad treasury":     func(c *Config) { c.Treasury = "vtx1notanaddress" },
		"fee too high":     func(c *Config) { c.FeeBps = escrow.MaxFeeBps + 1 },
		"bad token":        func(c *Config) { c.Tokens = []string{"US-DC"} },
		"bad vault":        func(c *Config) { c.VaultAddress = "nope" },
		"vault is admin":   func(c *Config) { c.VaultAddress = c.Admin },
		"vault treasury":   func(c *Config) { c.VaultAddress = c.Treasury },
		"negative limit":   func(c *Config) { c.RateLimit.Burst = -1 },
		"empty rpc listen": func(c *Config) { c.RPCAddress = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
