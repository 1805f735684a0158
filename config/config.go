package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vaultix/crypto"
	"vaultix/native/escrow"

	"github.com/BurntSushi/toml"
)

const (
	// RPCTokenEnv names the environment variable holding the bearer token
	// required by mutating RPC calls.
	RPCTokenEnv = "VAULTIX_RPC_TOKEN"
	// KeystorePassphraseEnv names the environment variable used to encrypt
	// the admin keystore generated alongside a default config.
	KeystorePassphraseEnv = "VAULTIX_KEYSTORE_PASSPHRASE"
)

type Config struct {
	RPCAddress        string    `toml:"RPCAddress"`
	DataDir           string    `toml:"DataDir"`
	EventDBPath       string    `toml:"EventDBPath"`
	Environment       string    `toml:"Environment"`
	LogFile           string    `toml:"LogFile"`
	LogLevel          string    `toml:"LogLevel"`
	AdminKeystorePath string    `toml:"AdminKeystorePath"`
	Admin             string    `toml:"Admin"`
	Treasury          string    `toml:"Treasury"`
	FeeBps            uint32    `toml:"FeeBps"`
	Tokens            []string  `toml:"Tokens"`
	VaultAddress      string    `toml:"VaultAddress,omitempty"`
	AllowDevMint      bool      `toml:"AllowDevMint"`
	RateLimit         RateLimit `toml:"rate_limit"`
	Telemetry         Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// (and a fresh admin keystore) when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8547"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./vaultix-data"
	}
	if strings.TrimSpace(c.EventDBPath) == "" {
		c.EventDBPath = filepath.Join(c.DataDir, "events.db")
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if len(c.Tokens) == 0 {
		c.Tokens = []string{"USDC"}
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	admin, err := crypto.WriteIdentity(keystorePath, key, os.Getenv(KeystorePassphraseEnv))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AdminKeystorePath: keystorePath,
		Admin:             admin.String(),
		Treasury:          admin.String(),
		FeeBps:            escrow.DefaultFeeBps,
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "admin.keystore")
}
