package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"vaultix/crypto"
)

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) runKeygen(args []string) int {
	fs := c.newFlagSet("keygen")
	out := fs.String("out", "", "path of the keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return c.fail("--out is required")
	}
	if _, err := os.Stat(*out); err == nil {
		return c.fail(fmt.Sprintf("%s already exists", *out))
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err.Error())
	}
	addr, err := crypto.WriteIdentity(*out, key, os.Getenv(passphraseEnv))
	if err != nil {
		return c.fail(err.Error())
	}
	fmt.Fprintln(c.stdout, addr.String())
	return 0
}

func (c *cli) runAddress(args []string) int {
	fs := c.newFlagSet("address")
	keystore := fs.String("keystore", "", "path of the keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := keystoreAddress(*keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	fmt.Fprintln(c.stdout, addr)
	return 0
}

func keystoreAddress(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("--keystore is required")
	}
	key, err := crypto.ReadIdentity(path, os.Getenv(passphraseEnv))
	if err != nil {
		return "", fmt.Errorf("read keystore %s: %w", path, err)
	}
	return key.PubKey().Address().String(), nil
}

// resolveIdentity returns addr when set, otherwise the identity held in
// keystore.
func resolveIdentity(flagName, addr, keystore string) (string, error) {
	if trimmed := strings.TrimSpace(addr); trimmed != "" {
		if _, err := crypto.ParseIdentity(trimmed); err != nil {
			return "", fmt.Errorf("--%s: %w", flagName, err)
		}
		return trimmed, nil
	}
	if strings.TrimSpace(keystore) != "" {
		return keystoreAddress(keystore)
	}
	return "", fmt.Errorf("--%s or --keystore is required", flagName)
}
