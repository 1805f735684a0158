package main

import (
	"fmt"
	"math/big"
	"strings"
)

func parseBigAmount(value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

func (c *cli) runToken(args []string) int {
	if len(args) == 0 {
		return c.fail("token subcommand required: balance, approve or mint")
	}
	switch args[0] {
	case "balance":
		return c.runTokenBalance(args[1:])
	case "approve":
		return c.runTokenApprove(args[1:])
	case "mint":
		return c.runTokenMint(args[1:])
	default:
		return c.fail(fmt.Sprintf("unknown token subcommand: %s", args[0]))
	}
}

func (c *cli) runTokenBalance(args []string) int {
	fs := c.newFlagSet("token balance")
	token := fs.String("token", "", "token symbol")
	address := fs.String("address", "", "holder bech32 address")
	keystore := fs.String("keystore", "", "keystore holding the holder identity")
	spender := fs.String("spender", "", "also report the allowance granted to this spender")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *token == "" {
		return c.fail("--token is required")
	}
	holder, err := resolveIdentity("address", *address, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	params := map[string]any{"token": *token, "address": holder}
	if *spender != "" {
		params["spender"] = *spender
	}
	return c.invoke("token_balance", params, false)
}

func (c *cli) runTokenApprove(args []string) int {
	fs := c.newFlagSet("token approve")
	token := fs.String("token", "", "token symbol")
	owner := fs.String("owner", "", "owner bech32 address")
	keystore := fs.String("keystore", "", "keystore holding the owner identity")
	spender := fs.String("spender", "", "spender bech32 address (default: escrow vault)")
	amount := fs.String("amount", "", "allowance; 0 revokes")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *token == "" || *amount == "" {
		return c.fail("--token and --amount are required")
	}
	if _, ok := parseBigAmount(*amount); !ok {
		return c.fail("--amount must be a non-negative integer")
	}
	who, err := resolveIdentity("owner", *owner, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	params := map[string]any{"token": *token, "owner": who, "amount": *amount}
	if *spender != "" {
		params["spender"] = *spender
	}
	return c.invoke("token_approve", params, true)
}

func (c *cli) runTokenMint(args []string) int {
	fs := c.newFlagSet("token mint")
	token := fs.String("token", "", "token symbol")
	to := fs.String("to", "", "recipient bech32 address")
	amount := fs.String("amount", "", "amount to mint")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *token == "" || *to == "" || *amount == "" {
		return c.fail("--token, --to and --amount are required")
	}
	if v, ok := parseBigAmount(*amount); !ok || v.Sign() == 0 {
		return c.fail("--amount must be a positive integer")
	}
	return c.invoke("token_mint", map[string]any{"token": *token, "to": *to, "amount": *amount}, true)
}
