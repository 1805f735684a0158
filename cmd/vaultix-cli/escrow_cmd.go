package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var escrowNow = time.Now

// milestoneFlags collects repeated --milestone AMOUNT[:DESCRIPTION] values.
type milestoneFlags []map[string]string

func (m *milestoneFlags) String() string { return fmt.Sprintf("%d milestones", len(*m)) }

func (m *milestoneFlags) Set(value string) error {
	amount, description, _ := strings.Cut(value, ":")
	amount = strings.TrimSpace(amount)
	if _, ok := parseBigAmount(amount); !ok {
		return fmt.Errorf("invalid milestone amount %q", amount)
	}
	entry := map[string]string{"amount": amount}
	if d := strings.TrimSpace(description); d != "" {
		entry["description"] = d
	}
	*m = append(*m, entry)
	return nil
}

func (c *cli) runEscrow(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "init":
		return c.runEscrowInit(args[1:])
	case "pause":
		return c.runEscrowPause(args[1:])
	case "fee":
		return c.runEscrowFee(args[1:])
	case "create":
		return c.runEscrowCreate(args[1:])
	case "deposit":
		return c.runEscrowByID("escrow_deposit", args[1:])
	case "complete":
		return c.runEscrowByID("escrow_complete", args[1:])
	case "release":
		return c.runEscrowMilestone("escrow_release", false, args[1:])
	case "confirm":
		return c.runEscrowMilestone("escrow_confirmDelivery", true, args[1:])
	case "cancel":
		return c.runEscrowCancel(args[1:])
	case "dispute":
		return c.runEscrowActor("escrow_raiseDispute", args[1:])
	case "refund":
		return c.runEscrowActor("escrow_refundExpired", args[1:])
	case "resolve":
		return c.runEscrowResolve(args[1:])
	case "get":
		return c.runEscrowGet(args[1:])
	case "list":
		return c.invoke("escrow_list", nil, false)
	case "config":
		return c.invoke("escrow_config", nil, false)
	case "audit":
		return c.runEscrowAudit(args[1:])
	case "events":
		return c.runEscrowEvents(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(c.stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return strings.TrimSpace(`
Usage: vaultix-cli escrow <subcommand> [flags]

Subcommands:
  init     --admin ADDR --treasury ADDR [--fee-bps N]
  pause    --caller ADDR|--keystore FILE [--resume]
  fee      --caller ADDR|--keystore FILE --bps N
  create   --id N --depositor ADDR --recipient ADDR --token SYM --deadline WHEN --milestone AMOUNT[:DESC]...
  deposit  --id N
  release  --id N --index I
  confirm  --id N --index I --caller ADDR|--keystore FILE
  complete --id N
  cancel   --id N [--caller ADDR|--keystore FILE]
  dispute  --id N --caller ADDR|--keystore FILE
  resolve  --id N --caller ADDR|--keystore FILE --resolution depositor|recipient
  refund   --id N --caller ADDR|--keystore FILE
  get      --id N
  list
  config
  audit    [--ids 1,2,3 | --from N --to M]
  events   [--id N] [--type TYPE] [--after SEQ] [--limit N]

WHEN is a unix timestamp, an RFC3339 time or +duration (e.g. +72h).`)
}

func (c *cli) parseFlags(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func identityFlags(fs *flag.FlagSet) (caller, keystore *string) {
	caller = fs.String("caller", "", "caller bech32 address")
	keystore = fs.String("keystore", "", "keystore holding the caller identity")
	return caller, keystore
}

func (c *cli) runEscrowInit(args []string) int {
	fs := c.newFlagSet("escrow init")
	admin := fs.String("admin", "", "admin bech32 address")
	treasury := fs.String("treasury", "", "treasury bech32 address")
	feeBps := fs.Int("fee-bps", -1, "fee in basis points (default: contract default)")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *admin == "" || *treasury == "" {
		return c.fail("--admin and --treasury are required")
	}
	params := map[string]any{"admin": *admin, "treasury": *treasury}
	if *feeBps >= 0 {
		params["feeBps"] = *feeBps
	}
	return c.invoke("escrow_initialize", params, true)
}

func (c *cli) runEscrowPause(args []string) int {
	fs := c.newFlagSet("escrow pause")
	caller, keystore := identityFlags(fs)
	resume := fs.Bool("resume", false, "unpause instead of pausing")
	if !c.parseFlags(fs, args) {
		return 1
	}
	who, err := resolveIdentity("caller", *caller, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke("escrow_setPaused", map[string]any{"caller": who, "paused": !*resume}, true)
}

func (c *cli) runEscrowFee(args []string) int {
	fs := c.newFlagSet("escrow fee")
	caller, keystore := identityFlags(fs)
	bps := fs.Uint("bps", 0, "new fee in basis points")
	if !c.parseFlags(fs, args) {
		return 1
	}
	who, err := resolveIdentity("caller", *caller, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke("escrow_updateFee", map[string]any{"caller": who, "feeBps": *bps}, true)
}

func (c *cli) runEscrowCreate(args []string) int {
	fs := c.newFlagSet("escrow create")
	id := fs.String("id", "", "escrow id")
	depositor := fs.String("depositor", "", "depositor bech32 address")
	recipient := fs.String("recipient", "", "recipient bech32 address")
	token := fs.String("token", "", "token symbol")
	deadline := fs.String("deadline", "", "deadline as unix seconds, RFC3339 or +duration")
	var milestones milestoneFlags
	fs.Var(&milestones, "milestone", "milestone as AMOUNT[:DESCRIPTION]; repeat for each milestone")
	if !c.parseFlags(fs, args) {
		return 1
	}
	switch {
	case *id == "":
		return c.fail("--id is required")
	case *depositor == "" || *recipient == "":
		return c.fail("--depositor and --recipient are required")
	case *token == "":
		return c.fail("--token is required")
	case *deadline == "":
		return c.fail("--deadline is required")
	case len(milestones) == 0:
		return c.fail("at least one --milestone is required")
	}
	deadlineUnix, err := parseDeadline(*deadline, escrowNow())
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke("escrow_create", map[string]any{
		"id":         *id,
		"depositor":  *depositor,
		"recipient":  *recipient,
		"token":      strings.ToUpper(strings.TrimSpace(*token)),
		"deadline":   deadlineUnix,
		"milestones": []map[string]string(milestones),
	}, true)
}

func (c *cli) runEscrowByID(method string, args []string) int {
	fs := c.newFlagSet(method)
	id := fs.String("id", "", "escrow id")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" {
		return c.fail("--id is required")
	}
	return c.invoke(method, map[string]any{"id": *id}, true)
}

func (c *cli) runEscrowGet(args []string) int {
	fs := c.newFlagSet("escrow get")
	id := fs.String("id", "", "escrow id")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" {
		return c.fail("--id is required")
	}
	return c.invoke("escrow_get", map[string]any{"id": *id}, false)
}

func (c *cli) runEscrowMilestone(method string, needsCaller bool, args []string) int {
	fs := c.newFlagSet(method)
	id := fs.String("id", "", "escrow id")
	index := fs.Int("index", -1, "milestone index")
	caller, keystore := identityFlags(fs)
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" || *index < 0 {
		return c.fail("--id and --index are required")
	}
	params := map[string]any{"id": *id, "index": *index}
	if needsCaller {
		who, err := resolveIdentity("caller", *caller, *keystore)
		if err != nil {
			return c.fail(err.Error())
		}
		params["caller"] = who
	}
	return c.invoke(method, params, true)
}

func (c *cli) runEscrowCancel(args []string) int {
	fs := c.newFlagSet("escrow cancel")
	id := fs.String("id", "", "escrow id")
	caller, keystore := identityFlags(fs)
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" {
		return c.fail("--id is required")
	}
	params := map[string]any{"id": *id}
	if *caller != "" || *keystore != "" {
		who, err := resolveIdentity("caller", *caller, *keystore)
		if err != nil {
			return c.fail(err.Error())
		}
		params["caller"] = who
	}
	return c.invoke("escrow_cancel", params, true)
}

func (c *cli) runEscrowActor(method string, args []string) int {
	fs := c.newFlagSet(method)
	id := fs.String("id", "", "escrow id")
	caller, keystore := identityFlags(fs)
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" {
		return c.fail("--id is required")
	}
	who, err := resolveIdentity("caller", *caller, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke(method, map[string]any{"id": *id, "caller": who}, true)
}

func (c *cli) runEscrowResolve(args []string) int {
	fs := c.newFlagSet("escrow resolve")
	id := fs.String("id", "", "escrow id")
	resolution := fs.String("resolution", "", "depositor or recipient")
	caller, keystore := identityFlags(fs)
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *id == "" || *resolution == "" {
		return c.fail("--id and --resolution are required")
	}
	who, err := resolveIdentity("caller", *caller, *keystore)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke("escrow_resolveDispute", map[string]any{"id": *id, "caller": who, "resolution": *resolution}, true)
}

func (c *cli) runEscrowAudit(args []string) int {
	fs := c.newFlagSet("escrow audit")
	ids := fs.String("ids", "", "comma-separated escrow ids (default: all)")
	from := fs.String("from", "", "first escrow id of a range")
	to := fs.String("to", "", "last escrow id of a range")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if *from != "" || *to != "" {
		if *from == "" || *to == "" || *ids != "" {
			return c.fail("--from and --to go together and exclude --ids")
		}
		return c.invoke("escrow_audit", map[string]any{"from": *from, "to": *to}, false)
	}
	var list []string
	for _, raw := range strings.Split(*ids, ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	if len(list) == 0 {
		return c.invoke("escrow_audit", nil, false)
	}
	return c.invoke("escrow_audit", map[string]any{"ids": list}, false)
}

func (c *cli) runEscrowEvents(args []string) int {
	fs := c.newFlagSet("escrow events")
	id := fs.String("id", "", "escrow id")
	eventType := fs.String("type", "", "event type, e.g. escrow.funded")
	after := fs.Int64("after", 0, "return events after this sequence")
	limit := fs.Int("limit", 0, "maximum number of events")
	if !c.parseFlags(fs, args) {
		return 1
	}
	params := map[string]any{}
	if *id != "" {
		params["id"] = *id
	}
	if *eventType != "" {
		params["type"] = *eventType
	}
	if *after > 0 {
		params["after"] = *after
	}
	if *limit > 0 {
		params["limit"] = *limit
	}
	return c.invoke("escrow_events", params, false)
}

func parseDeadline(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "+") {
		d, err := time.ParseDuration(trimmed[1:])
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid relative deadline %q", value)
		}
		return now.Add(d).Unix(), nil
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if unix <= 0 {
			return 0, fmt.Errorf("deadline must be positive")
		}
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("deadline must be unix seconds, RFC3339 or +duration")
	}
	return ts.Unix(), nil
}
