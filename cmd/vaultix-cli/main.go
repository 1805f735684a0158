package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultEndpoint = "http://127.0.0.1:8547"
	rpcTokenEnv     = "VAULTIX_RPC_TOKEN"
	rpcURLEnv       = "VAULTIX_RPC_URL"
	passphraseEnv   = "VAULTIX_KEYSTORE_PASSPHRASE"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// rpcCaller issues one JSON-RPC call. Tests replace it.
type rpcCaller func(method string, params any, auth bool) (json.RawMessage, error)

type cli struct {
	endpoint string
	token    string
	call     rpcCaller
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	c := &cli{
		endpoint: envOr(rpcURLEnv, defaultEndpoint),
		token:    strings.TrimSpace(os.Getenv(rpcTokenEnv)),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	c.call = c.httpCall
	os.Exit(c.run(os.Args[1:]))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) run(args []string) int {
	args = c.applyGlobalFlags(args)
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return c.runKeygen(args[1:])
	case "address":
		return c.runAddress(args[1:])
	case "escrow":
		return c.runEscrow(args[1:])
	case "token":
		return c.runToken(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, usage())
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
}

// applyGlobalFlags strips a leading --rpc <url> from args.
func (c *cli) applyGlobalFlags(args []string) []string {
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			c.endpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			c.endpoint = strings.TrimPrefix(args[0], "--rpc=")
			args = args[1:]
		default:
			return args
		}
	}
	return args
}

func usage() string {
	return strings.TrimSpace(`
Usage: vaultix-cli [--rpc URL] <command> [flags]

Commands:
  keygen   --out FILE                 generate an identity keystore
  address  --keystore FILE            print the identity stored in a keystore
  escrow   <subcommand> [flags]       escrow operations (run "escrow" for details)
  token    balance|approve|mint       asset ledger operations

Environment:
  VAULTIX_RPC_URL, VAULTIX_RPC_TOKEN, VAULTIX_KEYSTORE_PASSPHRASE`)
}

func (c *cli) httpCall(method string, params any, auth bool) (json.RawMessage, error) {
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []any{params}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if auth {
		if c.token == "" {
			return nil, fmt.Errorf("privileged RPC call requires %s to be set", rpcTokenEnv)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}

// invoke performs the call and pretty-prints the result.
func (c *cli) invoke(method string, params any, auth bool) int {
	result, err := c.call(method, params, auth)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(c.stdout, string(result))
		return 0
	}
	fmt.Fprintln(c.stdout, pretty.String())
	return 0
}

func (c *cli) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}
