package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultix/core/state"
	"vaultix/crypto"
	"vaultix/indexer"
	"vaultix/native/bank"
	"vaultix/native/escrow"
	"vaultix/storage"
)

const testToken = "test-token"

type testEnv struct {
	server    *httptest.Server
	admin     string
	treasury  string
	depositor string
	recipient string
}

func identity(b byte) string {
	var raw [20]byte
	raw[0] = b
	raw[19] = b
	return crypto.FromRaw(raw).String()
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr, "USDC")
	store, err := indexer.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := escrow.NewEngine()
	engine.SetState(mgr)
	engine.SetLedger(ledger)
	engine.SetEmitter(store)
	engine.SetAllowedTokens([]string{"USDC"})
	engine.SetLogger(logger)
	engine.SetNowFunc(func() int64 { return 1_000 })

	srv := NewServer(Options{
		Escrow:    engine,
		Ledger:    ledger,
		Sessions:  mgr,
		Events:    store,
		AuthToken: testToken,
		RateLimit: limit,
		AllowMint: true,
		Logger:    logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{
		server:    ts,
		admin:     identity(0xa1),
		treasury:  identity(0xb2),
		depositor: identity(0xc3),
		recipient: identity(0xd4),
	}
}

func (e *testEnv) call(t *testing.T, method string, params any, auth bool) (int, RPCResponse) {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []any{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequest(http.MethodPost, e.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if auth {
		httpReq.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := e.server.Client().Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) mustCall(t *testing.T, method string, params any, out any) {
	t.Helper()
	status, resp := e.call(t, method, params, true)
	require.Nil(t, resp.Error, "%s failed: %+v", method, resp.Error)
	require.Equal(t, http.StatusOK, status)
	if out != nil {
		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

func (e *testEnv) bootstrap(t *testing.T) {
	t.Helper()
	e.mustCall(t, "escrow_initialize", map[string]any{"admin": e.admin, "treasury": e.treasury, "feeBps": 100}, nil)
	e.mustCall(t, "token_mint", map[string]any{"token": "usdc", "to": e.depositor, "amount": "10000"}, nil)
	e.mustCall(t, "token_approve", map[string]any{"token": "usdc", "owner": e.depositor, "amount": "10000"}, nil)
}

func (e *testEnv) balance(t *testing.T, who string) string {
	t.Helper()
	var out tokenBalanceResult
	e.mustCall(t, "token_balance", map[string]any{"token": "USDC", "address": who}, &out)
	return out.Balance
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestMutationsRequireAuth(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	status, resp := env.call(t, "escrow_initialize", map[string]any{"admin": env.admin, "treasury": env.treasury}, false)
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Reads stay open.
	status, resp = env.call(t, "escrow_list", nil, false)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestUnknownMethodAndBadPayload(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	status, resp := env.call(t, "escrow_teleport", nil, true)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	httpResp, err := env.server.Client().Post(env.server.URL+"/", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
}

func TestEscrowLifecycle(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.bootstrap(t)

	var created escrowJSON
	env.mustCall(t, "escrow_create", map[string]any{
		"id":        "7",
		"depositor": env.depositor,
		"recipient": env.recipient,
		"token":     "usdc",
		"deadline":  5_000,
		"milestones": []map[string]any{
			{"amount": "300", "description": "design"},
			{"amount": "700"},
		},
	}, &created)
	require.Equal(t, "7", created.ID)
	require.Equal(t, "created", created.Status)
	require.Equal(t, "1000", created.TotalAmount)
	require.Len(t, created.Milestones, 2)

	var funded escrowJSON
	env.mustCall(t, "escrow_deposit", map[string]any{"id": "7"}, &funded)
	require.Equal(t, "active", funded.Status)
	require.True(t, funded.Funded)
	require.Equal(t, "9000", env.balance(t, env.depositor))

	var released escrowJSON
	env.mustCall(t, "escrow_confirmDelivery", map[string]any{"id": "7", "index": 0, "caller": env.depositor}, &released)
	require.Equal(t, "released", released.Milestones[0].Status)
	require.Equal(t, "300", released.TotalReleased)
	env.mustCall(t, "escrow_release", map[string]any{"id": "7", "index": 1}, nil)

	var completed escrowJSON
	env.mustCall(t, "escrow_complete", map[string]any{"id": "7"}, &completed)
	require.Equal(t, "completed", completed.Status)
	require.Equal(t, "0", completed.Remaining)
	require.Equal(t, "1000", env.balance(t, env.recipient))

	var list listResult
	env.mustCall(t, "escrow_list", nil, &list)
	require.Equal(t, []string{"7"}, list.IDs)

	var history eventsResult
	env.mustCall(t, "escrow_events", map[string]any{"id": "7"}, &history)
	types := make([]string, 0, len(history.Events))
	for _, evt := range history.Events {
		types = append(types, evt.Type)
	}
	require.Equal(t, []string{
		escrow.EventTypeCreated,
		escrow.EventTypeFunded,
		escrow.EventTypeMilestoneReleased,
		escrow.EventTypeMilestoneReleased,
		escrow.EventTypeCompleted,
	}, types)
	require.Equal(t, history.Events[len(history.Events)-1].Sequence, history.Next)

	var report escrow.AuditReport
	env.mustCall(t, "escrow_audit", nil, &report)
	require.True(t, report.Healthy())

	var ranged escrow.AuditReport
	env.mustCall(t, "escrow_audit", map[string]any{"from": "6", "to": "8"}, &ranged)
	require.Equal(t, []uint64{7}, ranged.Checked)
	require.Equal(t, []uint64{6, 8}, ranged.Missing)

	status, resp := env.call(t, "escrow_audit", map[string]any{"from": "8", "to": "6"}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowBase-int(escrow.ErrorCode(escrow.ErrInvalidAuditRange)), resp.Error.Code)
	status, resp = env.call(t, "escrow_audit", map[string]any{"ids": []string{"7"}, "from": "6", "to": "8"}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestDisputeResolutionAndFees(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.bootstrap(t)
	env.mustCall(t, "escrow_create", map[string]any{
		"id": "1", "depositor": env.depositor, "recipient": env.recipient, "token": "USDC", "deadline": 5_000,
		"milestones": []map[string]any{{"amount": "1000"}},
	}, nil)
	env.mustCall(t, "escrow_deposit", map[string]any{"id": "1"}, nil)

	var disputed escrowJSON
	env.mustCall(t, "escrow_raiseDispute", map[string]any{"id": "1", "caller": env.recipient}, &disputed)
	require.Equal(t, "disputed", disputed.Status)

	status, resp := env.call(t, "escrow_resolveDispute", map[string]any{"id": "1", "caller": env.depositor, "resolution": "depositor"}, true)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeEscrowBase-int(escrow.ErrorCode(escrow.ErrUnauthorized)), resp.Error.Code)

	status, resp = env.call(t, "escrow_resolveDispute", map[string]any{"id": "1", "caller": env.admin, "resolution": "sideways"}, true)
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)

	var resolved escrowJSON
	env.mustCall(t, "escrow_resolveDispute", map[string]any{"id": "1", "caller": env.admin, "resolution": "depositor"}, &resolved)
	require.Equal(t, "resolved", resolved.Status)
	require.Equal(t, "depositor", resolved.Resolution)
	require.Equal(t, "10000", env.balance(t, env.depositor))
	require.Equal(t, "0", env.balance(t, env.treasury))

	env.mustCall(t, "escrow_create", map[string]any{
		"id": "2", "depositor": env.depositor, "recipient": env.recipient, "token": "USDC", "deadline": 5_000,
		"milestones": []map[string]any{{"amount": "1000"}},
	}, nil)
	env.mustCall(t, "escrow_deposit", map[string]any{"id": "2"}, nil)
	var cancelled escrowJSON
	env.mustCall(t, "escrow_cancel", map[string]any{"id": "2", "caller": env.depositor}, &cancelled)
	require.Equal(t, "cancelled", cancelled.Status)
	// 1% fee on the depositor-bound refund.
	require.Equal(t, "9990", env.balance(t, env.depositor))
	require.Equal(t, "10", env.balance(t, env.treasury))
}

func TestEscrowErrorMapping(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.bootstrap(t)

	status, resp := env.call(t, "escrow_get", map[string]any{"id": "404"}, false)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeEscrowBase-1, resp.Error.Code)

	status, resp = env.call(t, "escrow_create", map[string]any{
		"id": "2", "depositor": env.depositor, "recipient": env.depositor, "token": "USDC", "deadline": 5_000,
		"milestones": []map[string]any{{"amount": "10"}},
	}, true)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowBase-int(escrow.ErrorCode(escrow.ErrSelfDealing)), resp.Error.Code)

	status, resp = env.call(t, "escrow_get", map[string]any{"id": "abc"}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, "escrow_get", map[string]any{"id": "1", "extra": true}, false)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	env.mustCall(t, "escrow_setPaused", map[string]any{"caller": env.admin, "paused": true}, nil)
	status, resp = env.call(t, "escrow_create", map[string]any{
		"id": "3", "depositor": env.depositor, "recipient": env.recipient, "token": "USDC", "deadline": 5_000,
		"milestones": []map[string]any{{"amount": "10"}},
	}, true)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeEscrowBase-int(escrow.ErrorCode(escrow.ErrContractPaused)), resp.Error.Code)

	var cfg configJSON
	env.mustCall(t, "escrow_config", nil, &cfg)
	require.True(t, cfg.Paused)
	require.EqualValues(t, 100, cfg.FeeBps)
	require.Equal(t, crypto.FromRaw(escrow.DefaultVaultAddress()).String(), cfg.Vault)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		status, _ := env.call(t, "escrow_list", nil, false)
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.call(t, "escrow_list", nil, false)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}
