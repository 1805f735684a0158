package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaultix/indexer"
	"vaultix/native/escrow"
	"vaultix/observability"
	"vaultix/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
	metricsModule   = "rpc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// EscrowService is the engine surface exposed over JSON-RPC.
type EscrowService interface {
	Initialize(admin, treasury [20]byte, feeBps *uint32) error
	SetPaused(caller [20]byte, paused bool) error
	UpdateFee(caller [20]byte, bps uint32) error
	CreateEscrow(id uint64, depositor, recipient [20]byte, token string, milestones []escrow.MilestoneSpec, deadline int64) (*escrow.Escrow, error)
	DepositFunds(id uint64) error
	ReleaseMilestone(id uint64, index int) error
	ConfirmDelivery(id uint64, index int, caller [20]byte) error
	CompleteEscrow(id uint64) error
	CancelEscrow(id uint64) error
	CancelEscrowBy(id uint64, caller [20]byte) error
	RaiseDispute(id uint64, caller [20]byte) error
	ResolveDispute(id uint64, resolver [20]byte, resolution escrow.Resolution) error
	RefundExpired(id uint64, caller [20]byte) error
	GetEscrow(id uint64) (*escrow.Escrow, error)
	ListEscrowIDs() ([]uint64, error)
	Config() (*escrow.Config, error)
	Audit(ids []uint64) (*escrow.AuditReport, error)
	AuditRange(fromID, toID uint64) (*escrow.AuditReport, error)
	Vault() [20]byte
}

// TokenLedger is the asset ledger surface exposed over JSON-RPC.
type TokenLedger interface {
	Balance(symbol string, who [20]byte) (*big.Int, error)
	Allowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	Approve(symbol string, owner, spender [20]byte, amount *big.Int) error
	Mint(symbol string, to [20]byte, amount *big.Int) error
}

// Sessions serialises ledger calls against engine calls so both observe one
// committed view of state.
type Sessions interface {
	Update(fn func() error) error
	View(fn func() error) error
}

// EventStore lists persisted escrow events.
type EventStore interface {
	List(ctx context.Context, filter indexer.Filter) ([]indexer.Record, error)
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// Options wires a Server.
type Options struct {
	Escrow    EscrowService
	Ledger    TokenLedger
	Sessions  Sessions
	Events    EventStore
	AuthToken string
	RateLimit RateLimit
	// AllowMint enables token_mint. Only development deployments should set it.
	AllowMint bool
	Logger    *slog.Logger
}

// Server dispatches JSON-RPC calls to the escrow engine and asset ledger.
type Server struct {
	escrow    EscrowService
	ledger    TokenLedger
	sessions  Sessions
	events    EventStore
	authToken string
	allowMint bool
	limiter   *clientLimiter
	logger    *slog.Logger
	metrics   requestMetrics
	handlers  map[string]methodHandler
}

type requestMetrics interface {
	Observe(module, method string, status int, duration time.Duration)
	RecordThrottle(module, reason string)
}

type methodHandler struct {
	fn      func(ctx context.Context, req *RPCRequest) (any, *RPCError)
	mutates bool
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		escrow:    opts.Escrow,
		ledger:    opts.Ledger,
		sessions:  opts.Sessions,
		events:    opts.Events,
		authToken: strings.TrimSpace(opts.AuthToken),
		allowMint: opts.AllowMint,
		limiter:   newClientLimiter(opts.RateLimit),
		logger:    logger.With(slog.String("component", "rpc")),
		metrics:   observability.ModuleMetrics(),
	}
	s.handlers = s.methods()
	return s
}

// Handler returns the HTTP surface: JSON-RPC on POST /, plus /healthz and
// /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.middleware(s.onThrottle)).Post("/", s.handle)
	return otelhttp.NewHandler(r, "vaultix-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      any               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	status int
}

func writeError(w http.ResponseWriter, status int, id any, code int, message string, data any) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := "unknown"
	status := http.StatusOK
	defer func() {
		s.metrics.Observe(metricsModule, method, status, time.Since(start))
	}()

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	fail := func(code int, id any, rpcCode int, message string, data any) {
		status = code
		writeError(w, code, id, rpcCode, message, data)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		code := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			code = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		fail(code, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		fail(http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		fail(http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		fail(http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		fail(http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		fail(http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	method = req.Method

	logger := s.logger.With(
		slog.String("method", req.Method),
		slog.String("requestId", w.Header().Get(requestIDHeader)),
	)
	if handler.mutates {
		if authErr := s.requireAuth(r); authErr != nil {
			logger.Warn("rpc: unauthorized call", logging.MaskField("authorization", r.Header.Get("Authorization")))
			fail(http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	result, rpcErr := handler.fn(r.Context(), req)
	if rpcErr != nil {
		if rpcErr.status >= http.StatusInternalServerError {
			logger.Error("rpc: call failed", slog.Any("error", rpcErr.Data))
		} else {
			logger.Debug("rpc: call rejected", slog.String("reason", rpcErr.Message))
		}
		fail(rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) onThrottle(w http.ResponseWriter, client string) {
	s.metrics.RecordThrottle(metricsModule, "rate_limited")
	s.logger.Warn("rpc: client throttled", slog.String("client", client))
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
