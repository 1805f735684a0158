package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"vaultix/crypto"
	"vaultix/indexer"
	"vaultix/native/escrow"
)

// Escrow domain errors are reported as codeEscrowBase minus the stable
// escrow error code.
const codeEscrowBase = -33000

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowCancelParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller,omitempty"`
}

type escrowMilestoneParams struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Caller string `json:"caller,omitempty"`
}

type escrowResolveParams struct {
	ID         string `json:"id"`
	Caller     string `json:"caller"`
	Resolution string `json:"resolution"`
}

type milestoneSpecParams struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type escrowCreateParams struct {
	ID         string                `json:"id"`
	Depositor  string                `json:"depositor"`
	Recipient  string                `json:"recipient"`
	Token      string                `json:"token"`
	Milestones []milestoneSpecParams `json:"milestones"`
	Deadline   int64                 `json:"deadline"`
}

type initializeParams struct {
	Admin    string  `json:"admin"`
	Treasury string  `json:"treasury"`
	FeeBps   *uint32 `json:"feeBps,omitempty"`
}

type setPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type updateFeeParams struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

type auditParams struct {
	IDs  []string `json:"ids,omitempty"`
	From string   `json:"from,omitempty"`
	To   string   `json:"to,omitempty"`
}

type eventsParams struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type,omitempty"`
	After int64  `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type milestoneJSON struct {
	Index       int    `json:"index"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

type escrowJSON struct {
	ID            string          `json:"id"`
	Depositor     string          `json:"depositor"`
	Recipient     string          `json:"recipient"`
	Token         string          `json:"token"`
	TotalAmount   string          `json:"totalAmount"`
	TotalReleased string          `json:"totalReleased"`
	Remaining     string          `json:"remaining"`
	Status        string          `json:"status"`
	Resolution    string          `json:"resolution"`
	Funded        bool            `json:"funded"`
	Deadline      int64           `json:"deadline"`
	CreatedAt     int64           `json:"createdAt"`
	Milestones    []milestoneJSON `json:"milestones"`
}

type configJSON struct {
	Admin    string `json:"admin"`
	Treasury string `json:"treasury"`
	FeeBps   uint32 `json:"feeBps"`
	Paused   bool   `json:"paused"`
	Vault    string `json:"vault"`
}

type listResult struct {
	IDs []string `json:"ids"`
}

type eventsResult struct {
	Events []indexer.Record `json:"events"`
	Next   int64            `json:"next"`
}

type escrowErrorData struct {
	Code uint32 `json:"code"`
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_initialize":      {fn: s.handleInitialize, mutates: true},
		"escrow_setPaused":       {fn: s.handleSetPaused, mutates: true},
		"escrow_updateFee":       {fn: s.handleUpdateFee, mutates: true},
		"escrow_create":          {fn: s.handleCreate, mutates: true},
		"escrow_deposit":         {fn: s.handleDeposit, mutates: true},
		"escrow_release":         {fn: s.handleRelease, mutates: true},
		"escrow_confirmDelivery": {fn: s.handleConfirmDelivery, mutates: true},
		"escrow_complete":        {fn: s.handleComplete, mutates: true},
		"escrow_cancel":          {fn: s.handleCancel, mutates: true},
		"escrow_raiseDispute":    {fn: s.handleRaiseDispute, mutates: true},
		"escrow_resolveDispute":  {fn: s.handleResolveDispute, mutates: true},
		"escrow_refundExpired":   {fn: s.handleRefundExpired, mutates: true},
		"escrow_get":             {fn: s.handleGet},
		"escrow_list":            {fn: s.handleList},
		"escrow_config":          {fn: s.handleConfig},
		"escrow_audit":           {fn: s.handleAudit},
		"escrow_events":          {fn: s.handleEvents},
		"token_balance":          {fn: s.handleTokenBalance},
		"token_approve":          {fn: s.handleTokenApprove, mutates: true},
		"token_mint":             {fn: s.handleTokenMint, mutates: true},
	}
}

func (s *Server) handleInitialize(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params initializeParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	admin, err := parseBech32Address(params.Admin)
	if err != nil {
		return nil, invalidParams(err)
	}
	treasury, err := parseBech32Address(params.Treasury)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.escrow.Initialize(admin, treasury, params.FeeBps); err != nil {
		return nil, escrowError(err)
	}
	return s.configResult()
}

func (s *Server) handleSetPaused(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params setPausedParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.escrow.SetPaused(caller, params.Paused); err != nil {
		return nil, escrowError(err)
	}
	return s.configResult()
}

func (s *Server) handleUpdateFee(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params updateFeeParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.escrow.UpdateFee(caller, params.FeeBps); err != nil {
		return nil, escrowError(err)
	}
	return s.configResult()
}

func (s *Server) handleCreate(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowCreateParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("depositor: %w", err))
	}
	recipient, err := parseBech32Address(params.Recipient)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("recipient: %w", err))
	}
	specs := make([]escrow.MilestoneSpec, len(params.Milestones))
	for i, m := range params.Milestones {
		amount, err := parseAmount(m.Amount)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("milestone %d: %w", i, err))
		}
		specs[i] = escrow.MilestoneSpec{Amount: amount, Description: m.Description}
	}
	created, err := s.escrow.CreateEscrow(id, depositor, recipient, params.Token, specs, params.Deadline)
	if err != nil {
		return nil, escrowError(err)
	}
	return formatEscrowJSON(created), nil
}

func (s *Server) handleDeposit(_ context.Context, req *RPCRequest) (any, *RPCError) {
	return s.withEscrowID(req, s.escrow.DepositFunds)
}

func (s *Server) handleComplete(_ context.Context, req *RPCRequest) (any, *RPCError) {
	return s.withEscrowID(req, s.escrow.CompleteEscrow)
}

func (s *Server) handleRelease(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowMilestoneParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.escrow.ReleaseMilestone(id, params.Index); err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) handleConfirmDelivery(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowMilestoneParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.escrow.ConfirmDelivery(id, params.Index, caller); err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) handleCancel(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowCancelParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	if strings.TrimSpace(params.Caller) == "" {
		err = s.escrow.CancelEscrow(id)
	} else {
		caller, parseErr := parseBech32Address(params.Caller)
		if parseErr != nil {
			return nil, invalidParams(parseErr)
		}
		err = s.escrow.CancelEscrowBy(id, caller)
	}
	if err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) handleRaiseDispute(_ context.Context, req *RPCRequest) (any, *RPCError) {
	return s.withEscrowActor(req, s.escrow.RaiseDispute)
}

func (s *Server) handleRefundExpired(_ context.Context, req *RPCRequest) (any, *RPCError) {
	return s.withEscrowActor(req, s.escrow.RefundExpired)
}

func (s *Server) handleResolveDispute(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowResolveParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	resolution, err := escrow.ParseResolution(params.Resolution)
	if err != nil {
		return nil, escrowError(err)
	}
	if err := s.escrow.ResolveDispute(id, caller, resolution); err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) handleGet(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	return s.escrowResult(id)
}

func (s *Server) handleList(_ context.Context, req *RPCRequest) (any, *RPCError) {
	ids, err := s.escrow.ListEscrowIDs()
	if err != nil {
		return nil, escrowError(err)
	}
	out := listResult{IDs: make([]string, len(ids))}
	for i, id := range ids {
		out.IDs[i] = formatEscrowID(id)
	}
	return out, nil
}

func (s *Server) handleConfig(_ context.Context, _ *RPCRequest) (any, *RPCError) {
	return s.configResult()
}

func (s *Server) handleAudit(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params auditParams
	if rpcErr := decodeParams(req, &params, true); rpcErr != nil {
		return nil, rpcErr
	}
	if params.From != "" || params.To != "" {
		if len(params.IDs) > 0 {
			return nil, invalidParams(fmt.Errorf("ids and from/to are mutually exclusive"))
		}
		from, err := parseEscrowID(params.From)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("from: %w", err))
		}
		to, err := parseEscrowID(params.To)
		if err != nil {
			return nil, invalidParams(fmt.Errorf("to: %w", err))
		}
		report, err := s.escrow.AuditRange(from, to)
		if err != nil {
			return nil, escrowError(err)
		}
		return report, nil
	}
	ids := make([]uint64, 0, len(params.IDs))
	for _, raw := range params.IDs {
		id, err := parseEscrowID(raw)
		if err != nil {
			return nil, invalidParams(err)
		}
		ids = append(ids, id)
	}
	report, err := s.escrow.Audit(ids)
	if err != nil {
		return nil, escrowError(err)
	}
	return report, nil
}

func (s *Server) handleEvents(ctx context.Context, req *RPCRequest) (any, *RPCError) {
	if s.events == nil {
		return nil, &RPCError{status: http.StatusServiceUnavailable, Code: codeServerError, Message: "event index not configured"}
	}
	var params eventsParams
	if rpcErr := decodeParams(req, &params, true); rpcErr != nil {
		return nil, rpcErr
	}
	filter := indexer.Filter{Type: strings.TrimSpace(params.Type), After: params.After, Limit: params.Limit}
	if strings.TrimSpace(params.ID) != "" {
		id, err := parseEscrowID(params.ID)
		if err != nil {
			return nil, invalidParams(err)
		}
		filter.EscrowID = formatEscrowID(id)
	}
	records, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, internalError(err)
	}
	out := eventsResult{Events: records, Next: params.After}
	if out.Events == nil {
		out.Events = []indexer.Record{}
	}
	if n := len(records); n > 0 {
		out.Next = records[n-1].Sequence
	}
	return out, nil
}

func (s *Server) withEscrowID(req *RPCRequest, op func(uint64) error) (any, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := op(id); err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) withEscrowActor(req *RPCRequest, op func(uint64, [20]byte) error) (any, *RPCError) {
	var params escrowActorParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return nil, invalidParams(err)
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := op(id, caller); err != nil {
		return nil, escrowError(err)
	}
	return s.escrowResult(id)
}

func (s *Server) escrowResult(id uint64) (any, *RPCError) {
	esc, err := s.escrow.GetEscrow(id)
	if err != nil {
		return nil, escrowError(err)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) configResult() (any, *RPCError) {
	cfg, err := s.escrow.Config()
	if err != nil {
		return nil, escrowError(err)
	}
	return configJSON{
		Admin:    crypto.FromRaw(cfg.Admin).String(),
		Treasury: crypto.FromRaw(cfg.Treasury).String(),
		FeeBps:   cfg.FeeBps,
		Paused:   cfg.Paused,
		Vault:    crypto.FromRaw(s.escrow.Vault()).String(),
	}, nil
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:            formatEscrowID(esc.ID),
		Depositor:     crypto.FromRaw(esc.Depositor).String(),
		Recipient:     crypto.FromRaw(esc.Recipient).String(),
		Token:         esc.Token,
		TotalAmount:   amountString(esc.TotalAmount),
		TotalReleased: amountString(esc.TotalReleased),
		Remaining:     amountString(esc.Remaining()),
		Status:        esc.Status.String(),
		Resolution:    esc.Resolution.String(),
		Funded:        esc.Funded,
		Deadline:      esc.Deadline,
		CreatedAt:     esc.CreatedAt,
		Milestones:    make([]milestoneJSON, len(esc.Milestones)),
	}
	for i, m := range esc.Milestones {
		out.Milestones[i] = milestoneJSON{
			Index:       i,
			Amount:      amountString(m.Amount),
			Description: m.Description,
			Status:      m.Status.String(),
		}
	}
	return out
}

// decodeParams expects a single parameter object. When optional is set an
// empty parameter list leaves out untouched.
func decodeParams(req *RPCRequest, out any, optional bool) *RPCError {
	if len(req.Params) == 0 && optional {
		return nil
	}
	if len(req.Params) != 1 {
		return &RPCError{status: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid_params", Data: "exactly one parameter object expected"}
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(err)
	}
	return nil
}

func invalidParams(err error) *RPCError {
	return &RPCError{status: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid_params", Data: err.Error()}
}

func internalError(err error) *RPCError {
	return &RPCError{status: http.StatusInternalServerError, Code: codeServerError, Message: "internal_error", Data: err.Error()}
}

var validationErrors = []error{
	escrow.ErrZeroAmount,
	escrow.ErrInvalidMilestoneAmount,
	escrow.ErrTooManyMilestones,
	escrow.ErrInvalidDescription,
	escrow.ErrSelfDealing,
	escrow.ErrUnsupportedToken,
	escrow.ErrInvalidDeadline,
	escrow.ErrInvalidAddress,
	escrow.ErrInvalidFeeBps,
	escrow.ErrInvalidMilestoneIndex,
	escrow.ErrInvalidResolution,
	escrow.ErrAuditBatchTooLarge,
	escrow.ErrInvalidAuditRange,
}

// escrowError maps engine errors onto JSON-RPC errors. Escrow domain errors
// keep their stable code in the error data.
func escrowError(err error) *RPCError {
	code := escrow.ErrorCode(err)
	if code == 0 {
		return internalError(err)
	}
	status := http.StatusConflict
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrContractPaused):
		status = http.StatusServiceUnavailable
	default:
		for _, target := range validationErrors {
			if errors.Is(err, target) {
				status = http.StatusBadRequest
				break
			}
		}
	}
	return &RPCError{
		status:  status,
		Code:    codeEscrowBase - int(code),
		Message: err.Error(),
		Data:    escrowErrorData{Code: code},
	}
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	return crypto.ParseIdentity(trimmed)
}

func parseEscrowID(id string) (uint64, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return 0, fmt.Errorf("id required")
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid escrow id %q", id)
	}
	return value, nil
}

func formatEscrowID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// parseAmount accepts a base-10 integer. Sign checks are left to the callee
// so zero and negative amounts surface as domain errors.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
