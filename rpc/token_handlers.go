package rpc

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"vaultix/crypto"
	"vaultix/native/bank"
)

type tokenBalanceParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Spender string `json:"spender,omitempty"`
}

type tokenApproveParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type tokenMintParams struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type tokenBalanceResult struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	Balance   string `json:"balance"`
	Spender   string `json:"spender,omitempty"`
	Allowance string `json:"allowance,omitempty"`
}

func (s *Server) handleTokenBalance(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params tokenBalanceParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	holder, err := parseBech32Address(params.Address)
	if err != nil {
		return nil, invalidParams(err)
	}
	var spender *[20]byte
	if strings.TrimSpace(params.Spender) != "" {
		parsed, err := parseBech32Address(params.Spender)
		if err != nil {
			return nil, invalidParams(err)
		}
		spender = &parsed
	}
	token := strings.ToUpper(strings.TrimSpace(params.Token))
	result := tokenBalanceResult{Token: token, Address: crypto.FromRaw(holder).String()}
	err = s.sessions.View(func() error {
		balance, err := s.ledger.Balance(token, holder)
		if err != nil {
			return err
		}
		result.Balance = amountString(balance)
		if spender != nil {
			allowance, err := s.ledger.Allowance(token, holder, *spender)
			if err != nil {
				return err
			}
			result.Spender = crypto.FromRaw(*spender).String()
			result.Allowance = amountString(allowance)
		}
		return nil
	})
	if err != nil {
		return nil, tokenError(err)
	}
	return result, nil
}

func (s *Server) handleTokenApprove(_ context.Context, req *RPCRequest) (any, *RPCError) {
	var params tokenApproveParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		return nil, invalidParams(err)
	}
	// Without an explicit spender the allowance goes to the escrow vault.
	spender := s.escrow.Vault()
	if strings.TrimSpace(params.Spender) != "" {
		if spender, err = parseBech32Address(params.Spender); err != nil {
			return nil, invalidParams(err)
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	token := strings.ToUpper(strings.TrimSpace(params.Token))
	if err := s.sessions.Update(func() error {
		return s.ledger.Approve(token, owner, spender, amount)
	}); err != nil {
		return nil, tokenError(err)
	}
	return tokenBalanceResult{
		Token:     token,
		Address:   crypto.FromRaw(owner).String(),
		Spender:   crypto.FromRaw(spender).String(),
		Allowance: amountString(amount),
	}, nil
}

func (s *Server) handleTokenMint(_ context.Context, req *RPCRequest) (any, *RPCError) {
	if !s.allowMint {
		return nil, &RPCError{status: http.StatusForbidden, Code: codeUnauthorized, Message: "token minting disabled"}
	}
	var params tokenMintParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		return nil, invalidParams(err)
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	token := strings.ToUpper(strings.TrimSpace(params.Token))
	var balance *big.Int
	err = s.sessions.Update(func() error {
		if err := s.ledger.Mint(token, to, amount); err != nil {
			return err
		}
		var err error
		balance, err = s.ledger.Balance(token, to)
		return err
	})
	if err != nil {
		return nil, tokenError(err)
	}
	return tokenBalanceResult{Token: token, Address: crypto.FromRaw(to).String(), Balance: amountString(balance)}, nil
}

func tokenError(err error) *RPCError {
	switch {
	case errors.Is(err, bank.ErrUnknownToken), errors.Is(err, bank.ErrInvalidAmount):
		return &RPCError{status: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, bank.ErrInsufficientFunds):
		return &RPCError{status: http.StatusConflict, Code: codeServerError, Message: err.Error()}
	default:
		return internalError(err)
	}
}
