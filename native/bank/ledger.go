package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the holder's balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInsufficientAllowance is returned when a delegated debit exceeds the
	// approved allowance. It wraps ErrInsufficientFunds.
	ErrInsufficientAllowance = fmt.Errorf("%w: allowance exceeded", ErrInsufficientFunds)
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrUnknownToken          = errors.New("bank: unknown token")
)

type ledgerState interface {
	TokenBalance(symbol string, addr [20]byte) (*big.Int, error)
	SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error
	TokenAllowance(symbol string, owner, spender [20]byte) (*big.Int, error)
	SetTokenAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error
}

// Ledger moves fungible token balances held in state. It performs no session
// handling of its own: callers wrap mutations in the state manager's Update so
// ledger writes commit together with whatever else the unit of work touched.
type Ledger struct {
	state  ledgerState
	tokens map[string]struct{}
}

// NewLedger returns a ledger over state. When tokens is empty every well-formed
// symbol is accepted.
func NewLedger(state ledgerState, tokens ...string) *Ledger {
	l := &Ledger{state: state, tokens: make(map[string]struct{})}
	for _, token := range tokens {
		if symbol := normalize(token); symbol != "" {
			l.tokens[symbol] = struct{}{}
		}
	}
	return l
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Supports reports whether the ledger accepts the token symbol.
func (l *Ledger) Supports(symbol string) bool {
	normalized := normalize(symbol)
	if normalized == "" {
		return false
	}
	if len(l.tokens) == 0 {
		return true
	}
	_, ok := l.tokens[normalized]
	return ok
}

func (l *Ledger) check(symbol string, amount *big.Int) (string, error) {
	if l == nil || l.state == nil {
		return "", fmt.Errorf("bank: ledger not configured")
	}
	if !l.Supports(symbol) {
		return "", fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	return normalize(symbol), nil
}

// Balance returns the token balance held by who.
func (l *Ledger) Balance(symbol string, who [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: ledger not configured")
	}
	return l.state.TokenBalance(normalize(symbol), who)
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: ledger not configured")
	}
	return l.state.TokenAllowance(normalize(symbol), owner, spender)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	token, err := l.check(symbol, amount)
	if err != nil {
		return err
	}
	return l.move(token, from, to, amount)
}

// TransferFrom moves amount out of from's balance on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(symbol string, spender, from, to [20]byte, amount *big.Int) error {
	token, err := l.check(symbol, amount)
	if err != nil {
		return err
	}
	allowance, err := l.state.TokenAllowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	return l.state.SetTokenAllowance(token, from, spender, new(big.Int).Sub(allowance, amount))
}

// Approve sets the allowance owner grants to spender. A zero amount revokes it.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: ledger not configured")
	}
	if !l.Supports(symbol) {
		return fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.SetTokenAllowance(normalize(symbol), owner, spender, amount)
}

// Mint credits newly issued tokens to the holder.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	token, err := l.check(symbol, amount)
	if err != nil {
		return err
	}
	balance, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, new(big.Int).Add(balance, amount))
}

func (l *Ledger) move(token string, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := l.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, new(big.Int).Add(toBalance, amount))
}
