package state

import (
	"fmt"
	"math/big"
	"strings"
)

func balanceKey(symbol string, addr [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	return append(buf, addr[:]...)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+2+2*len(owner))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner[:]...)
	buf = append(buf, ':')
	return append(buf, spender[:]...)
}

func normalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	return normalized, nil
}

// TokenBalance returns the balance addr holds of the given token.
func (m *Manager) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if _, err := m.KVGet(balanceKey(normalized, addr), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetTokenBalance overwrites the balance addr holds of the given token.
func (m *Manager) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(balanceKey(normalized, addr), amount)
}

// TokenAllowance returns how much spender may move on behalf of owner.
func (m *Manager) TokenAllowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if _, err := m.KVGet(allowanceKey(normalized, owner, spender), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetTokenAllowance overwrites the allowance owner granted to spender.
func (m *Manager) SetTokenAllowance(symbol string, owner, spender [20]byte, amount *big.Int) error {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	return m.KVPut(allowanceKey(normalized, owner, spender), amount)
}
