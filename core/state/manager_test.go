package state

import (
	"errors"
	"math/big"
	"testing"

	"vaultix/storage"
)

func TestUpdateCommitsAtomically(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var holder [20]byte
	holder[0] = 0x01

	err := mgr.Update(func() error {
		if err := mgr.SetTokenBalance("usdc", holder, big.NewInt(100)); err != nil {
			return err
		}
		if mgr.Pending() != 1 {
			t.Fatalf("expected one pending write, got %d", mgr.Pending())
		}
		bal, err := mgr.TokenBalance("USDC", holder)
		if err != nil {
			return err
		}
		if bal.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("pending write not visible inside session: %s", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	fresh := NewManager(db)
	bal, err := fresh.TokenBalance("usdc", holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected committed balance 100, got %s", bal)
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var holder [20]byte
	holder[19] = 0x09
	boom := errors.New("boom")

	err := mgr.Update(func() error {
		if err := mgr.SetTokenBalance("USDC", holder, big.NewInt(42)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var bal *big.Int
	if err := mgr.View(func() error {
		var err error
		bal, err = mgr.TokenBalance("USDC", holder)
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("discarded write leaked: %s", bal)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("pending overlay not cleared")
	}
}

func TestKVRejectsEmptyKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := mgr.KVGet(nil, nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestAllowanceRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	var owner, spender [20]byte
	owner[0], spender[0] = 0x0a, 0x0b
	if err := mgr.SetTokenAllowance("usdc", owner, spender, big.NewInt(7)); err != nil {
		t.Fatalf("set allowance: %v", err)
	}
	got, err := mgr.TokenAllowance("USDC", owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected 7, got %s", got)
	}
	reverse, err := mgr.TokenAllowance("USDC", spender, owner)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if reverse.Sign() != 0 {
		t.Fatalf("allowance must be directional")
	}
	if err := mgr.SetTokenAllowance("USDC", owner, spender, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative allowance to be rejected")
	}
}
