package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func sampleEscrow() *Escrow {
	var depositor, recipient [20]byte
	depositor[0] = 0x01
	recipient[0] = 0x02
	return &Escrow{
		ID:        1,
		Depositor: depositor,
		Recipient: recipient,
		Token:     " usdc ",
		Milestones: []*Milestone{
			{Amount: big.NewInt(40), Status: MilestoneReleased},
			{Amount: big.NewInt(60), Status: MilestonePending},
		},
		TotalAmount:   big.NewInt(100),
		TotalReleased: big.NewInt(40),
		Status:        EscrowActive,
		Funded:        true,
		Deadline:      10,
	}
}

func TestCloneIsDeep(t *testing.T) {
	esc := sampleEscrow()
	clone := esc.Clone()
	clone.Milestones[0].Amount.SetInt64(1)
	clone.Milestones[1].Status = MilestoneReleased
	clone.TotalReleased.SetInt64(99)
	if esc.Milestones[0].Amount.Int64() != 40 || esc.Milestones[1].Status != MilestonePending {
		t.Fatalf("clone shares milestone storage")
	}
	if esc.TotalReleased.Int64() != 40 {
		t.Fatalf("clone shares released amount")
	}
	if (*Escrow)(nil).Clone() != nil {
		t.Fatalf("nil clone must be nil")
	}
}

func TestRemainingAndAllReleased(t *testing.T) {
	esc := sampleEscrow()
	if esc.Remaining().Int64() != 60 {
		t.Fatalf("expected remaining 60, got %s", esc.Remaining())
	}
	if esc.AllReleased() {
		t.Fatalf("pending milestone reported as released")
	}
	esc.Milestones[1].Status = MilestoneReleased
	if !esc.AllReleased() {
		t.Fatalf("expected all released")
	}
	if !esc.IsParty(esc.Recipient) || esc.IsParty([20]byte{0x09}) {
		t.Fatalf("party detection mismatch")
	}
}

func TestSanitizeEscrow(t *testing.T) {
	clean, err := SanitizeEscrow(sampleEscrow())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.Token != "USDC" {
		t.Fatalf("expected normalised token, got %q", clean.Token)
	}

	cases := map[string]func(*Escrow){
		"total mismatch":    func(e *Escrow) { e.TotalAmount = big.NewInt(101) },
		"released too high": func(e *Escrow) { e.TotalReleased = big.NewInt(101) },
		"negative released": func(e *Escrow) { e.TotalReleased = big.NewInt(-1) },
		"bad status":        func(e *Escrow) { e.Status = EscrowStatus(42) },
		"bad resolution":    func(e *Escrow) { e.Resolution = Resolution(9) },
		"no milestones":     func(e *Escrow) { e.Milestones = nil },
		"zero milestone":    func(e *Escrow) { e.Milestones[0].Amount = big.NewInt(0) },
		"self dealing":      func(e *Escrow) { e.Recipient = e.Depositor },
		"empty token":       func(e *Escrow) { e.Token = "" },
		"no deadline":       func(e *Escrow) { e.Deadline = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			esc := sampleEscrow()
			mutate(esc)
			if _, err := SanitizeEscrow(esc); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	if r, err := ParseResolution(" Recipient "); err != nil || r != ResolutionRecipient {
		t.Fatalf("expected recipient, got %v %v", r, err)
	}
	if r, err := ParseResolution("DEPOSITOR"); err != nil || r != ResolutionDepositor {
		t.Fatalf("expected depositor, got %v %v", r, err)
	}
	if _, err := ParseResolution("split"); !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	terminal := []EscrowStatus{EscrowResolved, EscrowCompleted, EscrowCancelled, EscrowExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []EscrowStatus{EscrowCreated, EscrowActive, EscrowDisputed} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if EscrowStatus(99).Valid() || EscrowStatus(99).String() != "unknown" {
		t.Fatalf("out-of-range status must be invalid")
	}
}
