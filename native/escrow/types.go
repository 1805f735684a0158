package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// MaxMilestones bounds the per-escrow milestone list so every batch
	// operation iterates a small, fixed number of entries.
	MaxMilestones = 20
	// MaxDescriptionLength caps the opaque milestone label.
	MaxDescriptionLength = 128
	maxTokenLength       = 12
)

// maxAmount is the largest value representable by a signed 128-bit integer.
var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// EscrowStatus represents the lifecycle states of a milestone escrow.
type EscrowStatus uint8

const (
	EscrowCreated EscrowStatus = iota
	EscrowActive
	EscrowDisputed
	EscrowResolved
	EscrowCompleted
	EscrowCancelled
	EscrowExpired
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	return s <= EscrowExpired
}

// Terminal reports whether no further transitions are possible.
func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowResolved, EscrowCompleted, EscrowCancelled, EscrowExpired:
		return true
	default:
		return false
	}
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowCreated:
		return "created"
	case EscrowActive:
		return "active"
	case EscrowDisputed:
		return "disputed"
	case EscrowResolved:
		return "resolved"
	case EscrowCompleted:
		return "completed"
	case EscrowCancelled:
		return "cancelled"
	case EscrowExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MilestoneStatus tracks a single milestone payout.
type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneReleased
	// MilestoneDisputed is the terminal tag applied when a dispute is
	// settled in favour of the depositor. Disputed milestones are never paid.
	MilestoneDisputed
)

func (s MilestoneStatus) Valid() bool {
	return s <= MilestoneDisputed
}

func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneReleased:
		return "released"
	case MilestoneDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Resolution records which party an adjudicated dispute favoured.
type Resolution uint8

const (
	ResolutionNone Resolution = iota
	ResolutionDepositor
	ResolutionRecipient
)

func (r Resolution) Valid() bool {
	return r <= ResolutionRecipient
}

func (r Resolution) String() string {
	switch r {
	case ResolutionNone:
		return "none"
	case ResolutionDepositor:
		return "depositor"
	case ResolutionRecipient:
		return "recipient"
	default:
		return "unknown"
	}
}

// ParseResolution accepts "depositor" or "recipient" in any casing.
func ParseResolution(raw string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "depositor":
		return ResolutionDepositor, nil
	case "recipient":
		return ResolutionRecipient, nil
	default:
		return ResolutionNone, fmt.Errorf("%w: %q", ErrInvalidResolution, raw)
	}
}

// MilestoneSpec is the caller-supplied definition of a milestone.
type MilestoneSpec struct {
	Amount      *big.Int
	Description string
}

// Milestone is a releasable tranche of an escrow.
type Milestone struct {
	Amount      *big.Int
	Status      MilestoneStatus
	Description string
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Amount = cloneBigInt(m.Amount)
	return &clone
}

// Escrow captures the parties, schedule and accounting of a single
// milestone escrow. Records are never deleted; terminal escrows stay
// readable for audit.
type Escrow struct {
	ID            uint64
	Depositor     [20]byte
	Recipient     [20]byte
	Token         string
	Milestones    []*Milestone
	TotalAmount   *big.Int
	TotalReleased *big.Int
	Status        EscrowStatus
	Resolution    Resolution
	// Funded is set once custody of TotalAmount was taken from the depositor.
	Funded    bool
	Deadline  int64
	CreatedAt int64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.TotalAmount = cloneBigInt(e.TotalAmount)
	clone.TotalReleased = cloneBigInt(e.TotalReleased)
	if len(e.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(e.Milestones))
		for i, m := range e.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

// Remaining returns the custodied balance that has not been disbursed.
func (e *Escrow) Remaining() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(cloneBigInt(e.TotalAmount), cloneBigInt(e.TotalReleased))
}

// AllReleased reports whether every milestone has been paid out.
func (e *Escrow) AllReleased() bool {
	if e == nil || len(e.Milestones) == 0 {
		return false
	}
	for _, m := range e.Milestones {
		if m == nil || m.Status != MilestoneReleased {
			return false
		}
	}
	return true
}

// IsParty reports whether addr is the depositor or the recipient.
func (e *Escrow) IsParty(addr [20]byte) bool {
	return e != nil && (addr == e.Depositor || addr == e.Recipient)
}

// NormalizeToken trims and upper-cases a token symbol.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" || len(trimmed) > maxTokenLength {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedToken, symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedToken, symbol)
		}
	}
	return trimmed, nil
}

// SanitizeEscrow validates the structural invariants of a stored escrow and
// returns a normalised clone. It is applied on every write so a corrupt
// record can never reach storage.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Depositor == clone.Recipient {
		return nil, ErrSelfDealing
	}
	if len(clone.Milestones) == 0 || len(clone.Milestones) > MaxMilestones {
		return nil, ErrTooManyMilestones
	}
	sum := big.NewInt(0)
	for i, m := range clone.Milestones {
		if m == nil {
			return nil, fmt.Errorf("escrow: milestone %d is nil", i)
		}
		if m.Amount.Sign() <= 0 || m.Amount.Cmp(maxAmount) > 0 {
			return nil, fmt.Errorf("%w: milestone %d", ErrInvalidMilestoneAmount, i)
		}
		if !m.Status.Valid() {
			return nil, fmt.Errorf("escrow: invalid milestone status %d", m.Status)
		}
		sum.Add(sum, m.Amount)
	}
	if clone.TotalAmount.Cmp(sum) != 0 {
		return nil, fmt.Errorf("escrow: total %s does not match milestone sum %s", clone.TotalAmount, sum)
	}
	if clone.TotalReleased.Sign() < 0 || clone.TotalReleased.Cmp(clone.TotalAmount) > 0 {
		return nil, fmt.Errorf("escrow: released amount %s out of range", clone.TotalReleased)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid escrow status: %d", clone.Status)
	}
	if !clone.Resolution.Valid() {
		return nil, fmt.Errorf("escrow: invalid resolution: %d", clone.Resolution)
	}
	if clone.Deadline <= 0 || clone.CreatedAt < 0 {
		return nil, ErrInvalidDeadline
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
