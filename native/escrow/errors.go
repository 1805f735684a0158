package escrow

import (
	"errors"
	"fmt"

	"vaultix/native/common"
)

var (
	ErrNotInitialized     = errors.New("escrow: contract not initialized")
	ErrAlreadyInitialized = errors.New("escrow: contract already initialized")
	// ErrContractPaused wraps common.ErrModulePaused so generic pause handling
	// recognises it.
	ErrContractPaused = fmt.Errorf("escrow: contract paused: %w", common.ErrModulePaused)
	ErrUnauthorized   = errors.New("escrow: unauthorized")

	ErrEscrowNotFound    = errors.New("escrow: escrow not found")
	ErrDuplicateEscrowID = errors.New("escrow: escrow id already exists")

	ErrZeroAmount             = errors.New("escrow: milestone amount must be positive")
	ErrInvalidMilestoneAmount = errors.New("escrow: milestone amount out of range")
	ErrTooManyMilestones      = fmt.Errorf("escrow: milestone count must be between 1 and %d", MaxMilestones)
	ErrInvalidDescription     = fmt.Errorf("escrow: milestone description exceeds %d bytes", MaxDescriptionLength)
	ErrSelfDealing            = errors.New("escrow: depositor and recipient must differ")
	ErrUnsupportedToken       = errors.New("escrow: unsupported token")
	ErrInvalidDeadline        = errors.New("escrow: deadline must be a positive unix timestamp")
	ErrInvalidAddress         = errors.New("escrow: address must not be zero")
	ErrVaultAddress           = fmt.Errorf("%w: custody vault cannot be a party or treasury", ErrInvalidAddress)
	ErrInvalidFeeBps          = fmt.Errorf("escrow: fee must not exceed %d bps", MaxFeeBps)

	ErrInvalidMilestoneIndex    = errors.New("escrow: milestone index out of range")
	ErrMilestoneAlreadyReleased = errors.New("escrow: milestone already released")

	// ErrConditionsNotMet is the umbrella for operations attempted while the
	// escrow is in the wrong state.
	ErrConditionsNotMet  = errors.New("escrow: conditions not met")
	ErrEscrowNotActive   = fmt.Errorf("%w: escrow not active", ErrConditionsNotMet)
	ErrEscrowDisputed    = fmt.Errorf("%w: escrow is disputed", ErrConditionsNotMet)
	ErrMilestonesPending = fmt.Errorf("%w: milestones pending release", ErrConditionsNotMet)

	ErrEscrowAlreadyFunded     = errors.New("escrow: escrow already funded")
	ErrEscrowAlreadyDisputed   = errors.New("escrow: escrow already disputed")
	ErrEscrowNotDisputed       = errors.New("escrow: escrow not disputed")
	ErrInvalidResolution       = errors.New("escrow: invalid resolution")
	ErrInvalidStatusTransition = errors.New("escrow: invalid status transition")

	ErrInvalidStatusForRefund = errors.New("escrow: escrow not eligible for refund")
	ErrDeadlineNotReached     = errors.New("escrow: deadline not reached")
	ErrNoFundsToRefund        = errors.New("escrow: no funds to refund")
	ErrInsufficientFunds      = errors.New("escrow: insufficient funds")

	ErrAuditBatchTooLarge = fmt.Errorf("escrow: audit batch exceeds %d escrows", MaxAuditBatch)
	ErrInvalidAuditRange  = errors.New("escrow: audit range start exceeds end")
)

type errorCode struct {
	err  error
	code uint32
}

// Ordered so umbrella errors (ErrConditionsNotMet, ErrInvalidAddress) match
// only after their specific variants.
var errorCodes = []errorCode{
	{ErrEscrowNotFound, 1},
	{ErrUnauthorized, 2},
	{ErrInvalidStatusTransition, 3},
	{ErrInsufficientFunds, 4},
	{ErrMilestoneAlreadyReleased, 5},
	{ErrDuplicateEscrowID, 6},
	{ErrZeroAmount, 7},
	{ErrSelfDealing, 8},
	{ErrEscrowNotActive, 9},
	{ErrEscrowDisputed, 10},
	{ErrMilestonesPending, 11},
	{ErrConditionsNotMet, 12},
	{ErrTooManyMilestones, 13},
	{ErrInvalidMilestoneIndex, 14},
	{ErrInvalidMilestoneAmount, 15},
	{ErrEscrowAlreadyFunded, 16},
	{ErrEscrowAlreadyDisputed, 17},
	{ErrEscrowNotDisputed, 18},
	{ErrInvalidResolution, 19},
	{ErrNoFundsToRefund, 20},
	{ErrDeadlineNotReached, 21},
	{ErrInvalidStatusForRefund, 22},
	{ErrContractPaused, 23},
	{ErrNotInitialized, 24},
	{ErrAlreadyInitialized, 25},
	{ErrInvalidFeeBps, 26},
	{ErrVaultAddress, 32},
	{ErrInvalidAddress, 27},
	{ErrUnsupportedToken, 28},
	{ErrInvalidDeadline, 29},
	{ErrInvalidDescription, 30},
	{ErrAuditBatchTooLarge, 31},
	{ErrInvalidAuditRange, 33},
}

// ErrorCode maps an escrow error to its stable numeric code. Zero means the
// error is not an escrow domain error.
func ErrorCode(err error) uint32 {
	if err == nil {
		return 0
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return 0
}
