package escrow

import (
	"math/big"
	"strconv"

	"vaultix/core/types"
	"vaultix/crypto"
)

const (
	EventTypeInitialized       = "escrow.initialized"
	EventTypePaused            = "escrow.paused"
	EventTypeFeeUpdated        = "escrow.fee_updated"
	EventTypeCreated           = "escrow.created"
	EventTypeFunded            = "escrow.funded"
	EventTypeMilestoneReleased = "escrow.milestone_released"
	EventTypeCompleted         = "escrow.completed"
	EventTypeCancelled         = "escrow.cancelled"
	EventTypeDisputed          = "escrow.disputed"
	EventTypeResolved          = "escrow.resolved"
	EventTypeExpired           = "escrow.expired"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt.Clone() }

func formatAddress(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

// NewInitializedEvent describes the one-time contract configuration.
func NewInitializedEvent(cfg *Config) *types.Event {
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"admin":    formatAddress(cfg.Admin),
			"treasury": formatAddress(cfg.Treasury),
			"feeBps":   strconv.FormatUint(uint64(cfg.FeeBps), 10),
		},
	}
}

// NewPausedEvent reports a change of the pause switch.
func NewPausedEvent(cfg *Config) *types.Event {
	return &types.Event{
		Type: EventTypePaused,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(cfg.Paused),
		},
	}
}

// NewFeeUpdatedEvent reports a fee change.
func NewFeeUpdatedEvent(previous, next uint32) *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"previousFeeBps": strconv.FormatUint(uint64(previous), 10),
			"feeBps":         strconv.FormatUint(uint64(next), 10),
		},
	}
}

func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

func NewFundedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeFunded, e) }

func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCompleted, e) }

// NewMilestoneReleasedEvent carries the index and amount paid to the recipient.
func NewMilestoneReleasedEvent(e *Escrow, index int, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeMilestoneReleased, e)
	evt.Attributes["milestone"] = strconv.Itoa(index)
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

// NewCancelledEvent carries the fee and refund split of a cancellation.
func NewCancelledEvent(e *Escrow, fee, refund *big.Int) *types.Event {
	return withSettlement(newEscrowEvent(EventTypeCancelled, e), fee, refund)
}

// NewExpiredEvent carries the fee and refund split of a post-deadline refund.
func NewExpiredEvent(e *Escrow, fee, refund *big.Int) *types.Event {
	return withSettlement(newEscrowEvent(EventTypeExpired, e), fee, refund)
}

// NewDisputedEvent records which party froze the escrow.
func NewDisputedEvent(e *Escrow, raisedBy [20]byte) *types.Event {
	evt := newEscrowEvent(EventTypeDisputed, e)
	evt.Attributes["raisedBy"] = formatAddress(raisedBy)
	return evt
}

// NewResolvedEvent records the adjudicated outcome and the amount paid out.
func NewResolvedEvent(e *Escrow, payout *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeResolved, e)
	evt.Attributes["resolution"] = e.Resolution.String()
	evt.Attributes["payout"] = cloneBigInt(payout).String()
	return evt
}

func withSettlement(evt *types.Event, fee, refund *big.Int) *types.Event {
	evt.Attributes["fee"] = cloneBigInt(fee).String()
	evt.Attributes["refund"] = cloneBigInt(refund).String()
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["id"] = strconv.FormatUint(e.ID, 10)
		attrs["depositor"] = formatAddress(e.Depositor)
		attrs["recipient"] = formatAddress(e.Recipient)
		attrs["token"] = e.Token
		attrs["totalAmount"] = cloneBigInt(e.TotalAmount).String()
		attrs["totalReleased"] = cloneBigInt(e.TotalReleased).String()
		attrs["status"] = e.Status.String()
		attrs["milestones"] = strconv.Itoa(len(e.Milestones))
		attrs["deadline"] = strconv.FormatInt(e.Deadline, 10)
		attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
