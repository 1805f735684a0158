package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaultix/core/events"
	"vaultix/core/types"
	"vaultix/native/bank"
	"vaultix/native/common"
	"vaultix/observability"
)

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: asset ledger not configured")
)

type engineState interface {
	Update(fn func() error) error
	View(fn func() error) error
	EscrowGet(id uint64) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	EscrowIndexAppend(id uint64) error
	EscrowIndex() ([]uint64, error)
	EscrowConfigGet() (*Config, bool, error)
	EscrowConfigPut(*Config) error
}

// AssetLedger moves fungible balances on behalf of the engine. Debits that
// exceed a balance or allowance must fail with an error wrapping
// bank.ErrInsufficientFunds.
type AssetLedger interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
	TransferFrom(token string, spender, from, to [20]byte, amount *big.Int) error
	Balance(token string, who [20]byte) (*big.Int, error)
}

// DefaultVaultAddress is the custody account used when none is configured.
func DefaultVaultAddress() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("vaultix/escrow/vault"))[12:])
	return out
}

type disbursement struct {
	token  string
	kind   string
	amount *big.Int
}

// txn buffers the side effects of one engine call until its writes commit.
type txn struct {
	cfg       *Config
	events    []*types.Event
	disbursed []disbursement
}

func (tx *txn) emit(evt *types.Event) { tx.events = append(tx.events, evt) }

// Engine implements the milestone escrow state machine. Every call runs inside
// a single state session: preconditions are checked before any transfer, and
// the escrow record together with the ledger movements either commits as a
// whole or leaves state untouched.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  AssetLedger
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	vault   [20]byte
	tokens  map[string]struct{}
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// vault address. Collaborators are attached with the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("vaultix/native/escrow"),
		vault:   DefaultVaultAddress(),
		tokens:  make(map[string]struct{}),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the asset transfer collaborator.
func (e *Engine) SetLedger(ledger AssetLedger) { e.ledger = ledger }

// SetVault overrides the custody account holding escrowed funds. It must be
// called before Initialize so the treasury check sees the final vault.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// Vault returns the custody account.
func (e *Engine) Vault() [20]byte { return e.vault }

// SetAllowedTokens restricts CreateEscrow to the listed symbols. An empty list
// accepts any well-formed symbol.
func (e *Engine) SetAllowedTokens(tokens []string) {
	e.tokens = make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if normalized, err := NormalizeToken(token); err == nil {
			e.tokens[normalized] = struct{}{}
		}
	}
}

// SetLogger overrides the structured logger. Nil restores slog.Default().
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) registry() registry { return registry{state: e.state} }

// execute runs fn inside one state session and publishes its buffered side
// effects only after the session committed.
func (e *Engine) execute(op string, fn func(tx *txn) error, fields ...slog.Attr) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(context.Background(), "escrow."+op, trace.WithAttributes(spanAttributes(fields)...))
	defer span.End()

	tx := &txn{}
	err := e.state.Update(func() error { return fn(tx) })

	metrics := observability.EscrowMetrics()
	attrs := append([]slog.Attr{slog.String("operation", op)}, fields...)
	if err != nil {
		outcome := "error"
		level := slog.LevelError
		if ErrorCode(err) != 0 {
			outcome = "rejected"
			level = slog.LevelDebug
		}
		metrics.Observe(op, err, outcome, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.LogAttrs(ctx, level, "escrow operation failed", append(attrs, slog.String("error", err.Error()))...)
		return err
	}

	metrics.Observe(op, nil, "", time.Since(start))
	for _, d := range tx.disbursed {
		metrics.RecordDisbursement(d.token, d.kind, d.amount)
	}
	if tx.cfg != nil {
		metrics.SetPaused(tx.cfg.Paused)
	}
	for _, evt := range tx.events {
		e.emit(evt)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "escrow operation committed", attrs...)
	return nil
}

func spanAttributes(fields []slog.Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(fields))
	for _, f := range fields {
		out = append(out, attribute.String(f.Key, f.Value.String()))
	}
	return out
}

func (e *Engine) requireConfig(tx *txn) (*Config, error) {
	cfg, ok, err := e.state.EscrowConfigGet()
	if err != nil {
		return nil, fmt.Errorf("escrow: load config: %w", err)
	}
	if !ok || cfg == nil {
		return nil, ErrNotInitialized
	}
	tx.cfg = cfg
	return cfg, nil
}

func (e *Engine) requireRunning(tx *txn) (*Config, error) {
	cfg, err := e.requireConfig(tx)
	if err != nil {
		return nil, err
	}
	if err := common.Guard(cfg, ModuleName); err != nil {
		return nil, ErrContractPaused
	}
	return cfg, nil
}

func (e *Engine) requireLedger() error {
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func transferError(err error) error {
	if errors.Is(err, bank.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return fmt.Errorf("escrow: transfer: %w", err)
}

// pay moves amount out of custody. Zero amounts are skipped.
func (e *Engine) pay(tx *txn, token string, to [20]byte, amount *big.Int, kind string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.ledger.Transfer(token, e.vault, to, amount); err != nil {
		return transferError(err)
	}
	tx.disbursed = append(tx.disbursed, disbursement{token: token, kind: kind, amount: new(big.Int).Set(amount)})
	return nil
}

// settleToDepositor returns the undisbursed remainder to the depositor after
// deducting the current fee for the treasury.
func (e *Engine) settleToDepositor(tx *txn, cfg *Config, esc *Escrow) (fee, refund *big.Int, err error) {
	remainder := esc.Remaining()
	fee = ComputeFee(remainder, cfg.FeeBps)
	refund = new(big.Int).Sub(remainder, fee)
	if err := e.pay(tx, esc.Token, cfg.Treasury, fee, "fee"); err != nil {
		return nil, nil, err
	}
	if err := e.pay(tx, esc.Token, esc.Depositor, refund, "refund"); err != nil {
		return nil, nil, err
	}
	esc.TotalReleased = new(big.Int).Set(esc.TotalAmount)
	return fee, refund, nil
}

func idAttr(id uint64) slog.Attr { return slog.Uint64("escrow_id", id) }

// Initialize writes the contract configuration. It succeeds exactly once. A
// nil feeBps selects DefaultFeeBps.
func (e *Engine) Initialize(admin, treasury [20]byte, feeBps *uint32) error {
	return e.execute("initialize", func(tx *txn) error {
		if _, ok, err := e.state.EscrowConfigGet(); err != nil {
			return fmt.Errorf("escrow: load config: %w", err)
		} else if ok {
			return ErrAlreadyInitialized
		}
		bps := uint32(DefaultFeeBps)
		if feeBps != nil {
			bps = *feeBps
		}
		if err := validateFeeBps(bps); err != nil {
			return err
		}
		var zero [20]byte
		if admin == zero || treasury == zero {
			return ErrInvalidAddress
		}
		if treasury == e.vault {
			return ErrVaultAddress
		}
		cfg := &Config{Admin: admin, Treasury: treasury, FeeBps: bps}
		if err := e.state.EscrowConfigPut(cfg); err != nil {
			return err
		}
		tx.cfg = cfg
		tx.emit(NewInitializedEvent(cfg))
		return nil
	})
}

// SetPaused toggles the pause switch. Only the admin may call it.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	return e.execute("set_paused", func(tx *txn) error {
		cfg, err := e.requireConfig(tx)
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return ErrUnauthorized
		}
		cfg.Paused = paused
		if err := e.state.EscrowConfigPut(cfg); err != nil {
			return err
		}
		tx.emit(NewPausedEvent(cfg))
		return nil
	}, slog.Bool("paused", paused))
}

// UpdateFee changes the fee applied to future depositor-bound settlements.
func (e *Engine) UpdateFee(caller [20]byte, bps uint32) error {
	return e.execute("update_fee", func(tx *txn) error {
		cfg, err := e.requireConfig(tx)
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return ErrUnauthorized
		}
		if err := validateFeeBps(bps); err != nil {
			return err
		}
		previous := cfg.FeeBps
		cfg.FeeBps = bps
		if err := e.state.EscrowConfigPut(cfg); err != nil {
			return err
		}
		tx.emit(NewFeeUpdatedEvent(previous, bps))
		return nil
	}, slog.Uint64("fee_bps", uint64(bps)))
}

// CreateEscrow registers a new escrow in the Created state. No funds move.
func (e *Engine) CreateEscrow(id uint64, depositor, recipient [20]byte, token string, milestones []MilestoneSpec, deadline int64) (*Escrow, error) {
	var created *Escrow
	err := e.execute("create", func(tx *txn) error {
		if _, err := e.requireRunning(tx); err != nil {
			return err
		}
		reg := e.registry()
		if exists, err := reg.exists(id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %d", ErrDuplicateEscrowID, id)
		}
		if len(milestones) == 0 || len(milestones) > MaxMilestones {
			return ErrTooManyMilestones
		}
		total := big.NewInt(0)
		list := make([]*Milestone, len(milestones))
		for i, spec := range milestones {
			if spec.Amount == nil || spec.Amount.Sign() == 0 {
				return fmt.Errorf("%w: milestone %d", ErrZeroAmount, i)
			}
			if spec.Amount.Sign() < 0 || spec.Amount.Cmp(maxAmount) > 0 {
				return fmt.Errorf("%w: milestone %d", ErrInvalidMilestoneAmount, i)
			}
			description := strings.TrimSpace(spec.Description)
			if len(description) > MaxDescriptionLength {
				return fmt.Errorf("%w: milestone %d", ErrInvalidDescription, i)
			}
			total.Add(total, spec.Amount)
			list[i] = &Milestone{Amount: new(big.Int).Set(spec.Amount), Status: MilestonePending, Description: description}
		}
		if total.Cmp(maxAmount) > 0 {
			return fmt.Errorf("%w: total overflows", ErrInvalidMilestoneAmount)
		}
		var zero [20]byte
		if depositor == zero || recipient == zero {
			return ErrInvalidAddress
		}
		if depositor == recipient {
			return ErrSelfDealing
		}
		if depositor == e.vault || recipient == e.vault {
			return ErrVaultAddress
		}
		normalized, err := NormalizeToken(token)
		if err != nil {
			return err
		}
		if len(e.tokens) > 0 {
			if _, ok := e.tokens[normalized]; !ok {
				return fmt.Errorf("%w: %q", ErrUnsupportedToken, token)
			}
		}
		if deadline <= 0 {
			return ErrInvalidDeadline
		}
		esc := &Escrow{
			ID:            id,
			Depositor:     depositor,
			Recipient:     recipient,
			Token:         normalized,
			Milestones:    list,
			TotalAmount:   total,
			TotalReleased: big.NewInt(0),
			Status:        EscrowCreated,
			Resolution:    ResolutionNone,
			Deadline:      deadline,
			CreatedAt:     e.now(),
		}
		if err := reg.insert(esc); err != nil {
			return err
		}
		created = esc.Clone()
		tx.emit(NewCreatedEvent(esc))
		return nil
	}, idAttr(id))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DepositFunds pulls the full escrow amount from the depositor into custody
// and activates the escrow. The depositor must have approved the vault.
func (e *Engine) DepositFunds(id uint64) error {
	return e.execute("deposit", func(tx *txn) error {
		if _, err := e.requireRunning(tx); err != nil {
			return err
		}
		if err := e.requireLedger(); err != nil {
			return err
		}
		reg := e.registry()
		esc, err := reg.get(id)
		if err != nil {
			return err
		}
		switch {
		case esc.Status == EscrowCreated:
		case esc.Status == EscrowCancelled && !esc.Funded:
			return fmt.Errorf("%w: %s escrow cannot be funded", ErrInvalidStatusTransition, esc.Status)
		default:
			return ErrEscrowAlreadyFunded
		}
		if err := e.ledger.TransferFrom(esc.Token, e.vault, esc.Depositor, e.vault, esc.TotalAmount); err != nil {
			return transferError(err)
		}
		esc.Status = EscrowActive
		esc.Funded = true
		if err := reg.put(esc); err != nil {
			return err
		}
		tx.emit(NewFundedEvent(esc))
		return nil
	}, idAttr(id))
}

// ReleaseMilestone pays one pending milestone to the recipient. The host is
// responsible for authorising the call.
func (e *Engine) ReleaseMilestone(id uint64, index int) error {
	return e.execute("release", func(tx *txn) error {
		return e.release(tx, id, index, nil)
	}, idAttr(id), slog.Int("milestone", index))
}

// ConfirmDelivery is ReleaseMilestone authorised by the depositor.
func (e *Engine) ConfirmDelivery(id uint64, index int, caller [20]byte) error {
	return e.execute("confirm_delivery", func(tx *txn) error {
		return e.release(tx, id, index, &caller)
	}, idAttr(id), slog.Int("milestone", index))
}

func (e *Engine) release(tx *txn, id uint64, index int, caller *[20]byte) error {
	if _, err := e.requireConfig(tx); err != nil {
		return err
	}
	if err := e.requireLedger(); err != nil {
		return err
	}
	reg := e.registry()
	esc, err := reg.get(id)
	if err != nil {
		return err
	}
	if caller != nil && *caller != esc.Depositor {
		return ErrUnauthorized
	}
	if esc.Status != EscrowActive {
		return ErrEscrowNotActive
	}
	if index < 0 || index >= len(esc.Milestones) {
		return fmt.Errorf("%w: %d", ErrInvalidMilestoneIndex, index)
	}
	milestone := esc.Milestones[index]
	if milestone.Status != MilestonePending {
		return ErrMilestoneAlreadyReleased
	}
	if err := e.pay(tx, esc.Token, esc.Recipient, milestone.Amount, "release"); err != nil {
		return err
	}
	milestone.Status = MilestoneReleased
	esc.TotalReleased = new(big.Int).Add(esc.TotalReleased, milestone.Amount)
	if err := reg.put(esc); err != nil {
		return err
	}
	tx.emit(NewMilestoneReleasedEvent(esc, index, milestone.Amount))
	return nil
}

// CompleteEscrow closes an escrow whose milestones were all released.
func (e *Engine) CompleteEscrow(id uint64) error {
	return e.execute("complete", func(tx *txn) error {
		if _, err := e.requireConfig(tx); err != nil {
			return err
		}
		reg := e.registry()
		esc, err := reg.get(id)
		if err != nil {
			return err
		}
		if esc.Status != EscrowActive {
			return ErrEscrowNotActive
		}
		if !esc.AllReleased() {
			return ErrMilestonesPending
		}
		esc.Status = EscrowCompleted
		if err := reg.put(esc); err != nil {
			return err
		}
		tx.emit(NewCompletedEvent(esc))
		return nil
	}, idAttr(id))
}

// CancelEscrow cancels on the host's authority. Funded escrows return the
// remainder to the depositor minus the current fee.
func (e *Engine) CancelEscrow(id uint64) error {
	return e.execute("cancel", func(tx *txn) error {
		return e.cancel(tx, id, nil)
	}, idAttr(id))
}

// CancelEscrowBy cancels on behalf of one of the two parties.
func (e *Engine) CancelEscrowBy(id uint64, caller [20]byte) error {
	return e.execute("cancel", func(tx *txn) error {
		return e.cancel(tx, id, &caller)
	}, idAttr(id))
}

func (e *Engine) cancel(tx *txn, id uint64, caller *[20]byte) error {
	cfg, err := e.requireConfig(tx)
	if err != nil {
		return err
	}
	reg := e.registry()
	esc, err := reg.get(id)
	if err != nil {
		return err
	}
	if caller != nil && !esc.IsParty(*caller) {
		return ErrUnauthorized
	}
	switch esc.Status {
	case EscrowDisputed:
		return ErrEscrowDisputed
	case EscrowCreated, EscrowActive:
	default:
		return fmt.Errorf("%w: cannot cancel %s escrow", ErrInvalidStatusTransition, esc.Status)
	}
	fee, refund := big.NewInt(0), big.NewInt(0)
	if esc.Status == EscrowActive {
		if err := e.requireLedger(); err != nil {
			return err
		}
		fee, refund, err = e.settleToDepositor(tx, cfg, esc)
		if err != nil {
			return err
		}
	}
	esc.Status = EscrowCancelled
	if err := reg.put(esc); err != nil {
		return err
	}
	tx.emit(NewCancelledEvent(esc, fee, refund))
	return nil
}

// RaiseDispute freezes an active escrow until the admin resolves it.
func (e *Engine) RaiseDispute(id uint64, caller [20]byte) error {
	return e.execute("raise_dispute", func(tx *txn) error {
		if _, err := e.requireConfig(tx); err != nil {
			return err
		}
		reg := e.registry()
		esc, err := reg.get(id)
		if err != nil {
			return err
		}
		if !esc.IsParty(caller) {
			return ErrUnauthorized
		}
		if esc.Status == EscrowDisputed {
			return ErrEscrowAlreadyDisputed
		}
		if esc.Status != EscrowActive {
			return ErrEscrowNotActive
		}
		esc.Status = EscrowDisputed
		if err := reg.put(esc); err != nil {
			return err
		}
		tx.emit(NewDisputedEvent(esc, caller))
		return nil
	}, idAttr(id))
}

// ResolveDispute settles a disputed escrow in favour of one party. The whole
// remainder goes to the chosen party and no fee is charged.
func (e *Engine) ResolveDispute(id uint64, resolver [20]byte, resolution Resolution) error {
	return e.execute("resolve_dispute", func(tx *txn) error {
		cfg, err := e.requireConfig(tx)
		if err != nil {
			return err
		}
		reg := e.registry()
		esc, err := reg.get(id)
		if err != nil {
			return err
		}
		if resolver != cfg.Admin {
			return ErrUnauthorized
		}
		if esc.Status != EscrowDisputed {
			return ErrEscrowNotDisputed
		}
		if err := e.requireLedger(); err != nil {
			return err
		}
		payout := esc.Remaining()
		switch resolution {
		case ResolutionRecipient:
			if err := e.pay(tx, esc.Token, esc.Recipient, payout, "resolution"); err != nil {
				return err
			}
			for _, m := range esc.Milestones {
				m.Status = MilestoneReleased
			}
			esc.TotalReleased = new(big.Int).Set(esc.TotalAmount)
		case ResolutionDepositor:
			if err := e.pay(tx, esc.Token, esc.Depositor, payout, "resolution"); err != nil {
				return err
			}
			for _, m := range esc.Milestones {
				m.Status = MilestoneDisputed
			}
		default:
			return ErrInvalidResolution
		}
		esc.Status = EscrowResolved
		esc.Resolution = resolution
		if err := reg.put(esc); err != nil {
			return err
		}
		tx.emit(NewResolvedEvent(esc, payout))
		return nil
	}, idAttr(id), slog.String("resolution", resolution.String()))
}

// RefundExpired returns the undisbursed remainder to the depositor once the
// deadline has passed, minus the current fee.
func (e *Engine) RefundExpired(id uint64, caller [20]byte) error {
	return e.execute("refund_expired", func(tx *txn) error {
		cfg, err := e.requireConfig(tx)
		if err != nil {
			return err
		}
		reg := e.registry()
		esc, err := reg.get(id)
		if err != nil {
			return err
		}
		if esc.Status != EscrowActive {
			return ErrInvalidStatusForRefund
		}
		if caller != esc.Depositor {
			return ErrUnauthorized
		}
		if e.now() < esc.Deadline {
			return ErrDeadlineNotReached
		}
		if esc.Remaining().Sign() == 0 {
			return ErrNoFundsToRefund
		}
		if err := e.requireLedger(); err != nil {
			return err
		}
		fee, refund, err := e.settleToDepositor(tx, cfg, esc)
		if err != nil {
			return err
		}
		esc.Status = EscrowExpired
		if err := reg.put(esc); err != nil {
			return err
		}
		tx.emit(NewExpiredEvent(esc, fee, refund))
		return nil
	}, idAttr(id))
}

// GetEscrow returns a copy of the stored escrow.
func (e *Engine) GetEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var out *Escrow
	err := e.state.View(func() error {
		esc, err := e.registry().get(id)
		if err != nil {
			return err
		}
		out = esc.Clone()
		return nil
	})
	return out, err
}

// ListEscrowIDs returns every escrow id in creation order.
func (e *Engine) ListEscrowIDs() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var ids []uint64
	err := e.state.View(func() error {
		var err error
		ids, err = e.registry().ids()
		return err
	})
	return ids, err
}

// Config returns a snapshot of the contract configuration.
func (e *Engine) Config() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var out *Config
	err := e.state.View(func() error {
		cfg, ok, err := e.state.EscrowConfigGet()
		if err != nil {
			return err
		}
		if !ok || cfg == nil {
			return ErrNotInitialized
		}
		out = cfg.Clone()
		return nil
	})
	return out, err
}
