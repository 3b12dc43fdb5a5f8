package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"xsettle/core/events"
	"xsettle/core/types"
	"xsettle/native/common"
)

const moduleName = "escrow"

var (
	errNilState = errors.New("escrow engine: state not configured")
)

// engineState is the persistence surface the engine drives. Implementations
// must return defensive copies and apply writes synchronously; the engine
// relies on a flag written through EscrowPut being visible before any
// subsequent external transfer runs.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowDelete(id [32]byte) error
	EscrowNextSequence() (uint64, error)
	EscrowIndexParty(party [20]byte, id [32]byte) error
	EscrowsOf(party [20]byte) ([][32]byte, error)
	EscrowCredit(id [32]byte, asset AssetKind, amount *big.Int) error
	EscrowDebit(id [32]byte, asset AssetKind, amount *big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// LegPayout reports the split applied when a locally hosted leg is released.
type LegPayout struct {
	Side string
	Net  *big.Int
	Fee  *big.Int
}

// Engine owns every escrow record created on this ledger instance. It
// validates caller identity and state transitions, applies the fee policy at
// release time, and performs asset movements for legs hosted here. Legs
// hosted on another ledger are never touched; that instance settles them when
// it independently observes both confirmations.
//
// The engine is single-threaded with respect to its own state: the host
// environment serializes operations. The busy flag below guards against
// logical reentrancy only — an external transfer calling back into the
// engine mid-operation fails fast with ErrReentrantCall.
type Engine struct {
	state           engineState
	emitter         events.Emitter
	policy          FeePolicy
	ledgerID        string
	defaultDuration int64
	pauses          common.PauseView
	nowFn           func() int64
	logger          *slog.Logger
	busy            bool
}

// NewEngine creates an engine bound to the given ledger identifier, with a
// no-op emitter and the wall clock. Callers configure state, policy and
// emitter via the setters.
func NewEngine(ledgerID string) *Engine {
	return &Engine{
		ledgerID:        ledgerID,
		emitter:         events.NoopEmitter{},
		defaultDuration: int64(24 * time.Hour / time.Second),
		nowFn:           func() int64 { return time.Now().Unix() },
		logger:          slog.Default(),
	}
}

// LedgerID returns the identifier of the ledger this instance settles for.
func (e *Engine) LedgerID() string { return e.ledgerID }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPolicy swaps the fee policy. The change affects future releases only;
// in-flight operations keep the policy they started with.
func (e *Engine) SetPolicy(p FeePolicy) { e.policy = p }

// Policy returns the currently configured fee policy.
func (e *Engine) Policy() FeePolicy { return e.policy }

// SetDefaultDuration configures the expiry window substituted when a proposal
// supplies a zero duration.
func (e *Engine) SetDefaultDuration(seconds int64) {
	if seconds > 0 {
		e.defaultDuration = seconds
	}
}

// DefaultDuration returns the configured default expiry window in seconds.
func (e *Engine) DefaultDuration() int64 { return e.defaultDuration }

// SetPauses wires the administrative pause switch for the escrow module.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger configures the structured logger used for the single documented
// swallowed failure (fee collector transfer during release).
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		e.logger = slog.Default()
		return
	}
	e.logger = logger
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(engineEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// begin runs the shared entry checks for a mutating operation and arms the
// reentrancy guard. Every exit path of the caller must go through end.
func (e *Engine) begin() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.busy {
		return ErrReentrantCall
	}
	e.busy = true
	return nil
}

func (e *Engine) end() { e.busy = false }

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	return e.state.EscrowPut(esc)
}

// removeEscrow unwinds a record from a partially failed Propose. A failure
// here leaves nothing actionable, so it is logged and dropped.
func (e *Engine) removeEscrow(id [32]byte) {
	if err := e.state.EscrowDelete(id); err != nil {
		e.logger.Error("escrow record cleanup failed",
			"id", hex.EncodeToString(id[:]), "err", err)
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Propose allocates and persists a new escrow record. No assets move and no
// caller-identity restriction applies: any party may initiate on behalf of a
// seller/buyer pair. A zero duration is replaced by the configured default.
func (e *Engine) Propose(seller, buyer [20]byte, sellerLeg, buyerLeg AssetLeg, sellerHost, buyerHost string, duration int64) (*Escrow, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	if sellerLeg.Amount == nil || sellerLeg.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: seller leg amount must be positive")
	}
	if buyerLeg.Amount == nil || buyerLeg.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: buyer leg amount must be positive")
	}
	if duration < 0 {
		return nil, fmt.Errorf("escrow: duration must not be negative")
	}
	if duration == 0 {
		duration = e.defaultDuration
	}

	now := e.now()
	seq, err := e.state.EscrowNextSequence()
	if err != nil {
		return nil, err
	}
	id := ethcrypto.Keccak256Hash(seller[:], buyer[:], encodeUint64(uint64(now)), encodeUint64(seq))
	if _, exists := e.state.EscrowGet(id); exists {
		return nil, fmt.Errorf("escrow: identifier collision for sequence %d", seq)
	}

	esc := &Escrow{
		ID:         id,
		Seller:     seller,
		Buyer:      buyer,
		SellerLeg:  AssetLeg{Asset: sellerLeg.Asset, Amount: cloneBigInt(sellerLeg.Amount)},
		BuyerLeg:   AssetLeg{Asset: buyerLeg.Asset, Amount: cloneBigInt(buyerLeg.Amount)},
		SellerHost: sellerHost,
		BuyerHost:  buyerHost,
		CreatedAt:  now,
		ExpiresAt:  now + duration,
	}
	sanitized, err := Sanitize(esc)
	if err != nil {
		return nil, err
	}
	if err := e.storeEscrow(sanitized); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexParty(seller, id); err != nil {
		e.removeEscrow(id)
		return nil, err
	}
	if err := e.state.EscrowIndexParty(buyer, id); err != nil {
		e.removeEscrow(id)
		return nil, err
	}
	e.emit(NewProposedEvent(sanitized))
	return sanitized.Clone(), nil
}

// SellerDeposit funds the seller leg. For native legs the caller attaches at
// least the declared amount; for token legs exactly the declared amount is
// pulled from the caller's balance.
func (e *Engine) SellerDeposit(id [32]byte, caller [20]byte, attached *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.deposit(id, caller, attached, SideSeller)
}

// BuyerDeposit funds the buyer leg.
func (e *Engine) BuyerDeposit(id [32]byte, caller [20]byte, attached *big.Int) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.deposit(id, caller, attached, SideBuyer)
}

func (e *Engine) deposit(id [32]byte, caller [20]byte, attached *big.Int, side string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status().Terminal() {
		return ErrInvalidStatus
	}

	var party [20]byte
	var leg *AssetLeg
	var host string
	if side == SideSeller {
		party, leg, host = esc.Seller, &esc.SellerLeg, esc.SellerHost
	} else {
		party, leg, host = esc.Buyer, &esc.BuyerLeg, esc.BuyerHost
	}
	if caller != party {
		return ErrNotParticipant
	}
	if e.now() > esc.ExpiresAt {
		return ErrExpired
	}
	if leg.Deposited {
		return ErrAlreadyDeposited
	}
	if host != e.ledgerID {
		return ErrWrongHostLedger
	}

	// The flag is persisted before the transfer so a reentrant observer sees
	// a record that is already past the point it could re-trigger.
	leg.Deposited = true
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.collectDeposit(esc.ID, caller, leg.Asset, leg.Amount, attached); err != nil {
		leg.Deposited = false
		if putErr := e.storeEscrow(esc); putErr != nil {
			return putErr
		}
		return err
	}
	e.emit(NewDepositedEvent(esc, side))
	return nil
}

// collectDeposit moves the leg amount from the payer into the escrow's
// custody balance. The asset tag is resolved here, at the transfer boundary.
func (e *Engine) collectDeposit(id [32]byte, payer [20]byte, asset AssetKind, amount, attached *big.Int) error {
	switch asset.Class {
	case AssetNative:
		if attached == nil || attached.Cmp(amount) < 0 {
			return fmt.Errorf("%w: attached value below declared amount %s", ErrInsufficientDeposit, amount)
		}
	case AssetToken:
		// Token legs pull exactly the declared amount; any attached value
		// is ignored.
	default:
		return fmt.Errorf("escrow: unsupported asset class %d", asset.Class)
	}
	if err := e.debitAccount(payer, asset, amount); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(id, asset, amount); err != nil {
		// Return the pulled funds before surfacing the failure.
		if undoErr := e.creditAccount(payer, asset, amount); undoErr != nil {
			return fmt.Errorf("%w: %v (restore failed: %v)", ErrTransferFailed, err, undoErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// SellerConfirm records the seller's approval of the settlement. Once both
// parties have confirmed, every locally hosted leg is released.
func (e *Engine) SellerConfirm(id [32]byte, caller [20]byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.confirm(id, caller, SideSeller)
}

// BuyerConfirm records the buyer's approval of the settlement.
func (e *Engine) BuyerConfirm(id [32]byte, caller [20]byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()
	return e.confirm(id, caller, SideBuyer)
}

func (e *Engine) confirm(id [32]byte, caller [20]byte, side string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	snapshot := esc.Clone()
	if esc.Status().Terminal() {
		return ErrInvalidStatus
	}

	var party [20]byte
	var leg *AssetLeg
	if side == SideSeller {
		party, leg = esc.Seller, &esc.SellerLeg
	} else {
		party, leg = esc.Buyer, &esc.BuyerLeg
	}
	if caller != party {
		return ErrNotParticipant
	}
	if e.now() > esc.ExpiresAt {
		return ErrExpired
	}
	if leg.Confirmed {
		return ErrAlreadyConfirmed
	}
	if !esc.FullyFunded() {
		return ErrInvalidStatus
	}

	leg.Confirmed = true
	if err := e.storeEscrow(esc); err != nil {
		return err
	}

	var payouts []LegPayout
	if esc.SellerLeg.Confirmed && esc.BuyerLeg.Confirmed {
		payouts, err = e.release(esc)
		if err != nil {
			if putErr := e.storeEscrow(snapshot); putErr != nil {
				return putErr
			}
			return err
		}
	}
	e.emit(NewConfirmedEvent(esc, side))
	if payouts != nil {
		e.emit(NewCompletedEvent(esc, payouts))
	}
	return nil
}

// release pays out every locally hosted leg exactly once: the net amount to
// the leg owner's counterparty and the fee to the configured collector.
// Collector transfer failure is logged and swallowed so an unreachable fee
// sink can never block a settlement both parties confirmed; counterparty
// transfer failure is fatal and undoes the balance movements already applied.
func (e *Engine) release(esc *Escrow) ([]LegPayout, error) {
	type pendingLeg struct {
		side      string
		leg       *AssetLeg
		recipient [20]byte
	}
	pending := make([]pendingLeg, 0, 2)
	if esc.SellerHost == e.ledgerID && esc.SellerLeg.Deposited && !esc.SellerLeg.Released {
		pending = append(pending, pendingLeg{SideSeller, &esc.SellerLeg, esc.Buyer})
	}
	if esc.BuyerHost == e.ledgerID && esc.BuyerLeg.Deposited && !esc.BuyerLeg.Released {
		pending = append(pending, pendingLeg{SideBuyer, &esc.BuyerLeg, esc.Seller})
	}

	var undo []func() error
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				e.logger.Error("escrow release rollback failed",
					"id", hex.EncodeToString(esc.ID[:]), "err", err)
			}
		}
	}

	payouts := make([]LegPayout, 0, len(pending))
	for _, p := range pending {
		p.leg.Released = true
		if err := e.storeEscrow(esc); err != nil {
			rollback()
			return nil, err
		}
		net, fee, err := e.policy.Apply(p.leg.Amount, nil)
		if err != nil {
			rollback()
			return nil, err
		}
		amount := cloneBigInt(p.leg.Amount)
		asset := p.leg.Asset
		if err := e.state.EscrowDebit(esc.ID, asset, amount); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: custody debit: %v", ErrTransferFailed, err)
		}
		undo = append(undo, func() error { return e.state.EscrowCredit(esc.ID, asset, amount) })
		recipient := p.recipient
		if err := e.creditAccount(recipient, asset, net); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: payout to counterparty: %v", ErrTransferFailed, err)
		}
		netCopy := cloneBigInt(net)
		undo = append(undo, func() error { return e.debitAccount(recipient, asset, netCopy) })
		if fee.Sign() > 0 {
			if err := e.creditAccount(e.policy.Collector, asset, fee); err != nil {
				e.logger.Warn("fee collector transfer failed during release",
					"id", hex.EncodeToString(esc.ID[:]),
					"asset", asset.String(),
					"fee", fee.String(),
					"err", err)
			} else {
				// A swallowed fee failure needs no undo, but a fee that did
				// land must come back if a later leg aborts the release.
				collector := e.policy.Collector
				feeCopy := cloneBigInt(fee)
				undo = append(undo, func() error { return e.debitAccount(collector, asset, feeCopy) })
			}
		}
		payouts = append(payouts, LegPayout{Side: p.side, Net: net, Fee: fee})
	}

	esc.CompletedAt = e.now()
	if err := e.storeEscrow(esc); err != nil {
		rollback()
		return nil, err
	}
	return payouts, nil
}

// Cancel tears down an escrow that never became fully funded, returning any
// locally hosted deposit to its depositor. Either party may cancel.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	snapshot := esc.Clone()
	if esc.Status().Terminal() {
		return ErrInvalidStatus
	}
	if caller != esc.Seller && caller != esc.Buyer {
		return ErrNotParticipant
	}
	if esc.FullyFunded() {
		return ErrInvalidStatus
	}
	if e.now() > esc.ExpiresAt {
		return ErrExpired
	}

	esc.Cancelled = true
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.refundLocalDeposits(esc); err != nil {
		if putErr := e.storeEscrow(snapshot); putErr != nil {
			return putErr
		}
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// RefundExpired returns locally hosted deposits of an expired escrow to their
// original depositors. It is permissionless: anyone may call it, keeping
// stuck funds recoverable without either party's cooperation.
func (e *Engine) RefundExpired(id [32]byte) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	snapshot := esc.Clone()
	if esc.Status().Terminal() {
		return ErrInvalidStatus
	}
	if e.now() <= esc.ExpiresAt {
		return ErrInvalidStatus
	}

	esc.Refunded = true
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.refundLocalDeposits(esc); err != nil {
		if putErr := e.storeEscrow(snapshot); putErr != nil {
			return putErr
		}
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

// refundLocalDeposits returns every locally hosted, deposited and unreleased
// leg in full to its original depositor. No fee applies to refunds.
func (e *Engine) refundLocalDeposits(esc *Escrow) error {
	type refundLeg struct {
		leg       *AssetLeg
		depositor [20]byte
	}
	pending := make([]refundLeg, 0, 2)
	if esc.SellerHost == e.ledgerID && esc.SellerLeg.Deposited && !esc.SellerLeg.Released {
		pending = append(pending, refundLeg{&esc.SellerLeg, esc.Seller})
	}
	if esc.BuyerHost == e.ledgerID && esc.BuyerLeg.Deposited && !esc.BuyerLeg.Released {
		pending = append(pending, refundLeg{&esc.BuyerLeg, esc.Buyer})
	}

	var undo []func() error
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				e.logger.Error("escrow refund rollback failed",
					"id", hex.EncodeToString(esc.ID[:]), "err", err)
			}
		}
	}

	for _, p := range pending {
		p.leg.Released = true
		if err := e.storeEscrow(esc); err != nil {
			rollback()
			return err
		}
		amount := cloneBigInt(p.leg.Amount)
		asset := p.leg.Asset
		if err := e.state.EscrowDebit(esc.ID, asset, amount); err != nil {
			rollback()
			return fmt.Errorf("%w: custody debit: %v", ErrTransferFailed, err)
		}
		undo = append(undo, func() error { return e.state.EscrowCredit(esc.ID, asset, amount) })
		depositor := p.depositor
		if err := e.creditAccount(depositor, asset, amount); err != nil {
			rollback()
			return fmt.Errorf("%w: refund to depositor: %v", ErrTransferFailed, err)
		}
	}
	return nil
}

// RaiseDispute flags the escrow as disputed. The flag is orthogonal to the
// lifecycle: it blocks nothing here, and resolution happens off-engine. The
// operation is idempotent.
func (e *Engine) RaiseDispute(id [32]byte, caller [20]byte, resolver [20]byte, reason string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status().Terminal() {
		return ErrInvalidStatus
	}
	if caller != esc.Seller && caller != esc.Buyer {
		return ErrNotParticipant
	}
	if esc.Disputed {
		return nil
	}
	esc.Disputed = true
	esc.DisputeResolver = resolver
	esc.DisputeReason = reason
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputeRaisedEvent(esc))
	return nil
}

// Get returns a copy of the record. Pure read, no authorization.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadEscrow(id)
}

// EscrowsOf lists the ids of every escrow the party participates in, in
// creation order. Discovery only: authorization is always re-checked against
// the record itself.
func (e *Engine) EscrowsOf(party [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowsOf(party)
}

// IsActive reports whether the record exists, is non-terminal and has not
// expired.
func (e *Engine) IsActive(id [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	if esc.Status().Terminal() {
		return false, nil
	}
	return e.now() <= esc.ExpiresAt, nil
}

// creditAccount adds amount to the recipient's balance for the given asset.
func (e *Engine) creditAccount(addr [20]byte, asset AssetKind, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative credit amount")
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Normalize()
	switch asset.Class {
	case AssetNative:
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
	case AssetToken:
		bal := acc.TokenBalance(asset.Token)
		acc.SetTokenBalance(asset.Token, bal.Add(bal, amount))
	default:
		return fmt.Errorf("escrow: unsupported asset class %d", asset.Class)
	}
	return e.state.PutAccount(addr, acc)
}

// debitAccount removes amount from the payer's balance for the given asset.
// A shortfall surfaces as ErrInsufficientDeposit.
func (e *Engine) debitAccount(addr [20]byte, asset AssetKind, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative debit amount")
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc.Normalize()
	switch asset.Class {
	case AssetNative:
		if acc.Balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: native balance %s below %s", ErrInsufficientDeposit, acc.Balance, amount)
		}
		acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	case AssetToken:
		bal := acc.TokenBalance(asset.Token)
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s balance %s below %s", ErrInsufficientDeposit, asset.Token, bal, amount)
		}
		acc.SetTokenBalance(asset.Token, bal.Sub(bal, amount))
	default:
		return fmt.Errorf("escrow: unsupported asset class %d", asset.Class)
	}
	return e.state.PutAccount(addr, acc)
}
