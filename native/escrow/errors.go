package escrow

import "errors"

// Typed failure conditions surfaced by the engine. Every mutating operation
// validates against these before touching state; callers match with
// errors.Is.
var (
	// ErrNotFound means no escrow record exists under the supplied id.
	ErrNotFound = errors.New("escrow: not found")
	// ErrNotParticipant means the caller is neither the seller nor the
	// buyer of the record it tried to act on.
	ErrNotParticipant = errors.New("escrow: caller is not a participant")
	// ErrInvalidStatus means the operation is not legal in the record's
	// current state.
	ErrInvalidStatus = errors.New("escrow: operation not allowed in current status")
	// ErrExpired means the record's expiry has passed and only refund
	// paths remain available.
	ErrExpired = errors.New("escrow: record expired")
	// ErrAlreadyDeposited means the leg was already funded; deposits are
	// strictly once per leg.
	ErrAlreadyDeposited = errors.New("escrow: leg already deposited")
	// ErrAlreadyConfirmed means the party already confirmed; confirmation
	// is a one-way ratchet.
	ErrAlreadyConfirmed = errors.New("escrow: party already confirmed")
	// ErrInsufficientDeposit means the attached or pulled amount was below
	// the leg's declared amount.
	ErrInsufficientDeposit = errors.New("escrow: insufficient deposit")
	// ErrWrongHostLedger means the leg's assets live on a different ledger
	// instance and cannot be moved here.
	ErrWrongHostLedger = errors.New("escrow: leg hosted on another ledger")
	// ErrTransferFailed means a mandatory payout leg failed; the whole
	// operation is rolled back.
	ErrTransferFailed = errors.New("escrow: transfer failed")
	// ErrReentrantCall means a mutating operation was re-entered while an
	// earlier one was still executing.
	ErrReentrantCall = errors.New("escrow: reentrant call")
)
