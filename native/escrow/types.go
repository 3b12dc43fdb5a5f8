package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetClass distinguishes the ledger's native asset from fungible tokens.
type AssetClass uint8

const (
	AssetNative AssetClass = iota
	AssetToken
)

// AssetKind identifies what an escrow leg is denominated in. Native legs
// carry no token symbol; token legs name the fungible asset they move. The
// distinction is resolved by a single switch at the transfer boundary.
type AssetKind struct {
	Class AssetClass
	Token string
}

// NativeAsset returns the AssetKind for the ledger's native asset.
func NativeAsset() AssetKind { return AssetKind{Class: AssetNative} }

// TokenAsset returns the AssetKind for the named fungible token.
func TokenAsset(symbol string) AssetKind {
	return AssetKind{Class: AssetToken, Token: strings.ToUpper(strings.TrimSpace(symbol))}
}

// Normalize canonicalises the asset kind, rejecting malformed combinations.
func (a AssetKind) Normalize() (AssetKind, error) {
	switch a.Class {
	case AssetNative:
		if strings.TrimSpace(a.Token) != "" {
			return AssetKind{}, fmt.Errorf("native asset must not carry a token symbol")
		}
		return AssetKind{Class: AssetNative}, nil
	case AssetToken:
		symbol := strings.ToUpper(strings.TrimSpace(a.Token))
		if symbol == "" {
			return AssetKind{}, fmt.Errorf("token asset requires a symbol")
		}
		return AssetKind{Class: AssetToken, Token: symbol}, nil
	default:
		return AssetKind{}, fmt.Errorf("unsupported asset class %d", a.Class)
	}
}

// String renders the asset for events and logs.
func (a AssetKind) String() string {
	if a.Class == AssetNative {
		return "native"
	}
	return "token:" + a.Token
}

// AssetLeg is one side of an escrow: the asset a party has promised, and the
// funding, confirmation and payout progress of that promise.
type AssetLeg struct {
	Asset     AssetKind
	Amount    *big.Int
	Deposited bool
	Confirmed bool
	Released  bool
}

// Clone returns a deep copy of the leg.
func (l AssetLeg) Clone() AssetLeg {
	clone := l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

// Status enumerates the lifecycle states of an escrow record.
type Status uint8

const (
	StatusCreated Status = iota
	StatusSellerDeposited
	StatusBuyerDeposited
	StatusFullyFunded
	StatusSellerConfirmed
	StatusBuyerConfirmed
	StatusCompleted
	StatusCancelled
	StatusRefunded
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusSellerDeposited:
		return "seller_deposited"
	case StatusBuyerDeposited:
		return "buyer_deposited"
	case StatusFullyFunded:
		return "fully_funded"
	case StatusSellerConfirmed:
		return "seller_confirmed"
	case StatusBuyerConfirmed:
		return "buyer_confirmed"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Escrow is a single two-leg settlement record. The engine that created it
// exclusively owns it; parties only hold the ID and the capability to act on
// records naming them.
//
// The lifecycle status is never stored: it is recomputed from the leg flags
// and terminal markers via Status(), so the displayed state cannot diverge
// from the underlying booleans.
type Escrow struct {
	ID     [32]byte
	Seller [20]byte
	Buyer  [20]byte

	SellerLeg AssetLeg
	BuyerLeg  AssetLeg

	// Host ledger identifiers per leg. An engine instance only ever moves
	// assets for legs whose host equals its own ledger ID.
	SellerHost string
	BuyerHost  string

	CreatedAt   int64
	ExpiresAt   int64
	CompletedAt int64

	Cancelled bool
	Refunded  bool

	Disputed        bool
	DisputeResolver [20]byte
	DisputeReason   string
}

// Status derives the lifecycle state from the record's flags.
func (e *Escrow) Status() Status {
	switch {
	case e == nil:
		return StatusCreated
	case e.Cancelled:
		return StatusCancelled
	case e.Refunded:
		return StatusRefunded
	case e.CompletedAt != 0:
		return StatusCompleted
	}
	sc, bc := e.SellerLeg.Confirmed, e.BuyerLeg.Confirmed
	sd, bd := e.SellerLeg.Deposited, e.BuyerLeg.Deposited
	switch {
	case sc && bc:
		return StatusCompleted
	case sc:
		return StatusSellerConfirmed
	case bc:
		return StatusBuyerConfirmed
	case sd && bd:
		return StatusFullyFunded
	case sd:
		return StatusSellerDeposited
	case bd:
		return StatusBuyerDeposited
	default:
		return StatusCreated
	}
}

// FullyFunded reports whether both legs have been deposited.
func (e *Escrow) FullyFunded() bool {
	return e != nil && e.SellerLeg.Deposited && e.BuyerLeg.Deposited
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored record.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.SellerLeg = e.SellerLeg.Clone()
	clone.BuyerLeg = e.BuyerLeg.Clone()
	return &clone
}

// Sanitize validates and canonicalises the record, returning a cloned
// instance with normalized asset kinds and non-nil amounts. The original is
// not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	sellerAsset, err := clone.SellerLeg.Asset.Normalize()
	if err != nil {
		return nil, fmt.Errorf("seller leg: %w", err)
	}
	clone.SellerLeg.Asset = sellerAsset
	buyerAsset, err := clone.BuyerLeg.Asset.Normalize()
	if err != nil {
		return nil, fmt.Errorf("buyer leg: %w", err)
	}
	clone.BuyerLeg.Asset = buyerAsset
	if clone.SellerLeg.Amount.Sign() < 0 || clone.BuyerLeg.Amount.Sign() < 0 {
		return nil, fmt.Errorf("leg amounts must be non-negative")
	}
	clone.SellerHost = strings.TrimSpace(clone.SellerHost)
	clone.BuyerHost = strings.TrimSpace(clone.BuyerHost)
	if clone.SellerHost == "" || clone.BuyerHost == "" {
		return nil, fmt.Errorf("host ledger identifiers required")
	}
	return clone, nil
}
