package state

import (
	"fmt"
	"math/big"
	"sort"

	"xsettle/core/types"
	"xsettle/native/escrow"
)

// RLP cannot encode maps or signed integers, so records are flattened into
// stored forms with uint64 timestamps and sorted key/value slices before
// hitting the database.

type storedLeg struct {
	AssetClass uint8
	Token      string
	Amount     *big.Int
	Deposited  bool
	Confirmed  bool
	Released   bool
}

type storedEscrow struct {
	ID     [32]byte
	Seller [20]byte
	Buyer  [20]byte

	SellerLeg storedLeg
	BuyerLeg  storedLeg

	SellerHost string
	BuyerHost  string

	CreatedAt   uint64
	ExpiresAt   uint64
	CompletedAt uint64

	Cancelled bool
	Refunded  bool

	Disputed        bool
	DisputeResolver [20]byte
	DisputeReason   string
}

func legToStored(l escrow.AssetLeg) storedLeg {
	amount := big.NewInt(0)
	if l.Amount != nil {
		amount = new(big.Int).Set(l.Amount)
	}
	return storedLeg{
		AssetClass: uint8(l.Asset.Class),
		Token:      l.Asset.Token,
		Amount:     amount,
		Deposited:  l.Deposited,
		Confirmed:  l.Confirmed,
		Released:   l.Released,
	}
}

func legFromStored(s storedLeg) escrow.AssetLeg {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return escrow.AssetLeg{
		Asset:     escrow.AssetKind{Class: escrow.AssetClass(s.AssetClass), Token: s.Token},
		Amount:    amount,
		Deposited: s.Deposited,
		Confirmed: s.Confirmed,
		Released:  s.Released,
	}
}

func escrowToStored(e *escrow.Escrow) (*storedEscrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	if e.CreatedAt < 0 || e.ExpiresAt < 0 || e.CompletedAt < 0 {
		return nil, fmt.Errorf("escrow timestamps must be non-negative")
	}
	return &storedEscrow{
		ID:              e.ID,
		Seller:          e.Seller,
		Buyer:           e.Buyer,
		SellerLeg:       legToStored(e.SellerLeg),
		BuyerLeg:        legToStored(e.BuyerLeg),
		SellerHost:      e.SellerHost,
		BuyerHost:       e.BuyerHost,
		CreatedAt:       uint64(e.CreatedAt),
		ExpiresAt:       uint64(e.ExpiresAt),
		CompletedAt:     uint64(e.CompletedAt),
		Cancelled:       e.Cancelled,
		Refunded:        e.Refunded,
		Disputed:        e.Disputed,
		DisputeResolver: e.DisputeResolver,
		DisputeReason:   e.DisputeReason,
	}, nil
}

func escrowFromStored(s *storedEscrow) *escrow.Escrow {
	return &escrow.Escrow{
		ID:              s.ID,
		Seller:          s.Seller,
		Buyer:           s.Buyer,
		SellerLeg:       legFromStored(s.SellerLeg),
		BuyerLeg:        legFromStored(s.BuyerLeg),
		SellerHost:      s.SellerHost,
		BuyerHost:       s.BuyerHost,
		CreatedAt:       int64(s.CreatedAt),
		ExpiresAt:       int64(s.ExpiresAt),
		CompletedAt:     int64(s.CompletedAt),
		Cancelled:       s.Cancelled,
		Refunded:        s.Refunded,
		Disputed:        s.Disputed,
		DisputeResolver: s.DisputeResolver,
		DisputeReason:   s.DisputeReason,
	}
}

type tokenBalance struct {
	Symbol string
	Amount *big.Int
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
	Tokens  []tokenBalance
}

func accountToStored(a *types.Account) *storedAccount {
	stored := &storedAccount{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		stored.Balance = new(big.Int).Set(a.Balance)
	}
	symbols := make([]string, 0, len(a.Tokens))
	for symbol, amount := range a.Tokens {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		stored.Tokens = append(stored.Tokens, tokenBalance{
			Symbol: symbol,
			Amount: new(big.Int).Set(a.Tokens[symbol]),
		})
	}
	return stored
}

func accountFromStored(s *storedAccount) *types.Account {
	account := types.NewAccount()
	account.Nonce = s.Nonce
	if s.Balance != nil {
		account.Balance = new(big.Int).Set(s.Balance)
	}
	for _, tb := range s.Tokens {
		account.SetTokenBalance(tb.Symbol, tb.Amount)
	}
	return account
}

type attrPair struct {
	Key   string
	Value string
}

type storedEvent struct {
	Sequence   uint64
	Type       string
	Attributes []attrPair
}

func eventToStored(seq uint64, evt *types.Event) *storedEvent {
	stored := &storedEvent{Sequence: seq, Type: evt.Type}
	keys := make([]string, 0, len(evt.Attributes))
	for key := range evt.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		stored.Attributes = append(stored.Attributes, attrPair{Key: key, Value: evt.Attributes[key]})
	}
	return stored
}

func eventFromStored(s *storedEvent) *types.Event {
	evt := &types.Event{Type: s.Type, Attributes: make(map[string]string, len(s.Attributes))}
	for _, pair := range s.Attributes {
		evt.Attributes[pair.Key] = pair.Value
	}
	return evt
}
