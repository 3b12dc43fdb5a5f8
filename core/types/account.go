package types

import "math/big"

// Account holds the balances the settlement engine can move on this ledger:
// the ledger's native asset plus any number of fungible token balances keyed
// by their canonical symbol.
type Account struct {
	Nonce   uint64              `json:"nonce"`
	Balance *big.Int            `json:"balance"`
	Tokens  map[string]*big.Int `json:"tokens,omitempty"`
}

// NewAccount returns an empty account with all balance fields initialised.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0), Tokens: make(map[string]*big.Int)}
}

// Normalize replaces nil balance fields so callers can operate on the account
// without nil checks. It returns the receiver for chaining.
func (a *Account) Normalize() *Account {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	return a
}

// TokenBalance returns the balance held for the supplied token symbol. The
// returned value is a copy; mutating it does not affect the account.
func (a *Account) TokenBalance(symbol string) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Tokens[symbol]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetTokenBalance records the balance for a token symbol, dropping the entry
// entirely when the balance reaches zero.
func (a *Account) SetTokenBalance(symbol string, bal *big.Int) {
	if a == nil {
		return
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	if bal == nil || bal.Sign() == 0 {
		delete(a.Tokens, symbol)
		return
	}
	a.Tokens[symbol] = new(big.Int).Set(bal)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	clone.Nonce = a.Nonce
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	for symbol, bal := range a.Tokens {
		if bal != nil {
			clone.Tokens[symbol] = new(big.Int).Set(bal)
		}
	}
	return clone
}
