package state

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"xsettle/core/types"
	"xsettle/native/escrow"
	"xsettle/storage"
)

var (
	escrowSequenceKey = []byte("escrow/seq")
	eventHeadKey      = []byte("events/head")
)

func escrowRecordKey(id [32]byte) []byte {
	return append([]byte("escrow/record/"), id[:]...)
}

func escrowPartyKey(addr [20]byte) []byte {
	return append([]byte("escrow/party/"), addr[:]...)
}

func custodyKey(id [32]byte, asset escrow.AssetKind) []byte {
	key := append([]byte("escrow/custody/"), id[:]...)
	key = append(key, '/')
	return append(key, []byte(asset.String())...)
}

func accountKey(addr [20]byte) []byte {
	return append([]byte("account/"), addr[:]...)
}

func eventKey(seq uint64) []byte {
	key := make([]byte, 0, len("events/log/")+8)
	key = append(key, []byte("events/log/")...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

// Manager persists escrow records, party indexes, custody balances, accounts
// and the event log in a single key/value database. It backs the escrow
// engine's state interface.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager creates a state manager over the provided database. The caller
// retains ownership of the database handle.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// EscrowPut validates and persists the record under its identifier.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	stored, err := escrowToStored(sanitized)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(escrowRecordKey(sanitized.ID), encoded)
}

// EscrowGet loads the record with the given identifier. Backend failures and
// undecodable records read as absent to the caller; they are logged here so a
// corrupted store does not fail silently.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	encoded, err := m.db.Get(escrowRecordKey(id))
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			slog.Error("escrow record read failed",
				"id", hex.EncodeToString(id[:]), "err", err)
		}
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		slog.Error("escrow record decode failed",
			"id", hex.EncodeToString(id[:]), "err", err)
		return nil, false
	}
	return escrowFromStored(&stored), true
}

// EscrowDelete removes the record with the given identifier.
func (m *Manager) EscrowDelete(id [32]byte) error {
	return m.db.Delete(escrowRecordKey(id))
}

// EscrowNextSequence atomically increments and returns the escrow creation
// counter used for identifier derivation.
func (m *Manager) EscrowNextSequence() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := uint64(1)
	raw, err := m.db.Get(escrowSequenceKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("state: malformed escrow sequence record")
		}
		next = binary.BigEndian.Uint64(raw) + 1
	case errors.Is(err, storage.ErrKeyNotFound):
	default:
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := m.db.Put(escrowSequenceKey, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// EscrowIndexParty appends the identifier to the party's escrow index. The
// index is append-only and preserves creation order.
func (m *Manager) EscrowIndexParty(party [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := m.partyIndex(party)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(escrowPartyKey(party), encoded)
}

// EscrowsOf returns the identifiers of every escrow naming the party, in
// creation order.
func (m *Manager) EscrowsOf(party [20]byte) ([][32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partyIndex(party)
}

func (m *Manager) partyIndex(party [20]byte) ([][32]byte, error) {
	encoded, err := m.db.Get(escrowPartyKey(party))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids [][32]byte
	if err := rlp.DecodeBytes(encoded, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// EscrowCredit adds the amount to the escrow's custody balance for the asset.
func (m *Manager) EscrowCredit(id [32]byte, asset escrow.AssetKind, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: custody credit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.custodyBalance(id, asset)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	return m.db.Put(custodyKey(id, asset), balance.Bytes())
}

// EscrowDebit subtracts the amount from the escrow's custody balance,
// refusing to drive it negative.
func (m *Manager) EscrowDebit(id [32]byte, asset escrow.AssetKind, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: custody debit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.custodyBalance(id, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: custody balance %s below debit %s", balance, amount)
	}
	balance.Sub(balance, amount)
	if balance.Sign() == 0 {
		return m.db.Delete(custodyKey(id, asset))
	}
	return m.db.Put(custodyKey(id, asset), balance.Bytes())
}

// CustodyBalance reports the amount currently held in custody for the escrow
// and asset.
func (m *Manager) CustodyBalance(id [32]byte, asset escrow.AssetKind) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custodyBalance(id, asset)
}

func (m *Manager) custodyBalance(id [32]byte, asset escrow.AssetKind) (*big.Int, error) {
	raw, err := m.db.Get(custodyKey(id, asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// GetAccount loads the account for the address, returning an empty account
// when none has been stored yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	encoded, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		return nil, err
	}
	return accountFromStored(&stored), nil
}

// PutAccount persists the account under the address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	encoded, err := rlp.EncodeToBytes(accountToStored(account))
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// EventAppend persists the event at the next log sequence and returns that
// sequence. The first appended event has sequence 1.
func (m *Manager) EventAppend(evt *types.Event) (uint64, error) {
	if evt == nil {
		return 0, fmt.Errorf("state: nil event")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	head, err := m.eventHead()
	if err != nil {
		return 0, err
	}
	seq := head + 1
	encoded, err := rlp.EncodeToBytes(eventToStored(seq, evt))
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(eventKey(seq), encoded); err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := m.db.Put(eventHeadKey, buf[:]); err != nil {
		return 0, err
	}
	return seq, nil
}

// EventCount reports how many events have been appended to the log.
func (m *Manager) EventCount() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventHead()
}

// Events returns up to limit events starting at the given sequence. A from
// value of zero reads from the beginning of the log.
func (m *Manager) Events(from uint64, limit int) ([]*types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, err := m.eventHead()
	if err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]*types.Event, 0, limit)
	for seq := from; seq <= head && len(out) < limit; seq++ {
		encoded, err := m.db.Get(eventKey(seq))
		if err != nil {
			return nil, err
		}
		var stored storedEvent
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		out = append(out, eventFromStored(&stored))
	}
	return out, nil
}

func (m *Manager) eventHead() (uint64, error) {
	raw, err := m.db.Get(eventHeadKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed event head record")
	}
	return binary.BigEndian.Uint64(raw), nil
}
