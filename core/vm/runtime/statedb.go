// Package runtime provides a reference host for the EVM engine: an
// in-memory world state with a change journal and snapshot/revert, plus
// helpers that execute raw bytecode against it.
package runtime

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/crypto"
)

// storageKey addresses one storage (or transient storage) slot.
type storageKey struct {
	addr types.Address
	key  types.Hash
}

// stateAccount is one account's in-memory state.
type stateAccount struct {
	nonce          uint64
	balance        uint256.Int
	code           []byte
	codeHash       types.Hash
	storage        map[types.Hash]types.Hash
	selfdestructed bool
}

// changeKind enumerates journal entry types.
type changeKind uint8

const (
	changeCreateAccount changeKind = iota
	changeBalance
	changeNonce
	changeCode
	changeStorage
	changeTransient
	changeSelfdestruct
	changeRefund
	changeLog
)

// change is a single reversible state mutation.
type change struct {
	kind     changeKind
	addr     types.Address
	key      types.Hash
	prevHash types.Hash
	prevWord uint256.Int
	prevU64  uint64
	prevCode []byte
	prevBool bool
}

// StateDB is an in-memory world state with journaled writes. Every
// mutation appends an undo record; RevertToSnapshot unwinds the journal,
// making sub-frame effects atomic exactly as the snapshot discipline
// requires.
type StateDB struct {
	accounts    map[types.Address]*stateAccount
	original    map[storageKey]types.Hash // value at transaction start, set on first write
	transient   map[storageKey]types.Hash // EIP-1153, cleared per transaction
	createdInTx map[types.Address]bool

	logs    []*types.Log
	refund  uint64
	journal []change
	snaps   []int
}

// NewStateDB returns an empty world state.
func NewStateDB() *StateDB {
	return &StateDB{
		accounts:    make(map[types.Address]*stateAccount),
		original:    make(map[storageKey]types.Hash),
		transient:   make(map[storageKey]types.Hash),
		createdInTx: make(map[types.Address]bool),
	}
}

func (s *StateDB) account(addr types.Address) *stateAccount {
	return s.accounts[addr]
}

// CreateAccount creates an empty account. Existing balance is preserved
// per the pre-existing-funds rule.
func (s *StateDB) CreateAccount(addr types.Address) {
	if acc := s.accounts[addr]; acc != nil {
		return
	}
	s.accounts[addr] = &stateAccount{
		codeHash: types.EmptyCodeHash,
		storage:  make(map[types.Hash]types.Hash),
	}
	s.createdInTx[addr] = true
	s.journal = append(s.journal, change{kind: changeCreateAccount, addr: addr})
}

// mustAccount creates the account if absent and returns it.
func (s *StateDB) mustAccount(addr types.Address) *stateAccount {
	if acc := s.accounts[addr]; acc != nil {
		return acc
	}
	s.CreateAccount(addr)
	return s.accounts[addr]
}

// Exist reports whether the account is present in state.
func (s *StateDB) Exist(addr types.Address) bool {
	return s.accounts[addr] != nil
}

// Empty reports whether the account is absent or empty per EIP-161.
func (s *StateDB) Empty(addr types.Address) bool {
	acc := s.accounts[addr]
	if acc == nil {
		return true
	}
	return acc.nonce == 0 && acc.balance.IsZero() && len(acc.code) == 0
}

// GetBalance returns the account balance, zero for absent accounts.
func (s *StateDB) GetBalance(addr types.Address) uint256.Int {
	if acc := s.accounts[addr]; acc != nil {
		return acc.balance
	}
	return uint256.Int{}
}

// SetBalance replaces the account balance.
func (s *StateDB) SetBalance(addr types.Address, balance *uint256.Int) {
	acc := s.mustAccount(addr)
	s.journal = append(s.journal, change{kind: changeBalance, addr: addr, prevWord: acc.balance})
	acc.balance = *balance
}

// AddBalance credits the account.
func (s *StateDB) AddBalance(addr types.Address, amount *uint256.Int) {
	acc := s.mustAccount(addr)
	s.journal = append(s.journal, change{kind: changeBalance, addr: addr, prevWord: acc.balance})
	acc.balance.Add(&acc.balance, amount)
}

// SubBalance debits the account.
func (s *StateDB) SubBalance(addr types.Address, amount *uint256.Int) {
	acc := s.mustAccount(addr)
	s.journal = append(s.journal, change{kind: changeBalance, addr: addr, prevWord: acc.balance})
	acc.balance.Sub(&acc.balance, amount)
}

// GetNonce returns the account nonce.
func (s *StateDB) GetNonce(addr types.Address) uint64 {
	if acc := s.accounts[addr]; acc != nil {
		return acc.nonce
	}
	return 0
}

// SetNonce replaces the account nonce.
func (s *StateDB) SetNonce(addr types.Address, nonce uint64) {
	acc := s.mustAccount(addr)
	s.journal = append(s.journal, change{kind: changeNonce, addr: addr, prevU64: acc.nonce})
	acc.nonce = nonce
}

// GetCode returns the account code.
func (s *StateDB) GetCode(addr types.Address) []byte {
	if acc := s.accounts[addr]; acc != nil {
		return acc.code
	}
	return nil
}

// GetCodeSize returns len(code) without copying.
func (s *StateDB) GetCodeSize(addr types.Address) int {
	if acc := s.accounts[addr]; acc != nil {
		return len(acc.code)
	}
	return 0
}

// GetCodeHash returns the keccak256 of the account code; the zero hash
// for absent or empty accounts (EIP-1052).
func (s *StateDB) GetCodeHash(addr types.Address) types.Hash {
	if s.Empty(addr) {
		return types.Hash{}
	}
	return s.accounts[addr].codeHash
}

// SetCode installs code on the account.
func (s *StateDB) SetCode(addr types.Address, code []byte) {
	acc := s.mustAccount(addr)
	s.journal = append(s.journal, change{kind: changeCode, addr: addr, prevCode: acc.code, prevHash: acc.codeHash})
	acc.code = code
	acc.codeHash = crypto.Keccak256Hash(code)
}

// GetState returns the current value of a storage slot.
func (s *StateDB) GetState(addr types.Address, key types.Hash) types.Hash {
	if acc := s.accounts[addr]; acc != nil {
		return acc.storage[key]
	}
	return types.Hash{}
}

// GetCommittedState returns the slot value as of the start of the
// transaction.
func (s *StateDB) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	if v, ok := s.original[storageKey{addr, key}]; ok {
		return v
	}
	return s.GetState(addr, key)
}

// SetState writes a storage slot, recording the transaction-start value
// on first touch.
func (s *StateDB) SetState(addr types.Address, key, value types.Hash) {
	acc := s.mustAccount(addr)
	prev := acc.storage[key]
	sk := storageKey{addr, key}
	if _, ok := s.original[sk]; !ok {
		// The original map survives reverts: it records the committed
		// value, not the journaled one.
		s.original[sk] = prev
	}
	s.journal = append(s.journal, change{kind: changeStorage, addr: addr, key: key, prevHash: prev})
	acc.storage[key] = value
}

// GetTransientState returns an EIP-1153 transient slot.
func (s *StateDB) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	return s.transient[storageKey{addr, key}]
}

// SetTransientState writes an EIP-1153 transient slot.
func (s *StateDB) SetTransientState(addr types.Address, key, value types.Hash) {
	sk := storageKey{addr, key}
	s.journal = append(s.journal, change{kind: changeTransient, addr: addr, key: key, prevHash: s.transient[sk]})
	s.transient[sk] = value
}

// SelfDestruct marks the account for destruction and zeroes its balance.
// The beneficiary credit is the caller's responsibility.
func (s *StateDB) SelfDestruct(addr types.Address) {
	acc := s.accounts[addr]
	if acc == nil {
		return
	}
	s.journal = append(s.journal, change{kind: changeSelfdestruct, addr: addr, prevBool: acc.selfdestructed, prevWord: acc.balance})
	acc.selfdestructed = true
	acc.balance.Clear()
}

// HasSelfDestructed reports whether the account is marked for destruction.
func (s *StateDB) HasSelfDestructed(addr types.Address) bool {
	acc := s.accounts[addr]
	return acc != nil && acc.selfdestructed
}

// CreatedInTransaction reports whether the account was created in the
// current transaction (EIP-6780).
func (s *StateDB) CreatedInTransaction(addr types.Address) bool {
	return s.createdInTx[addr]
}

// AddRefund credits the refund counter.
func (s *StateDB) AddRefund(gas uint64) {
	s.journal = append(s.journal, change{kind: changeRefund, prevU64: s.refund})
	s.refund += gas
}

// SubRefund debits the refund counter. Going below zero is a programmer
// error in the gas schedule.
func (s *StateDB) SubRefund(gas uint64) {
	s.journal = append(s.journal, change{kind: changeRefund, prevU64: s.refund})
	if gas > s.refund {
		panic("statedb: refund counter below zero")
	}
	s.refund -= gas
}

// GetRefund returns the refund counter.
func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// AddLog appends a log to the sink.
func (s *StateDB) AddLog(l *types.Log) {
	s.journal = append(s.journal, change{kind: changeLog})
	s.logs = append(s.logs, l)
}

// Logs returns the buffered logs in emission order.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// Snapshot records the journal position and returns its id.
func (s *StateDB) Snapshot() int {
	id := len(s.snaps)
	s.snaps = append(s.snaps, len(s.journal))
	return id
}

// RevertToSnapshot unwinds every change journaled after the snapshot.
func (s *StateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snaps) {
		return
	}
	target := s.snaps[id]
	for i := len(s.journal) - 1; i >= target; i-- {
		ch := &s.journal[i]
		switch ch.kind {
		case changeCreateAccount:
			delete(s.accounts, ch.addr)
			delete(s.createdInTx, ch.addr)
		case changeBalance:
			s.accounts[ch.addr].balance = ch.prevWord
		case changeNonce:
			s.accounts[ch.addr].nonce = ch.prevU64
		case changeCode:
			acc := s.accounts[ch.addr]
			acc.code = ch.prevCode
			acc.codeHash = ch.prevHash
		case changeStorage:
			s.accounts[ch.addr].storage[ch.key] = ch.prevHash
		case changeTransient:
			s.transient[storageKey{ch.addr, ch.key}] = ch.prevHash
		case changeSelfdestruct:
			acc := s.accounts[ch.addr]
			acc.selfdestructed = ch.prevBool
			acc.balance = ch.prevWord
		case changeRefund:
			s.refund = ch.prevU64
		case changeLog:
			s.logs = s.logs[:len(s.logs)-1]
		}
	}
	s.journal = s.journal[:target]
	s.snaps = s.snaps[:id]
}

// Finalise applies end-of-transaction cleanup: destroys selfdestructed
// accounts (from Cancun, only those created in the same transaction per
// EIP-6780) and clears transient storage and per-tx tracking.
func (s *StateDB) Finalise(deleteOnlyCreated bool) {
	for addr, acc := range s.accounts {
		if !acc.selfdestructed {
			continue
		}
		if deleteOnlyCreated && !s.createdInTx[addr] {
			acc.selfdestructed = false
			continue
		}
		delete(s.accounts, addr)
	}
	s.transient = make(map[storageKey]types.Hash)
	s.original = make(map[storageKey]types.Hash)
	s.createdInTx = make(map[types.Address]bool)
	s.journal = s.journal[:0]
	s.snaps = s.snaps[:0]
}
