package vm

// host.go defines the narrow contract between the execution core and the
// world state it runs against. The core holds no global state: everything
// it learns about accounts, storage, and the enclosing block or
// transaction flows through this interface, and nested calls re-enter the
// core through the host's Call/Create operations. Implementations must
// tolerate re-entrancy; the core never retains host-supplied slices
// beyond the returning operation.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// CallKind distinguishes the four message-call opcodes.
type CallKind uint8

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
)

// String returns the opcode name of the call kind.
func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "CALL"
	case CallKindCallCode:
		return "CALLCODE"
	case CallKindDelegateCall:
		return "DELEGATECALL"
	case CallKindStaticCall:
		return "STATICCALL"
	default:
		return "UNKNOWN"
	}
}

// CallParams carries a nested message call from the core to the host.
// CodeAddress is where the executed code lives; Recipient is the context
// (storage and address) it executes under. They differ for CALLCODE and
// DELEGATECALL.
type CallParams struct {
	Kind        CallKind
	Caller      types.Address
	CodeAddress types.Address
	Recipient   types.Address
	Value       uint256.Int // ignored for STATICCALL; context value for DELEGATECALL
	Input       []byte
	Gas         uint64
	Static      bool
	Depth       int
}

// CallResult is the outcome of a nested call. GasLeft is returned to the
// caller frame; Output becomes the caller's return data buffer.
type CallResult struct {
	Success bool
	GasLeft uint64
	Output  []byte
}

// CreateParams carries a CREATE or CREATE2 from the core to the host.
// Salt is nil for CREATE.
type CreateParams struct {
	Creator types.Address
	Value   uint256.Int
	Code    []byte
	Gas     uint64
	Salt    *types.Hash
	Depth   int
}

// CreateResult is the outcome of a contract creation. Output is non-empty
// only when the initcode reverted with data.
type CreateResult struct {
	Success bool
	GasLeft uint64
	Output  []byte
	Address types.Address
}

// BlockContext provides block-level information to the core.
type BlockContext struct {
	Coinbase    types.Address
	Number      uint64
	Time        uint64
	GasLimit    uint64
	BaseFee     uint256.Int
	PrevRandao  types.Hash
	BlobBaseFee uint256.Int
}

// TxContext provides transaction-level information to the core.
type TxContext struct {
	Origin     types.Address
	GasPrice   uint256.Int
	BlobHashes []types.Hash
}

// Host is the world-state interface the core executes against.
type Host interface {
	// Accounts.
	Balance(addr types.Address) uint256.Int
	Code(addr types.Address) []byte
	CodeSize(addr types.Address) int
	CodeHash(addr types.Address) types.Hash
	Exists(addr types.Address) bool
	Empty(addr types.Address) bool // EIP-161: zero nonce, balance, and code

	// Storage.
	SLoad(addr types.Address, key types.Hash) types.Hash
	SStore(addr types.Address, key, value types.Hash)
	OriginalStorage(addr types.Address, key types.Hash) types.Hash
	TLoad(addr types.Address, key types.Hash) types.Hash
	TStore(addr types.Address, key, value types.Hash)

	// Snapshot discipline. All effects of a sub-frame become visible on
	// return; RevertToSnapshot atomically undoes them.
	Snapshot() int
	RevertToSnapshot(id int)

	// Refund counter (EIP-3529).
	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	// Logs, buffered in emission order.
	EmitLog(addr types.Address, topics []types.Hash, data []byte)

	// EIP-2929 warm/cold tracking. Idempotent: the first touch returns
	// the cold cost, every later touch the warm cost.
	AccessAddress(addr types.Address) uint64
	AccessSlot(addr types.Address, slot types.Hash) uint64

	// Nested frames re-enter the core through these.
	Call(params CallParams) CallResult
	Create(params CreateParams) CreateResult

	// SelfDestruct transfers the remaining balance to the beneficiary
	// and marks addr for destruction per the active fork's rules.
	SelfDestruct(addr, beneficiary types.Address)

	// Environment.
	BlockContext() BlockContext
	TxContext() TxContext
	BlockHash(number uint64) types.Hash
}
