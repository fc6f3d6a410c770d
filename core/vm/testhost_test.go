package vm

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// testHost is a minimal in-memory Host for interpreter tests. Nested
// calls are answered by the configurable callFn/createFn hooks.
type testHost struct {
	balances  map[types.Address]uint256.Int
	codes     map[types.Address][]byte
	storage   map[slotID]types.Hash
	original  map[slotID]types.Hash
	transient map[slotID]types.Hash
	refund    uint64
	logs      []types.Log
	al        *AccessList
	snaps     int

	selfdestructed []types.Address

	callFn   func(CallParams) CallResult
	createFn func(CreateParams) CreateResult

	block BlockContext
	tx    TxContext
}

func newTestHost() *testHost {
	return &testHost{
		balances:  make(map[types.Address]uint256.Int),
		codes:     make(map[types.Address][]byte),
		storage:   make(map[slotID]types.Hash),
		original:  make(map[slotID]types.Hash),
		transient: make(map[slotID]types.Hash),
		al:        NewAccessList(),
	}
}

func (h *testHost) Balance(addr types.Address) uint256.Int { return h.balances[addr] }
func (h *testHost) Code(addr types.Address) []byte         { return h.codes[addr] }
func (h *testHost) CodeSize(addr types.Address) int        { return len(h.codes[addr]) }

func (h *testHost) CodeHash(addr types.Address) types.Hash {
	if len(h.codes[addr]) == 0 {
		return types.Hash{}
	}
	return types.BytesToHash([]byte{0xc0, 0xde})
}

func (h *testHost) Exists(addr types.Address) bool {
	_, ok := h.codes[addr]
	if ok {
		return true
	}
	_, ok = h.balances[addr]
	return ok
}

func (h *testHost) Empty(addr types.Address) bool {
	bal := h.balances[addr]
	return bal.IsZero() && len(h.codes[addr]) == 0
}

func (h *testHost) SLoad(addr types.Address, key types.Hash) types.Hash {
	return h.storage[slotID{addr, key}]
}

func (h *testHost) SStore(addr types.Address, key, value types.Hash) {
	id := slotID{addr, key}
	if _, ok := h.original[id]; !ok {
		h.original[id] = h.storage[id]
	}
	h.storage[id] = value
}

func (h *testHost) OriginalStorage(addr types.Address, key types.Hash) types.Hash {
	id := slotID{addr, key}
	if v, ok := h.original[id]; ok {
		return v
	}
	return h.storage[id]
}

func (h *testHost) TLoad(addr types.Address, key types.Hash) types.Hash {
	return h.transient[slotID{addr, key}]
}

func (h *testHost) TStore(addr types.Address, key, value types.Hash) {
	h.transient[slotID{addr, key}] = value
}

func (h *testHost) Snapshot() int {
	id := h.snaps
	h.snaps++
	return id
}

func (h *testHost) RevertToSnapshot(int) {}

func (h *testHost) AddRefund(gas uint64) { h.refund += gas }
func (h *testHost) SubRefund(gas uint64) { h.refund -= gas }
func (h *testHost) GetRefund() uint64    { return h.refund }

func (h *testHost) EmitLog(addr types.Address, topics []types.Hash, data []byte) {
	h.logs = append(h.logs, types.Log{Address: addr, Topics: topics, Data: data})
}

func (h *testHost) AccessAddress(addr types.Address) uint64 {
	return h.al.AccessAddress(addr)
}

func (h *testHost) AccessSlot(addr types.Address, slot types.Hash) uint64 {
	return h.al.AccessSlot(addr, slot)
}

func (h *testHost) Call(p CallParams) CallResult {
	if h.callFn != nil {
		return h.callFn(p)
	}
	return CallResult{Success: true, GasLeft: p.Gas}
}

func (h *testHost) Create(p CreateParams) CreateResult {
	if h.createFn != nil {
		return h.createFn(p)
	}
	return CreateResult{Success: true, GasLeft: p.Gas, Address: types.BytesToAddress([]byte{0xcc})}
}

func (h *testHost) SelfDestruct(addr, beneficiary types.Address) {
	h.selfdestructed = append(h.selfdestructed, addr)
}

func (h *testHost) BlockContext() BlockContext { return h.block }
func (h *testHost) TxContext() TxContext       { return h.tx }

func (h *testHost) BlockHash(number uint64) types.Hash {
	return types.BytesToHash([]byte{byte(number)})
}

var (
	testCaller = types.HexToAddress("0x1000000000000000000000000000000000000001")
	testSelf   = types.HexToAddress("0x2000000000000000000000000000000000000002")
)

// execCode analyzes and dispatches code in a fresh frame, returning the
// frame for inspection alongside the terminal signal.
func execCode(host Host, code []byte, gas uint64, static bool, input []byte) (*Frame, error) {
	return execAnalysis(host, code, gas, static, input, true)
}

func execAnalysis(host Host, code []byte, gas uint64, static bool, input []byte, fusion bool) (*Frame, error) {
	an, err := analyze(code, Cancun, fusion)
	if err != nil {
		return nil, err
	}
	evm := NewEVM(host, Config{Hardfork: Cancun, ChainID: 1})
	contract := NewContract(testCaller, testSelf, nil)
	contract.SetCode(code, an.CodeHash())
	contract.Analysis = an
	fr := &Frame{
		Contract: contract,
		Input:    input,
		Static:   static,
		gas:      gas,
		memory:   NewMemory(),
	}
	return fr, evm.dispatch(fr)
}
