package runtime

// env.go wires the in-memory state to the engine's host interface and
// implements nested call/create re-entry: snapshot discipline, value
// transfer, precompile dispatch, depth limiting, address derivation,
// collision rules, and the code deposit path.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/core/vm"
	"github.com/embervm/ember/crypto"
	"github.com/embervm/ember/log"
)

// Env is the reference vm.Host. One Env serves one transaction at a time.
type Env struct {
	state      *StateDB
	accessList *vm.AccessList
	evm        *vm.EVM
	fork       vm.Hardfork

	block vm.BlockContext
	tx    vm.TxContext

	getHash func(uint64) types.Hash
	logger  *log.Logger
}

// NewEnv builds an execution environment from a runtime config.
func NewEnv(cfg *Config) *Env {
	SetDefaults(cfg)
	env := &Env{
		state:      cfg.State,
		accessList: vm.NewAccessList(),
		fork:       cfg.Hardfork,
		block: vm.BlockContext{
			Coinbase:    cfg.Coinbase,
			Number:      cfg.BlockNumber,
			Time:        cfg.Time,
			GasLimit:    cfg.GasLimit,
			BaseFee:     *cfg.BaseFee,
			PrevRandao:  cfg.PrevRandao,
			BlobBaseFee: *cfg.BlobBaseFee,
		},
		tx: vm.TxContext{
			Origin:     cfg.Origin,
			GasPrice:   *cfg.GasPrice,
			BlobHashes: cfg.BlobHashes,
		},
		getHash: cfg.GetHashFn,
		logger:  log.Default().Module("runtime"),
	}
	env.evm = vm.NewEVM(env, vm.Config{
		Hardfork:      cfg.Hardfork,
		ChainID:       cfg.ChainID,
		MemoryLimit:   cfg.MemoryLimit,
		DisableFusion: cfg.DisableFusion,
		Cache:         cfg.AnalysisCache,
	})
	return env
}

// EVM returns the engine bound to this environment.
func (env *Env) EVM() *vm.EVM { return env.evm }

// StateDB returns the backing state.
func (env *Env) StateDB() *StateDB { return env.state }

// AccessList returns the transaction's warm sets.
func (env *Env) AccessList() *vm.AccessList { return env.accessList }

// PrepareTx pre-warms the access list for a transaction from sender to a
// target (nil for creation), including EIP-2930 declared entries.
func (env *Env) PrepareTx(sender types.Address, to *types.Address, list types.AccessList) {
	env.accessList.PrePopulate(env.fork, sender, to, env.block.Coinbase, list)
}

// --- vm.Host: state access ---

func (env *Env) Balance(addr types.Address) uint256.Int {
	return env.state.GetBalance(addr)
}

func (env *Env) Code(addr types.Address) []byte {
	return env.state.GetCode(addr)
}

func (env *Env) CodeSize(addr types.Address) int {
	return env.state.GetCodeSize(addr)
}

func (env *Env) CodeHash(addr types.Address) types.Hash {
	return env.state.GetCodeHash(addr)
}

func (env *Env) Exists(addr types.Address) bool {
	return env.state.Exist(addr)
}

func (env *Env) Empty(addr types.Address) bool {
	return env.state.Empty(addr)
}

func (env *Env) SLoad(addr types.Address, key types.Hash) types.Hash {
	return env.state.GetState(addr, key)
}

func (env *Env) SStore(addr types.Address, key, value types.Hash) {
	env.state.SetState(addr, key, value)
}

func (env *Env) OriginalStorage(addr types.Address, key types.Hash) types.Hash {
	return env.state.GetCommittedState(addr, key)
}

func (env *Env) TLoad(addr types.Address, key types.Hash) types.Hash {
	return env.state.GetTransientState(addr, key)
}

func (env *Env) TStore(addr types.Address, key, value types.Hash) {
	env.state.SetTransientState(addr, key, value)
}

// Snapshot checkpoints state and access list together so a revert
// restores both warm sets and world state atomically.
func (env *Env) Snapshot() int {
	id := env.state.Snapshot()
	env.accessList.Snapshot()
	return id
}

func (env *Env) RevertToSnapshot(id int) {
	env.state.RevertToSnapshot(id)
	env.accessList.RevertToSnapshot(id)
}

func (env *Env) AddRefund(gas uint64) { env.state.AddRefund(gas) }
func (env *Env) SubRefund(gas uint64) { env.state.SubRefund(gas) }
func (env *Env) GetRefund() uint64    { return env.state.GetRefund() }

func (env *Env) EmitLog(addr types.Address, topics []types.Hash, data []byte) {
	env.state.AddLog(&types.Log{Address: addr, Topics: topics, Data: data})
}

func (env *Env) AccessAddress(addr types.Address) uint64 {
	return env.accessList.AccessAddress(addr)
}

func (env *Env) AccessSlot(addr types.Address, slot types.Hash) uint64 {
	return env.accessList.AccessSlot(addr, slot)
}

func (env *Env) BlockContext() vm.BlockContext { return env.block }
func (env *Env) TxContext() vm.TxContext       { return env.tx }

func (env *Env) BlockHash(number uint64) types.Hash {
	// Only the 256 most recent blocks are visible.
	if env.getHash == nil || number >= env.block.Number || number+256 < env.block.Number {
		return types.Hash{}
	}
	return env.getHash(number)
}

func (env *Env) SelfDestruct(addr, beneficiary types.Address) {
	balance := env.state.GetBalance(addr)
	env.state.AddBalance(beneficiary, &balance)
	env.state.SelfDestruct(addr)
}

// --- vm.Host: re-entry ---

// Call runs a nested message call and merges its outcome per the
// snapshot discipline.
func (env *Env) Call(p vm.CallParams) vm.CallResult {
	if p.Depth > vm.MaxCallDepth {
		return vm.CallResult{Success: false, GasLeft: p.Gas}
	}

	transfersValue := p.Kind == vm.CallKindCall && !p.Value.IsZero()
	callerBalance := env.state.GetBalance(p.Caller)
	if (transfersValue || p.Kind == vm.CallKindCallCode && !p.Value.IsZero()) &&
		callerBalance.Lt(&p.Value) {
		// Insufficient balance fails the call without consuming the
		// forwarded gas.
		return vm.CallResult{Success: false, GasLeft: p.Gas}
	}

	snap := env.Snapshot()

	if transfersValue {
		if !env.state.Exist(p.Recipient) {
			env.state.CreateAccount(p.Recipient)
		}
		env.state.SubBalance(p.Caller, &p.Value)
		env.state.AddBalance(p.Recipient, &p.Value)
	}

	if pc, ok := vm.Precompile(p.CodeAddress, env.fork); ok {
		output, gasLeft, err := vm.RunPrecompile(pc, p.Input, p.Gas)
		if err != nil {
			env.RevertToSnapshot(snap)
			return vm.CallResult{Success: false, GasLeft: 0}
		}
		return vm.CallResult{Success: true, GasLeft: gasLeft, Output: output}
	}

	code := env.state.GetCode(p.CodeAddress)
	if len(code) == 0 {
		return vm.CallResult{Success: true, GasLeft: p.Gas}
	}

	contract := vm.NewContract(p.Caller, p.Recipient, &p.Value)
	contract.SetCode(code, env.state.GetCodeHash(p.CodeAddress))

	res := env.evm.Execute(contract, p.Input, p.Gas, p.Static, p.Depth)
	switch res.Outcome {
	case vm.Returned:
		return vm.CallResult{Success: true, GasLeft: res.GasLeft, Output: res.Output}
	case vm.Reverted:
		env.RevertToSnapshot(snap)
		return vm.CallResult{Success: false, GasLeft: res.GasLeft, Output: res.Output}
	default:
		env.RevertToSnapshot(snap)
		return vm.CallResult{Success: false, GasLeft: 0}
	}
}

// Create runs contract creation: derive the address, check collisions,
// execute the initcode in a fresh frame, and deposit the returned code.
func (env *Env) Create(p vm.CreateParams) vm.CreateResult {
	res, _ := env.create(p)
	return res
}

// create is Create with the failure cause preserved for top-level
// callers; the CREATE opcode itself only observes the zero address.
func (env *Env) create(p vm.CreateParams) (vm.CreateResult, error) {
	if p.Depth > vm.MaxCallDepth {
		return vm.CreateResult{Success: false, GasLeft: p.Gas}, vm.ErrMaxCallDepthExceeded
	}
	creatorBalance := env.state.GetBalance(p.Creator)
	if creatorBalance.Lt(&p.Value) {
		return vm.CreateResult{Success: false, GasLeft: p.Gas}, vm.ErrInsufficientBalance
	}

	nonce := env.state.GetNonce(p.Creator)
	env.state.SetNonce(p.Creator, nonce+1)

	var addr types.Address
	if p.Salt != nil {
		addr = crypto.Create2Address(p.Creator, *p.Salt, crypto.Keccak256(p.Code))
	} else {
		addr = crypto.CreateAddress(p.Creator, nonce)
	}

	// The created address becomes warm even if the creation fails.
	env.accessList.TouchAddress(addr)

	// Collision: an address with a nonce or code consumes all gas.
	if env.state.GetNonce(addr) != 0 {
		return vm.CreateResult{Success: false}, vm.ErrContractAddressCollision
	}
	if h := env.state.GetCodeHash(addr); !h.IsZero() && h != types.EmptyCodeHash {
		return vm.CreateResult{Success: false}, vm.ErrContractAddressCollision
	}

	snap := env.Snapshot()

	env.state.CreateAccount(addr)
	env.state.SetNonce(addr, 1) // EIP-161
	if !p.Value.IsZero() {
		env.state.SubBalance(p.Creator, &p.Value)
		env.state.AddBalance(addr, &p.Value)
	}

	contract := vm.NewContract(p.Creator, addr, &p.Value)
	// Initcode runs once; leaving the code hash zero keeps it out of the
	// analysis cache.
	contract.Code = p.Code

	res := env.evm.Execute(contract, nil, p.Gas, false, p.Depth)
	if res.Outcome == vm.Reverted {
		env.RevertToSnapshot(snap)
		return vm.CreateResult{Success: false, GasLeft: res.GasLeft, Output: res.Output}, vm.ErrExecutionReverted
	}
	if res.Outcome == vm.Failed {
		env.RevertToSnapshot(snap)
		return vm.CreateResult{Success: false}, res.Err
	}

	deployed := res.Output
	if env.fork.AtLeast(vm.London) && len(deployed) > 0 && deployed[0] == 0xEF {
		// EIP-3541 forbids new code starting with 0xEF.
		env.RevertToSnapshot(snap)
		return vm.CreateResult{Success: false}, vm.ErrInvalidContractPrefix
	}
	if len(deployed) > vm.MaxCodeSize {
		env.RevertToSnapshot(snap)
		return vm.CreateResult{Success: false}, vm.ErrMaxCodeSizeExceeded
	}
	depositCost := uint64(len(deployed)) * vm.CreateDataGas
	if res.GasLeft < depositCost {
		env.RevertToSnapshot(snap)
		return vm.CreateResult{Success: false}, vm.ErrOutOfGas
	}
	env.state.SetCode(addr, deployed)
	env.logger.Debug("contract created", "address", addr.Hex(), "codeSize", len(deployed), "gasLeft", res.GasLeft-depositCost)

	return vm.CreateResult{
		Success: true,
		GasLeft: res.GasLeft - depositCost,
		Address: addr,
	}, nil
}
