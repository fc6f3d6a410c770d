package runtime

// runtime.go provides the execution entry points: configure an
// environment, place code, and run it as a top-level frame.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/core/vm"
)

// Config specifies the execution environment for the helpers below.
// SetDefaults fills the zero fields it has a default for.
type Config struct {
	Hardfork    vm.Hardfork
	ChainID     uint64
	Origin      types.Address
	Coinbase    types.Address
	BlockNumber uint64
	Time        uint64
	GasLimit    uint64
	GasPrice    *uint256.Int
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	PrevRandao  types.Hash
	BlobHashes  []types.Hash
	Value       *uint256.Int
	AccessList  types.AccessList

	MemoryLimit   uint64
	DisableFusion bool
	AnalysisCache *vm.AnalysisCache

	State     *StateDB
	GetHashFn func(uint64) types.Hash
}

// SetDefaults fills unset config fields: chain id 1, a 30M gas limit, zero
// gas price, base fee, blob base fee and value, and a fresh StateDB. The
// hardfork is not defaulted; its zero value is Frontier.
func SetDefaults(cfg *Config) {
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 30_000_000
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = new(uint256.Int)
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(uint256.Int)
	}
	if cfg.BlobBaseFee == nil {
		cfg.BlobBaseFee = new(uint256.Int)
	}
	if cfg.Value == nil {
		cfg.Value = new(uint256.Int)
	}
	if cfg.State == nil {
		cfg.State = NewStateDB()
	}
}

// contractAddress is where Execute installs the code under test.
var contractAddress = types.BytesToAddress([]byte("contract"))

// Execute installs code at a fixed address and runs it with the given
// input as a top-level call. It returns the output, the gas left, and
// the environment for further inspection. A Failed frame reports its
// error and zero gas left.
func Execute(code, input []byte, gas uint64, cfg *Config) ([]byte, uint64, *Env, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	env := NewEnv(cfg)

	env.state.CreateAccount(cfg.Origin)
	env.state.CreateAccount(contractAddress)
	env.state.SetCode(contractAddress, code)
	env.PrepareTx(cfg.Origin, &contractAddress, cfg.AccessList)

	out, gasLeft, err := env.CallContract(cfg.Origin, contractAddress, input, gas, cfg.Value)
	return out, gasLeft, env, err
}

// Create runs initcode as a top-level contract creation and returns the
// deployed code, the new address, and the gas left.
func Create(initcode []byte, gas uint64, cfg *Config) ([]byte, types.Address, uint64, *Env, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	env := NewEnv(cfg)

	env.state.CreateAccount(cfg.Origin)
	env.PrepareTx(cfg.Origin, nil, cfg.AccessList)

	if len(initcode) > vm.MaxInitCodeSize {
		return nil, types.Address{}, 0, env, vm.ErrMaxInitCodeSizeExceeded
	}

	res, err := env.create(vm.CreateParams{
		Creator: cfg.Origin,
		Value:   *cfg.Value,
		Code:    initcode,
		Gas:     gas,
		Depth:   0,
	})
	if err != nil {
		return res.Output, types.Address{}, res.GasLeft, env, err
	}
	return env.state.GetCode(res.Address), res.Address, res.GasLeft, env, nil
}

// CallContract runs a top-level message call against the environment's
// existing state, surfacing the frame's failure cause. The caller is
// responsible for PrepareTx.
func (env *Env) CallContract(caller, addr types.Address, input []byte, gas uint64, value *uint256.Int) ([]byte, uint64, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	callerBalance := env.state.GetBalance(caller)
	if !value.IsZero() && callerBalance.Lt(value) {
		return nil, gas, vm.ErrInsufficientBalance
	}

	snap := env.Snapshot()
	if !value.IsZero() {
		if !env.state.Exist(addr) {
			env.state.CreateAccount(addr)
		}
		env.state.SubBalance(caller, value)
		env.state.AddBalance(addr, value)
	}

	if pc, ok := vm.Precompile(addr, env.fork); ok {
		output, gasLeft, err := vm.RunPrecompile(pc, input, gas)
		if err != nil {
			env.RevertToSnapshot(snap)
			return nil, 0, err
		}
		return output, gasLeft, nil
	}

	code := env.state.GetCode(addr)
	if len(code) == 0 {
		return nil, gas, nil
	}

	contract := vm.NewContract(caller, addr, value)
	contract.SetCode(code, env.state.GetCodeHash(addr))

	res := env.evm.Execute(contract, input, gas, false, 0)
	switch res.Outcome {
	case vm.Returned:
		return res.Output, res.GasLeft, nil
	case vm.Reverted:
		env.RevertToSnapshot(snap)
		return res.Output, res.GasLeft, vm.ErrExecutionReverted
	default:
		env.RevertToSnapshot(snap)
		return nil, 0, res.Err
	}
}
