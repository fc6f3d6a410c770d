package vm

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// Contract binds an account identity to the code executing on its behalf
// and the analysis artifact for that code.
type Contract struct {
	CallerAddress types.Address
	Address       types.Address
	Value         uint256.Int
	Code          []byte
	CodeHash      types.Hash
	Analysis      *Analysis
}

// NewContract creates a contract execution target.
func NewContract(caller, addr types.Address, value *uint256.Int) *Contract {
	c := &Contract{CallerAddress: caller, Address: addr}
	if value != nil {
		c.Value = *value
	}
	return c
}

// SetCode attaches code and its content hash.
func (c *Contract) SetCode(code []byte, hash types.Hash) {
	c.Code = code
	c.CodeHash = hash
}

// Frame is a single call-level execution context: the operand stack, the
// frame's memory view, remaining gas, input, and the static flag. Frames
// move Initialized -> Running -> {Returned, Reverted, Failed}; the
// terminal state is carried by the Result the interpreter returns.
type Frame struct {
	Contract *Contract
	Input    []byte
	Depth    int
	Static   bool

	gas        uint64
	stack      Stack
	memory     *Memory
	returnData []byte // output of the last nested call
	output     []byte // set by RETURN / REVERT
}

// Gas returns the remaining gas.
func (fr *Frame) Gas() uint64 { return fr.gas }

// Memory returns the frame's memory view.
func (fr *Frame) Memory() *Memory { return fr.memory }

// Stack returns the frame's operand stack.
func (fr *Frame) Stack() *Stack { return &fr.stack }

// ReturnData returns the data returned by the last nested call.
func (fr *Frame) ReturnData() []byte { return fr.returnData }

// charge deducts gas, failing with ErrOutOfGas when insufficient.
func (fr *Frame) charge(gas uint64) error {
	if fr.gas < gas {
		return ErrOutOfGas
	}
	fr.gas -= gas
	return nil
}

// setReturnData replaces the return data buffer with a copy. The core
// must not retain host-owned slices.
func (fr *Frame) setReturnData(data []byte) {
	if len(data) == 0 {
		fr.returnData = nil
		return
	}
	fr.returnData = make([]byte, len(data))
	copy(fr.returnData, data)
}

// expandMemory charges and applies memory expansion for an access of size
// bytes at offset.
func (fr *Frame) expandMemory(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	end, ok := memEnd(offset, size)
	if !ok {
		return ErrGasUintOverflow
	}
	cost, err := fr.memory.expansionCost(end)
	if err != nil {
		return err
	}
	if err := fr.charge(cost); err != nil {
		return err
	}
	_, err = fr.memory.ensure(end)
	return err
}
