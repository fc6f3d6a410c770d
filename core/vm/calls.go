package vm

// calls.go implements the call-family and creation opcodes. The core
// computes the gas to forward under the EIP-150 63/64 rule, builds the
// nested frame parameters, and re-enters execution through the host;
// snapshot/revert of world state is the host's responsibility.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// forwardableGas applies the 63/64 rule to the sequential gas level and
// caps the request at what the frame can actually spend.
func forwardableGas(fr *Frame, correction uint32, requested *uint256.Int) uint64 {
	available := fr.gas + uint64(correction)
	maxForward := available - available/CallGasFraction
	gas := maxForward
	if requested.IsUint64() && requested.Uint64() < maxForward {
		gas = requested.Uint64()
	}
	if gas > fr.gas {
		gas = fr.gas
	}
	return gas
}

// finishCall merges a nested call's outcome back into the caller frame:
// return the unused gas, replace the return data buffer, copy output into
// the requested memory window, and push the status flag.
func finishCall(fr *Frame, res CallResult, retOff, retSize uint64) {
	fr.gas += res.GasLeft
	fr.setReturnData(res.Output)
	if retSize > 0 && len(res.Output) > 0 {
		n := retSize
		if uint64(len(res.Output)) < n {
			n = uint64(len(res.Output))
		}
		fr.memory.Set(retOff, res.Output[:n])
	}
	if res.Success {
		fr.stack.pushSlot().SetOne()
	} else {
		fr.stack.pushSlot().Clear()
	}
}

func opCall(evm *EVM, fr *Frame, correction uint32) error {
	gasW := fr.stack.pop()
	requested := *gasW
	addr := wordToAddress(fr.stack.pop())
	value := *fr.stack.pop()
	inOffW, inSizeW := fr.stack.pop(), fr.stack.pop()
	outOffW, outSizeW := fr.stack.pop(), fr.stack.pop()

	if fr.Static && !value.IsZero() {
		return ErrWriteProtection
	}

	inOff, inSize, err := operands(inOffW, inSizeW)
	if err != nil {
		return err
	}
	outOff, outSize, err := operands(outOffW, outSizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(inOff, inSize); err != nil {
		return err
	}
	if err := fr.expandMemory(outOff, outSize); err != nil {
		return err
	}
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	if !value.IsZero() {
		if err := fr.charge(CallValueTransferGas); err != nil {
			return err
		}
		if evm.host.Empty(addr) {
			if err := fr.charge(CallNewAccountGas); err != nil {
				return err
			}
		}
	}

	gas := forwardableGas(fr, correction, &requested)
	if err := fr.charge(gas); err != nil {
		return err
	}
	if !value.IsZero() {
		// The stipend is credited to the child, not charged to the
		// caller.
		gas += CallStipend
	}

	res := evm.host.Call(CallParams{
		Kind:        CallKindCall,
		Caller:      fr.Contract.Address,
		CodeAddress: addr,
		Recipient:   addr,
		Value:       value,
		Input:       fr.memory.GetCopy(inOff, inSize),
		Gas:         gas,
		Static:      fr.Static,
		Depth:       fr.Depth + 1,
	})
	finishCall(fr, res, outOff, outSize)
	return nil
}

func opCallCode(evm *EVM, fr *Frame, correction uint32) error {
	gasW := fr.stack.pop()
	requested := *gasW
	addr := wordToAddress(fr.stack.pop())
	value := *fr.stack.pop()
	inOffW, inSizeW := fr.stack.pop(), fr.stack.pop()
	outOffW, outSizeW := fr.stack.pop(), fr.stack.pop()

	inOff, inSize, err := operands(inOffW, inSizeW)
	if err != nil {
		return err
	}
	outOff, outSize, err := operands(outOffW, outSizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(inOff, inSize); err != nil {
		return err
	}
	if err := fr.expandMemory(outOff, outSize); err != nil {
		return err
	}
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	if !value.IsZero() {
		if err := fr.charge(CallValueTransferGas); err != nil {
			return err
		}
	}

	gas := forwardableGas(fr, correction, &requested)
	if err := fr.charge(gas); err != nil {
		return err
	}
	if !value.IsZero() {
		gas += CallStipend
	}

	res := evm.host.Call(CallParams{
		Kind:        CallKindCallCode,
		Caller:      fr.Contract.Address,
		CodeAddress: addr,
		Recipient:   fr.Contract.Address,
		Value:       value,
		Input:       fr.memory.GetCopy(inOff, inSize),
		Gas:         gas,
		Static:      fr.Static,
		Depth:       fr.Depth + 1,
	})
	finishCall(fr, res, outOff, outSize)
	return nil
}

func opDelegateCall(evm *EVM, fr *Frame, correction uint32) error {
	gasW := fr.stack.pop()
	requested := *gasW
	addr := wordToAddress(fr.stack.pop())
	inOffW, inSizeW := fr.stack.pop(), fr.stack.pop()
	outOffW, outSizeW := fr.stack.pop(), fr.stack.pop()

	inOff, inSize, err := operands(inOffW, inSizeW)
	if err != nil {
		return err
	}
	outOff, outSize, err := operands(outOffW, outSizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(inOff, inSize); err != nil {
		return err
	}
	if err := fr.expandMemory(outOff, outSize); err != nil {
		return err
	}
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}

	gas := forwardableGas(fr, correction, &requested)
	if err := fr.charge(gas); err != nil {
		return err
	}

	// DELEGATECALL preserves the caller and value of the current
	// context.
	res := evm.host.Call(CallParams{
		Kind:        CallKindDelegateCall,
		Caller:      fr.Contract.CallerAddress,
		CodeAddress: addr,
		Recipient:   fr.Contract.Address,
		Value:       fr.Contract.Value,
		Input:       fr.memory.GetCopy(inOff, inSize),
		Gas:         gas,
		Static:      fr.Static,
		Depth:       fr.Depth + 1,
	})
	finishCall(fr, res, outOff, outSize)
	return nil
}

func opStaticCall(evm *EVM, fr *Frame, correction uint32) error {
	gasW := fr.stack.pop()
	requested := *gasW
	addr := wordToAddress(fr.stack.pop())
	inOffW, inSizeW := fr.stack.pop(), fr.stack.pop()
	outOffW, outSizeW := fr.stack.pop(), fr.stack.pop()

	inOff, inSize, err := operands(inOffW, inSizeW)
	if err != nil {
		return err
	}
	outOff, outSize, err := operands(outOffW, outSizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(inOff, inSize); err != nil {
		return err
	}
	if err := fr.expandMemory(outOff, outSize); err != nil {
		return err
	}
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}

	gas := forwardableGas(fr, correction, &requested)
	if err := fr.charge(gas); err != nil {
		return err
	}

	res := evm.host.Call(CallParams{
		Kind:        CallKindStaticCall,
		Caller:      fr.Contract.Address,
		CodeAddress: addr,
		Recipient:   addr,
		Input:       fr.memory.GetCopy(inOff, inSize),
		Gas:         gas,
		Static:      true,
		Depth:       fr.Depth + 1,
	})
	finishCall(fr, res, outOff, outSize)
	return nil
}

func opCreate(evm *EVM, fr *Frame, correction uint32) error {
	return createCommon(evm, fr, correction, false)
}

func opCreate2(evm *EVM, fr *Frame, correction uint32) error {
	return createCommon(evm, fr, correction, true)
}

func createCommon(evm *EVM, fr *Frame, correction uint32, isCreate2 bool) error {
	if fr.Static {
		return ErrWriteProtection
	}
	value := *fr.stack.pop()
	offW := fr.stack.pop()
	sizeW := fr.stack.pop()
	var salt *uint256.Int
	if isCreate2 {
		salt = fr.stack.pop()
	}

	off, size, err := operands(offW, sizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(off, size); err != nil {
		return err
	}
	if evm.cfg.Hardfork.AtLeast(Shanghai) {
		// EIP-3860: bounded, word-priced initcode.
		if size > MaxInitCodeSize {
			return ErrMaxInitCodeSizeExceeded
		}
		if err := fr.charge(toWordSize(size) * InitCodeWordGas); err != nil {
			return err
		}
	}
	if isCreate2 {
		// CREATE2 hashes the initcode to derive the address.
		if err := fr.charge(toWordSize(size) * Keccak256WordGas); err != nil {
			return err
		}
	}

	// EIP-150: all but one 64th is forwarded to the initcode frame.
	available := fr.gas + uint64(correction)
	gas := available - available/CallGasFraction
	if gas > fr.gas {
		gas = fr.gas
	}
	if err := fr.charge(gas); err != nil {
		return err
	}

	params := CreateParams{
		Creator: fr.Contract.Address,
		Value:   value,
		Code:    fr.memory.GetCopy(off, size),
		Gas:     gas,
		Depth:   fr.Depth + 1,
	}
	if isCreate2 {
		h := salt.Bytes32()
		sh := types.Hash(h)
		params.Salt = &sh
	}

	res := evm.host.Create(params)
	fr.gas += res.GasLeft
	fr.setReturnData(res.Output)
	if res.Success {
		fr.stack.pushSlot().SetBytes20(res.Address[:])
	} else {
		fr.stack.pushSlot().Clear()
	}
	return nil
}
