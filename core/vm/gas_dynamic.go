package vm

// gas_dynamic.go holds the handlers with dynamic gas components. Each one
// charges its extra cost (memory expansion, copy words, cold-access
// surcharges, SSTORE schedule, ...) after the admitting block's static
// deduction, then performs the operation.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/crypto"
)

// chargeColdAccount touches addr and charges the cold surcharge beyond
// the warm cost the block already covered.
func chargeColdAccount(evm *EVM, fr *Frame, addr types.Address) error {
	cost := evm.host.AccessAddress(addr)
	return fr.charge(cost - WarmStorageReadCost)
}

// chargeCopy charges the per-word cost of copying size bytes.
func chargeCopy(fr *Frame, size uint64) error {
	return fr.charge(toWordSize(size) * CopyGas)
}

// --- memory ---

func opMload(evm *EVM, fr *Frame, _ uint32) error {
	offset := fr.stack.peek()
	if !offset.IsUint64() {
		return ErrGasUintOverflow
	}
	off := offset.Uint64()
	if err := fr.expandMemory(off, 32); err != nil {
		return err
	}
	offset.SetBytes(fr.memory.view(off, 32))
	return nil
}

func opMstore(evm *EVM, fr *Frame, _ uint32) error {
	offset := fr.stack.pop()
	value := fr.stack.pop()
	if !offset.IsUint64() {
		return ErrGasUintOverflow
	}
	off := offset.Uint64()
	if err := fr.expandMemory(off, 32); err != nil {
		return err
	}
	b := value.Bytes32()
	fr.memory.Set(off, b[:])
	return nil
}

func opMstore8(evm *EVM, fr *Frame, _ uint32) error {
	offset := fr.stack.pop()
	value := fr.stack.pop()
	if !offset.IsUint64() {
		return ErrGasUintOverflow
	}
	off := offset.Uint64()
	if err := fr.expandMemory(off, 1); err != nil {
		return err
	}
	fr.memory.SetByte(off, byte(value.Uint64()))
	return nil
}

func opMcopy(evm *EVM, fr *Frame, _ uint32) error {
	dstW := fr.stack.pop()
	srcW := fr.stack.pop()
	sizeW := fr.stack.pop()
	dst, size, err := operands(dstW, sizeW)
	if err != nil {
		return err
	}
	src, _, err := operands(srcW, sizeW)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := fr.expandMemory(dst, size); err != nil {
		return err
	}
	if err := fr.expandMemory(src, size); err != nil {
		return err
	}
	if err := chargeCopy(fr, size); err != nil {
		return err
	}
	fr.memory.Copy(dst, src, size)
	return nil
}

// --- hashing ---

func opKeccak256(evm *EVM, fr *Frame, _ uint32) error {
	offW := fr.stack.pop()
	sizeW := fr.stack.peek()
	off, size, err := operands(offW, sizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(off, size); err != nil {
		return err
	}
	if err := fr.charge(toWordSize(size) * Keccak256WordGas); err != nil {
		return err
	}
	var data []byte
	if size > 0 {
		data = fr.memory.view(off, size)
	}
	sizeW.SetBytes(crypto.Keccak256(data))
	return nil
}

// --- copies ---

func opCalldataCopy(evm *EVM, fr *Frame, _ uint32) error {
	return copyToMemory(fr, fr.Input)
}

func opCodeCopy(evm *EVM, fr *Frame, _ uint32) error {
	return copyToMemory(fr, fr.Contract.Code)
}

// copyToMemory implements CALLDATACOPY/CODECOPY: pop memOffset,
// srcOffset, size; out-of-range source bytes read as zero.
func copyToMemory(fr *Frame, src []byte) error {
	memW := fr.stack.pop()
	srcW := fr.stack.pop()
	sizeW := fr.stack.pop()
	memOff, size, err := operands(memW, sizeW)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if err := fr.expandMemory(memOff, size); err != nil {
		return err
	}
	if err := chargeCopy(fr, size); err != nil {
		return err
	}
	var srcOff uint64
	if srcW.IsUint64() {
		srcOff = srcW.Uint64()
	} else {
		srcOff = uint64(len(src))
	}
	fr.memory.Set(memOff, getData(src, srcOff, size))
	return nil
}

func opReturndataCopy(evm *EVM, fr *Frame, _ uint32) error {
	memW := fr.stack.pop()
	dataW := fr.stack.pop()
	sizeW := fr.stack.pop()
	memOff, size, err := operands(memW, sizeW)
	if err != nil {
		return err
	}
	// Strict range check, even for zero size at an out-of-range offset.
	var end uint256.Int
	end.Add(dataW, sizeW)
	if !end.IsUint64() || end.Uint64() > uint64(len(fr.returnData)) {
		return ErrReturnDataOutOfBounds
	}
	if size == 0 {
		return nil
	}
	if err := fr.expandMemory(memOff, size); err != nil {
		return err
	}
	if err := chargeCopy(fr, size); err != nil {
		return err
	}
	fr.memory.Set(memOff, fr.returnData[dataW.Uint64():end.Uint64()])
	return nil
}

func opExtcodeCopy(evm *EVM, fr *Frame, _ uint32) error {
	addrW := fr.stack.pop()
	memW := fr.stack.pop()
	srcW := fr.stack.pop()
	sizeW := fr.stack.pop()
	addr := wordToAddress(addrW)
	memOff, size, err := operands(memW, sizeW)
	if err != nil {
		return err
	}
	if size > 0 {
		if err := fr.expandMemory(memOff, size); err != nil {
			return err
		}
		if err := chargeCopy(fr, size); err != nil {
			return err
		}
	}
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	var srcOff uint64
	code := evm.host.Code(addr)
	if srcW.IsUint64() {
		srcOff = srcW.Uint64()
	} else {
		srcOff = uint64(len(code))
	}
	fr.memory.Set(memOff, getData(code, srcOff, size))
	return nil
}

// --- account access ---

func opBalance(evm *EVM, fr *Frame, _ uint32) error {
	slot := fr.stack.peek()
	addr := wordToAddress(slot)
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	bal := evm.host.Balance(addr)
	*slot = bal
	return nil
}

func opExtcodeSize(evm *EVM, fr *Frame, _ uint32) error {
	slot := fr.stack.peek()
	addr := wordToAddress(slot)
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	slot.SetUint64(uint64(evm.host.CodeSize(addr)))
	return nil
}

func opExtcodeHash(evm *EVM, fr *Frame, _ uint32) error {
	slot := fr.stack.peek()
	addr := wordToAddress(slot)
	if err := chargeColdAccount(evm, fr, addr); err != nil {
		return err
	}
	hash := evm.host.CodeHash(addr)
	slot.SetBytes32(hash[:])
	return nil
}

// --- storage ---

func opSload(evm *EVM, fr *Frame, _ uint32) error {
	slot := fr.stack.peek()
	key := types.Hash(slot.Bytes32())
	cost := evm.host.AccessSlot(fr.Contract.Address, key)
	if err := fr.charge(cost - WarmStorageReadCost); err != nil {
		return err
	}
	val := evm.host.SLoad(fr.Contract.Address, key)
	slot.SetBytes32(val[:])
	return nil
}

// opSstore implements the EIP-2200 net gas metering with the EIP-2929
// cold surcharge and EIP-3529 refund schedule.
func opSstore(evm *EVM, fr *Frame, correction uint32) error {
	if fr.Static {
		return ErrWriteProtection
	}
	// EIP-2200 sentry: observed against the sequential gas level.
	if fr.gas+uint64(correction) <= SstoreSentryGas {
		return ErrOutOfGas
	}
	keyW := fr.stack.pop()
	valW := fr.stack.pop()
	addr := fr.Contract.Address
	key := types.Hash(keyW.Bytes32())
	value := types.Hash(valW.Bytes32())

	var cost uint64
	if evm.host.AccessSlot(addr, key) == ColdSloadCost {
		cost += ColdSloadCost
	}

	current := evm.host.SLoad(addr, key)
	switch {
	case value == current:
		cost += WarmStorageReadCost
	default:
		original := evm.host.OriginalStorage(addr, key)
		if original == current {
			if original.IsZero() {
				cost += SstoreSetGas
			} else {
				cost += SstoreResetGas
				if value.IsZero() {
					evm.host.AddRefund(SstoreClearsScheduleRefund)
				}
			}
		} else {
			cost += WarmStorageReadCost
			if !original.IsZero() {
				if current.IsZero() {
					evm.host.SubRefund(SstoreClearsScheduleRefund)
				} else if value.IsZero() {
					evm.host.AddRefund(SstoreClearsScheduleRefund)
				}
			}
			if value == original {
				if original.IsZero() {
					evm.host.AddRefund(SstoreSetGas - WarmStorageReadCost)
				} else {
					evm.host.AddRefund(SstoreResetGas - WarmStorageReadCost)
				}
			}
		}
	}
	if err := fr.charge(cost); err != nil {
		return err
	}
	evm.host.SStore(addr, key, value)
	return nil
}

// --- logs ---

func makeLog(topics int) dynamicFunc {
	return func(evm *EVM, fr *Frame, _ uint32) error {
		if fr.Static {
			return ErrWriteProtection
		}
		offW := fr.stack.pop()
		sizeW := fr.stack.pop()
		off, size, err := operands(offW, sizeW)
		if err != nil {
			return err
		}
		if err := fr.expandMemory(off, size); err != nil {
			return err
		}
		if err := fr.charge(uint64(topics)*LogTopicGas + size*LogDataGas); err != nil {
			return err
		}
		ts := make([]types.Hash, topics)
		for i := 0; i < topics; i++ {
			t := fr.stack.pop()
			ts[i] = types.Hash(t.Bytes32())
		}
		evm.host.EmitLog(fr.Contract.Address, ts, fr.memory.GetCopy(off, size))
		return nil
	}
}

// --- miscellaneous ---

func opExp(evm *EVM, fr *Frame, _ uint32) error {
	base := fr.stack.pop()
	exponent := fr.stack.peek()
	if err := fr.charge(uint64(exponent.ByteLen()) * ExpByteGas); err != nil {
		return err
	}
	exponent.Exp(base, exponent)
	return nil
}

// opGas pushes the gas remaining as a sequential interpreter would see
// it: the correction re-credits the block's not-yet-reached static gas.
func opGas(evm *EVM, fr *Frame, correction uint32) error {
	fr.stack.pushSlot().SetUint64(fr.gas + uint64(correction))
	return nil
}

// --- terminal ---

func opReturn(evm *EVM, fr *Frame, _ uint32) error {
	offW := fr.stack.pop()
	sizeW := fr.stack.pop()
	off, size, err := operands(offW, sizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(off, size); err != nil {
		return err
	}
	fr.output = fr.memory.GetCopy(off, size)
	return errStopToken
}

func opRevert(evm *EVM, fr *Frame, _ uint32) error {
	offW := fr.stack.pop()
	sizeW := fr.stack.pop()
	off, size, err := operands(offW, sizeW)
	if err != nil {
		return err
	}
	if err := fr.expandMemory(off, size); err != nil {
		return err
	}
	fr.output = fr.memory.GetCopy(off, size)
	return ErrExecutionReverted
}

func opSelfdestruct(evm *EVM, fr *Frame, _ uint32) error {
	if fr.Static {
		return ErrWriteProtection
	}
	beneficiaryW := fr.stack.pop()
	beneficiary := wordToAddress(beneficiaryW)
	// EIP-2929: a cold beneficiary costs the full cold access on top of
	// the 5000 base.
	if evm.host.AccessAddress(beneficiary) == ColdAccountAccessCost {
		if err := fr.charge(ColdAccountAccessCost); err != nil {
			return err
		}
	}
	balance := evm.host.Balance(fr.Contract.Address)
	if !balance.IsZero() && evm.host.Empty(beneficiary) {
		if err := fr.charge(CallNewAccountGas); err != nil {
			return err
		}
	}
	evm.host.SelfDestruct(fr.Contract.Address, beneficiary)
	fr.output = nil
	return errStopToken
}

// dynTable maps opcodes with dynamic gas components to their handlers.
// The call family and CREATE handlers are defined in calls.go.
var dynTable = buildDynTable()

func buildDynTable() [256]dynamicFunc {
	var t [256]dynamicFunc

	t[MLOAD] = opMload
	t[MSTORE] = opMstore
	t[MSTORE8] = opMstore8
	t[MCOPY] = opMcopy
	t[KECCAK256] = opKeccak256
	t[CALLDATACOPY] = opCalldataCopy
	t[CODECOPY] = opCodeCopy
	t[RETURNDATACOPY] = opReturndataCopy
	t[EXTCODECOPY] = opExtcodeCopy
	t[BALANCE] = opBalance
	t[EXTCODESIZE] = opExtcodeSize
	t[EXTCODEHASH] = opExtcodeHash
	t[SLOAD] = opSload
	t[SSTORE] = opSstore
	t[EXP] = opExp
	t[GAS] = opGas
	t[RETURN] = opReturn
	t[REVERT] = opRevert
	t[SELFDESTRUCT] = opSelfdestruct
	for i := 0; i <= 4; i++ {
		t[LOG0+OpCode(i)] = makeLog(i)
	}

	t[CALL] = opCall
	t[CALLCODE] = opCallCode
	t[DELEGATECALL] = opDelegateCall
	t[STATICCALL] = opStaticCall
	t[CREATE] = opCreate
	t[CREATE2] = opCreate2

	return t
}
