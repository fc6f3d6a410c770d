package vm

// instructions.go holds the handlers for instructions whose gas and stack
// effects are fully covered by block admission. Handlers with dynamic gas
// components live in gas_dynamic.go and calls.go.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// executionFunc is a handler whose gas and stack checks were performed by
// the admitting BEGINBLOCK.
type executionFunc func(evm *EVM, fr *Frame) error

// wordFunc is a handler carrying a 256-bit analysis-time constant: a PUSH
// immediate, a PC value, or a push fused with the following opcode.
type wordFunc func(evm *EVM, fr *Frame, val *uint256.Int) error

// dynamicFunc is a handler with a dynamic gas component. correction is
// the static gas of the remainder of the block, for handlers that observe
// live gas (GAS, the call family, SSTORE's sentry).
type dynamicFunc func(evm *EVM, fr *Frame, correction uint32) error

// wordToAddress truncates a stack word to a 20-byte address.
func wordToAddress(w *uint256.Int) types.Address {
	return types.Address(w.Bytes20())
}

// getData returns size bytes of data starting at start, zero-padded past
// the end.
func getData(data []byte, start, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length {
		end = length
	}
	out := make([]byte, size)
	copy(out, data[start:end])
	return out
}

// operands converts a memory (offset, size) operand pair to uint64,
// rejecting sizes and offsets no gas budget could ever pay for.
func operands(offset, size *uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !size.IsUint64() || !offset.IsUint64() {
		return 0, 0, ErrGasUintOverflow
	}
	return offset.Uint64(), size.Uint64(), nil
}

// --- arithmetic ---

func opAdd(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Add(x, y)
	return nil
}

func opMul(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Mul(x, y)
	return nil
}

func opSub(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Sub(x, y)
	return nil
}

func opDiv(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Div(x, y)
	return nil
}

func opSdiv(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.SDiv(x, y)
	return nil
}

func opMod(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Mod(x, y)
	return nil
}

func opSmod(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.SMod(x, y)
	return nil
}

func opAddmod(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.pop()
	m := fr.stack.peek()
	m.AddMod(x, y, m)
	return nil
}

func opMulmod(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.pop()
	m := fr.stack.peek()
	m.MulMod(x, y, m)
	return nil
}

func opSignExtend(evm *EVM, fr *Frame) error {
	back := fr.stack.pop()
	num := fr.stack.peek()
	num.ExtendSign(num, back)
	return nil
}

// --- comparison and bitwise ---

func opLt(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opGt(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opSlt(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opSgt(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opEq(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil
}

func opIszero(evm *EVM, fr *Frame) error {
	x := fr.stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil
}

func opAnd(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.And(x, y)
	return nil
}

func opOr(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Or(x, y)
	return nil
}

func opXor(evm *EVM, fr *Frame) error {
	x := fr.stack.pop()
	y := fr.stack.peek()
	y.Xor(x, y)
	return nil
}

func opNot(evm *EVM, fr *Frame) error {
	x := fr.stack.peek()
	x.Not(x)
	return nil
}

func opByte(evm *EVM, fr *Frame) error {
	th := fr.stack.pop()
	val := fr.stack.peek()
	val.Byte(th)
	return nil
}

func opSHL(evm *EVM, fr *Frame) error {
	shift := fr.stack.pop()
	value := fr.stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil
}

func opSHR(evm *EVM, fr *Frame) error {
	shift := fr.stack.pop()
	value := fr.stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil
}

func opSAR(evm *EVM, fr *Frame) error {
	shift := fr.stack.pop()
	value := fr.stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
		return nil
	}
	value.SRsh(value, uint(shift.Uint64()))
	return nil
}

// --- environment ---

func opAddress(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetBytes20(fr.Contract.Address[:])
	return nil
}

func opOrigin(evm *EVM, fr *Frame) error {
	origin := evm.host.TxContext().Origin
	fr.stack.pushSlot().SetBytes20(origin[:])
	return nil
}

func opCaller(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetBytes20(fr.Contract.CallerAddress[:])
	return nil
}

func opCallValue(evm *EVM, fr *Frame) error {
	fr.stack.push(&fr.Contract.Value)
	return nil
}

func opCalldataLoad(evm *EVM, fr *Frame) error {
	x := fr.stack.peek()
	if !x.IsUint64() {
		x.Clear()
		return nil
	}
	x.SetBytes(getData(fr.Input, x.Uint64(), 32))
	return nil
}

func opCalldataSize(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(uint64(len(fr.Input)))
	return nil
}

func opCodeSize(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(uint64(len(fr.Contract.Code)))
	return nil
}

func opGasPrice(evm *EVM, fr *Frame) error {
	price := evm.host.TxContext().GasPrice
	fr.stack.push(&price)
	return nil
}

func opReturndataSize(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(uint64(len(fr.returnData)))
	return nil
}

func opSelfBalance(evm *EVM, fr *Frame) error {
	bal := evm.host.Balance(fr.Contract.Address)
	fr.stack.push(&bal)
	return nil
}

func opChainID(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(evm.cfg.ChainID)
	return nil
}

// --- block ---

func opBlockhash(evm *EVM, fr *Frame) error {
	num := fr.stack.peek()
	if !num.IsUint64() {
		num.Clear()
		return nil
	}
	hash := evm.host.BlockHash(num.Uint64())
	num.SetBytes32(hash[:])
	return nil
}

func opCoinbase(evm *EVM, fr *Frame) error {
	coinbase := evm.host.BlockContext().Coinbase
	fr.stack.pushSlot().SetBytes20(coinbase[:])
	return nil
}

func opTimestamp(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(evm.host.BlockContext().Time)
	return nil
}

func opNumber(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(evm.host.BlockContext().Number)
	return nil
}

func opPrevRandao(evm *EVM, fr *Frame) error {
	randao := evm.host.BlockContext().PrevRandao
	fr.stack.pushSlot().SetBytes32(randao[:])
	return nil
}

func opGasLimit(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(evm.host.BlockContext().GasLimit)
	return nil
}

func opBaseFee(evm *EVM, fr *Frame) error {
	fee := evm.host.BlockContext().BaseFee
	fr.stack.push(&fee)
	return nil
}

func opBlobHash(evm *EVM, fr *Frame) error {
	index := fr.stack.peek()
	hashes := evm.host.TxContext().BlobHashes
	if index.LtUint64(uint64(len(hashes))) {
		h := hashes[index.Uint64()]
		index.SetBytes32(h[:])
	} else {
		index.Clear()
	}
	return nil
}

func opBlobBaseFee(evm *EVM, fr *Frame) error {
	fee := evm.host.BlockContext().BlobBaseFee
	fr.stack.push(&fee)
	return nil
}

// --- stack and flow ---

func opPop(evm *EVM, fr *Frame) error {
	fr.stack.pop()
	return nil
}

func opMsize(evm *EVM, fr *Frame) error {
	fr.stack.pushSlot().SetUint64(fr.memory.Size())
	return nil
}

func makeDup(n int) executionFunc {
	return func(evm *EVM, fr *Frame) error {
		fr.stack.dup(n)
		return nil
	}
}

func makeSwap(n int) executionFunc {
	return func(evm *EVM, fr *Frame) error {
		fr.stack.swap(n)
		return nil
	}
}

// --- transient storage (EIP-1153) ---

func opTload(evm *EVM, fr *Frame) error {
	key := fr.stack.peek()
	val := evm.host.TLoad(fr.Contract.Address, types.Hash(key.Bytes32()))
	key.SetBytes32(val[:])
	return nil
}

func opTstore(evm *EVM, fr *Frame) error {
	if fr.Static {
		return ErrWriteProtection
	}
	key := fr.stack.pop()
	val := fr.stack.pop()
	evm.host.TStore(fr.Contract.Address, types.Hash(key.Bytes32()), types.Hash(val.Bytes32()))
	return nil
}

// --- terminal ---

func opStop(evm *EVM, fr *Frame) error {
	fr.output = nil
	return errStopToken
}

func opInvalid(evm *EVM, fr *Frame) error {
	return ErrInvalidOpCode
}

// --- fused internal ops ---

// opNormalizeExec implements the ISZERO;ISZERO pair: collapse the top
// word to its boolean value.
func opNormalizeExec(evm *EVM, fr *Frame) error {
	x := fr.stack.peek()
	if !x.IsZero() {
		x.SetOne()
	}
	return nil
}

// opDupTopExec implements DUP1;SWAP1, which is observationally DUP1.
func opDupTopExec(evm *EVM, fr *Frame) error {
	fr.stack.dup(1)
	return nil
}

// --- word handlers ---

func wordPush(evm *EVM, fr *Frame, val *uint256.Int) error {
	fr.stack.push(val)
	return nil
}

func wordAdd(evm *EVM, fr *Frame, val *uint256.Int) error {
	y := fr.stack.peek()
	y.Add(val, y)
	return nil
}

func wordSub(evm *EVM, fr *Frame, val *uint256.Int) error {
	y := fr.stack.peek()
	y.Sub(val, y)
	return nil
}

func wordMul(evm *EVM, fr *Frame, val *uint256.Int) error {
	y := fr.stack.peek()
	y.Mul(val, y)
	return nil
}

func wordDiv(evm *EVM, fr *Frame, val *uint256.Int) error {
	y := fr.stack.peek()
	y.Div(val, y)
	return nil
}

// --- dispatch tables ---

var wordTable = [fuseDiv + 1]wordFunc{
	fuseNone: wordPush,
	fuseAdd:  wordAdd,
	fuseSub:  wordSub,
	fuseMul:  wordMul,
	fuseDiv:  wordDiv,
}

var execTable = buildExecTable()

func buildExecTable() [numInstOps]executionFunc {
	var t [numInstOps]executionFunc

	t[STOP] = opStop
	t[ADD] = opAdd
	t[MUL] = opMul
	t[SUB] = opSub
	t[DIV] = opDiv
	t[SDIV] = opSdiv
	t[MOD] = opMod
	t[SMOD] = opSmod
	t[ADDMOD] = opAddmod
	t[MULMOD] = opMulmod
	t[SIGNEXTEND] = opSignExtend

	t[LT] = opLt
	t[GT] = opGt
	t[SLT] = opSlt
	t[SGT] = opSgt
	t[EQ] = opEq
	t[ISZERO] = opIszero
	t[AND] = opAnd
	t[OR] = opOr
	t[XOR] = opXor
	t[NOT] = opNot
	t[BYTE] = opByte
	t[SHL] = opSHL
	t[SHR] = opSHR
	t[SAR] = opSAR

	t[ADDRESS] = opAddress
	t[ORIGIN] = opOrigin
	t[CALLER] = opCaller
	t[CALLVALUE] = opCallValue
	t[CALLDATALOAD] = opCalldataLoad
	t[CALLDATASIZE] = opCalldataSize
	t[CODESIZE] = opCodeSize
	t[GASPRICE] = opGasPrice
	t[RETURNDATASIZE] = opReturndataSize
	t[CHAINID] = opChainID
	t[SELFBALANCE] = opSelfBalance

	t[BLOCKHASH] = opBlockhash
	t[COINBASE] = opCoinbase
	t[TIMESTAMP] = opTimestamp
	t[NUMBER] = opNumber
	t[PREVRANDAO] = opPrevRandao
	t[GASLIMIT] = opGasLimit
	t[BASEFEE] = opBaseFee
	t[BLOBHASH] = opBlobHash
	t[BLOBBASEFEE] = opBlobBaseFee

	t[POP] = opPop
	t[MSIZE] = opMsize
	t[TLOAD] = opTload
	t[TSTORE] = opTstore
	t[INVALID] = opInvalid

	for i := 0; i < 16; i++ {
		t[DUP1+OpCode(i)] = makeDup(i + 1)
		t[SWAP1+OpCode(i)] = makeSwap(i + 1)
	}

	t[opNormalize] = opNormalizeExec
	t[opDupTop] = opDupTopExec

	return t
}
