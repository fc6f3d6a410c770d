package vm

// analysis.go is the bytecode planner: a single forward pass that turns
// raw contract code into the instruction stream the interpreter
// dispatches over. It classifies code vs PUSH-immediate bytes, collects
// the packed JUMPDEST table, injects BEGINBLOCK instructions at block
// boundaries, pre-sums each block's static gas and stack bounds, resolves
// constant jump targets, and fuses a small safe set of instruction pairs.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/crypto"
)

// analysisBudgetSlack bounds the emitted stream defensively against
// malformed input: one instruction per code byte, plus a block per
// position, can never exceed this.
const analysisBudgetSlack = 64

// Analyze builds the instruction stream for code under the given fork
// rules, with peephole fusion enabled. The result is deterministic,
// immutable, and safe to share across goroutines.
func Analyze(code []byte, fork Hardfork) (*Analysis, error) {
	return analyze(code, fork, true)
}

func analyze(code []byte, fork Hardfork, fusion bool) (*Analysis, error) {
	if len(code) > MaxInitCodeSize {
		return nil, ErrCodeTooLarge
	}

	b := &streamBuilder{
		a: &Analysis{
			code:      code,
			codeHash:  crypto.Keccak256Hash(code),
			fork:      fork,
			pcToBlock: make([]int32, len(code)+1),
		},
		fork:   fork,
		fusion: fusion,
		budget: 2*len(code) + analysisBudgetSlack,
	}
	for i := range b.a.pcToBlock {
		b.a.pcToBlock[i] = pcSentinel
	}

	b.scanCodeBytes(code)
	if err := b.emit(code); err != nil {
		return nil, err
	}
	b.resolveJumps()
	return b.a, nil
}

// streamBuilder holds the emission state of one analysis run.
type streamBuilder struct {
	a      *Analysis
	fork   Hardfork
	fusion bool
	budget int

	isCode []uint64 // bitmap: opcode byte vs PUSH immediate data

	// Open-block accumulators.
	blockOpen   bool
	blockMeta   int // meta slot index of the open block
	staticGas   uint64
	stackChange int
	stackReq    int
	maxGrowth   int

	// Dynamic-gas slots awaiting their gas correction, and jump slots
	// awaiting target resolution.
	pending []pendingCorrection
	jumps   []int
}

type pendingCorrection struct {
	meta     int
	gasSoFar uint64
}

// scanCodeBytes runs the code-byte classification and JUMPDEST discovery
// passes: a forward walk that advances 1+n past PUSHn and records every
// code-byte 0x5B in the packed destination table.
func (b *streamBuilder) scanCodeBytes(code []byte) {
	b.isCode = make([]uint64, (len(code)+63)/64)
	for pc := 0; pc < len(code); {
		b.isCode[pc/64] |= 1 << (pc % 64)
		op := OpCode(code[pc])
		if op == JUMPDEST {
			b.a.jumpdests = append(b.a.jumpdests, uint16(pc))
		}
		pc += 1 + op.PushSize()
	}
}

func (b *streamBuilder) codeByte(pc int) bool {
	return b.isCode[pc/64]&(1<<(pc%64)) != 0
}

// --- arena emission ---

func (b *streamBuilder) appendHeader(tag Tag, id, pc int) int {
	i := len(b.a.headers)
	b.a.headers = append(b.a.headers, makeHeader(tag, id))
	b.a.instToPC = append(b.a.instToPC, uint32(pc))
	return i
}

func (b *streamBuilder) emitExec(op instOp, pc int) {
	id := len(b.a.exec)
	b.a.exec = append(b.a.exec, execSlot{op: op, next: int32(len(b.a.headers)) + 1})
	b.appendHeader(TagExec, id, pc)
}

func (b *streamBuilder) emitMeta(tag Tag, av, bv uint32, pc int) int {
	id := len(b.a.meta)
	b.a.meta = append(b.a.meta, metaSlot{a: av, b: bv, next: int32(len(b.a.headers)) + 1, pc: uint32(pc)})
	b.appendHeader(tag, id, pc)
	return id
}

func (b *streamBuilder) emitWord(value *uint256.Int, fuse fuseKind, pc int) {
	id := len(b.a.words)
	b.a.words = append(b.a.words, wordSlot{value: *value, fuse: fuse, next: int32(len(b.a.headers)) + 1})
	b.appendHeader(TagWord, id, pc)
}

// --- block lifecycle ---

func (b *streamBuilder) openBlock(pc int) int {
	headerIdx := len(b.a.headers)
	b.blockMeta = b.emitMeta(TagBlock, 0, 0, pc)
	b.blockOpen = true
	b.staticGas = 0
	b.stackChange = 0
	b.stackReq = 0
	b.maxGrowth = 0
	b.pending = b.pending[:0]
	return headerIdx
}

func (b *streamBuilder) closeBlock() {
	if !b.blockOpen {
		return
	}
	info := BlockInfo{
		StaticGas:      uint32(b.staticGas),
		StackReq:       clampStack(b.stackReq),
		StackMaxGrowth: clampStack(b.maxGrowth),
	}
	b.a.meta[b.blockMeta].a, b.a.meta[b.blockMeta].b = packBlockInfo(info)
	for _, p := range b.pending {
		b.a.meta[p.meta].b = uint32(b.staticGas - p.gasSoFar)
	}
	b.pending = b.pending[:0]
	b.blockOpen = false
}

// clampStack caps a stack bound at the uint16 range. Anything beyond the
// 1024-slot limit is unadmittable either way.
func clampStack(v int) uint16 {
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}

// account folds one opcode's static properties into the open block. Fused
// pairs account both members, which is what keeps fusion gas- and
// stack-neutral.
func (b *streamBuilder) account(tr *opTrait) {
	if req := int(tr.pops) - b.stackChange; req > b.stackReq {
		b.stackReq = req
	}
	b.stackChange += int(tr.pushes) - int(tr.pops)
	if b.stackChange > b.maxGrowth {
		b.maxGrowth = b.stackChange
	}
	b.staticGas += uint64(tr.gas)
}

// --- main emission pass ---

func (b *streamBuilder) emit(code []byte) error {
	pc := 0
	for pc < len(code) {
		if len(b.a.headers) > b.budget {
			return ErrAnalysisBudget
		}
		op := OpCode(code[pc])

		if op == JUMPDEST {
			// A jump destination always starts a fresh block; the
			// BEGINBLOCK stands in for the JUMPDEST instruction and its
			// 1 gas is part of the new block.
			b.closeBlock()
			headerIdx := b.openBlock(pc)
			b.a.pcToBlock[pc] = int32(headerIdx)
			b.account(&traits[JUMPDEST])
			pc++
			continue
		}
		if !b.blockOpen {
			b.openBlock(pc)
		}

		tr := &traits[op]
		if !tr.valid || !b.fork.AtLeast(tr.fork) {
			// Unknown to the active fork: consumes one byte and fails
			// with ErrInvalidOpCode when reached.
			b.emitExec(instOp(INVALID), pc)
			b.closeBlock()
			pc++
			continue
		}

		switch {
		case op.IsPush() || op == PUSH0:
			pc = b.emitPush(code, pc, op)

		case b.fusion && op == ISZERO && pc+1 < len(code) && OpCode(code[pc+1]) == ISZERO:
			b.account(tr)
			b.account(tr)
			b.emitExec(opNormalize, pc)
			pc += 2

		case b.fusion && op == DUP1 && pc+1 < len(code) && OpCode(code[pc+1]) == SWAP1:
			b.account(&traits[DUP1])
			b.account(&traits[SWAP1])
			b.emitExec(opDupTop, pc)
			pc += 2

		case op == JUMP:
			b.account(tr)
			id := b.emitMeta(TagJumpPC, targetDynamic, 0, pc)
			b.jumps = append(b.jumps, id)
			b.closeBlock()
			pc++

		case op == JUMPI:
			b.account(tr)
			id := b.emitMeta(TagCondJump, targetDynamic, 0, pc)
			b.jumps = append(b.jumps, id)
			// The fall-through path starts a new block.
			b.closeBlock()
			pc++

		case op == PC:
			// The program counter is an analysis-time constant.
			b.account(tr)
			b.emitWord(uint256.NewInt(uint64(pc)), fuseNone, pc)
			pc++

		case tr.dynamic:
			b.account(tr)
			id := b.emitMeta(TagDynamicGas, uint32(op), 0, pc)
			b.pending = append(b.pending, pendingCorrection{meta: id, gasSoFar: b.staticGas})
			if tr.terminal {
				b.closeBlock()
			}
			pc++

		default:
			b.account(tr)
			b.emitExec(instOp(op), pc)
			if tr.terminal {
				b.closeBlock()
			}
			pc++
		}
	}

	// Sentinel: execution falling off the end of code stops. Needed when
	// the last block is still open (or the code is empty).
	if b.blockOpen || len(b.a.headers) == 0 {
		if !b.blockOpen {
			b.openBlock(len(code))
		}
		b.account(&traits[STOP])
		b.emitExec(instOp(STOP), len(code))
		b.closeBlock()
	}
	return nil
}

// emitPush handles PUSH0..PUSH32 including the peephole fusions that
// start with a constant push. Returns the next pc.
func (b *streamBuilder) emitPush(code []byte, pc int, op OpCode) int {
	n := op.PushSize()
	var value uint256.Int
	if n > 0 {
		imm := code[pc+1:]
		if len(imm) >= n {
			imm = imm[:n]
		} else {
			// Truncated push at the end of code: missing bytes read as
			// zero, so the immediate is the present bytes zero-extended
			// on the right.
			padded := make([]byte, n)
			copy(padded, imm)
			imm = padded
		}
		value.SetBytes(imm)
	}
	b.account(&traits[op])
	nextPC := pc + 1 + n

	if b.fusion && nextPC < len(code) {
		switch nxt := OpCode(code[nextPC]); nxt {
		case ADD:
			b.account(&traits[nxt])
			b.emitWord(&value, fuseAdd, pc)
			return nextPC + 1
		case SUB:
			b.account(&traits[nxt])
			b.emitWord(&value, fuseSub, pc)
			return nextPC + 1
		case MUL:
			b.account(&traits[nxt])
			b.emitWord(&value, fuseMul, pc)
			return nextPC + 1
		case DIV:
			b.account(&traits[nxt])
			b.emitWord(&value, fuseDiv, pc)
			return nextPC + 1
		case JUMP, JUMPI:
			b.account(&traits[nxt])
			target := uint32(targetInvalid)
			if value.IsUint64() {
				if t := value.Uint64(); t < uint64(len(code)) && b.codeByte(int(t)) && OpCode(code[t]) == JUMPDEST {
					// Store the destination pc; resolveJumps maps it to
					// the block's header index once all blocks exist.
					target = uint32(t)
				}
			}
			tag := TagJumpPC
			if nxt == JUMPI {
				tag = TagCondJump
			}
			id := b.emitMeta(tag, target, fusedJumpMark, nextPC)
			if target != targetInvalid {
				b.jumps = append(b.jumps, id)
			}
			b.closeBlock()
			return nextPC + 1
		}
	}
	b.emitWord(&value, fuseNone, pc)
	return nextPC
}

// fusedJumpMark in metaSlot.b distinguishes a fused PUSH+JUMP (target is
// constant, nothing popped) from a dynamic jump.
const fusedJumpMark = 1

// resolveJumps rewrites jump payloads holding a destination pc into the
// header index of the destination block.
func (b *streamBuilder) resolveJumps() {
	for _, id := range b.jumps {
		s := &b.a.meta[id]
		if s.a == targetDynamic || s.a == targetInvalid {
			continue
		}
		s.a = uint32(b.a.pcToBlock[s.a])
	}
}
