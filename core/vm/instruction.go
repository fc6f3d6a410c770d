package vm

// instruction.go defines the pre-analyzed instruction stream the
// interpreter dispatches over: compact 32-bit headers selecting a handler
// kind, with per-kind payloads grouped into three size-bucketed arenas so
// the header array stays dense. Payloads carry the link to the next
// instruction; dispatch never does program-counter arithmetic.

import (
	"github.com/holiman/uint256"

	"github.com/embervm/ember/core/types"
)

// Tag selects the handler category and payload shape of an instruction.
type Tag uint8

const (
	TagNoop       Tag = iota // exec arena: no-op filler
	TagExec                  // exec arena: plain handler, gas and stack covered by the block
	TagBlock                 // meta arena: BEGINBLOCK admission check
	TagDynamicGas            // meta arena: handler with a dynamic gas component
	TagCondJump              // meta arena: JUMPI, resolved or dynamic
	TagJumpPC                // meta arena: JUMP, resolved or dynamic
	TagWord                  // word arena: PUSH immediate, possibly fused with a follow-up op
)

// Header is a packed instruction header: tag in the top 8 bits, payload
// slot index in the low 24.
type Header uint32

func makeHeader(tag Tag, id int) Header {
	return Header(uint32(tag)<<24 | uint32(id)&0xffffff)
}

// Tag returns the handler category.
func (h Header) Tag() Tag { return Tag(h >> 24) }

// ID returns the payload slot index in the tag's arena.
func (h Header) ID() int { return int(h & 0xffffff) }

// instOp extends the opcode space with the fused internal operations the
// peephole pass emits. Values below 0x100 are plain EVM opcodes.
type instOp uint16

const (
	opNormalize instOp = 0x100 + iota // ISZERO; ISZERO -> top = (top != 0)
	opDupTop                          // DUP1; SWAP1 == DUP1
	numInstOps
)

// fuseKind selects the word-slot handler: a plain push or a push fused
// with the following arithmetic opcode.
type fuseKind uint8

const (
	fuseNone fuseKind = iota // plain PUSH (or analysis-time constant, e.g. PC)
	fuseAdd                  // PUSH n; ADD  -> top = n + top
	fuseSub                  // PUSH n; SUB  -> top = n - top
	fuseMul                  // PUSH n; MUL  -> top = n * top
	fuseDiv                  // PUSH n; DIV  -> top = n / top (0 on zero divisor)
)

// Jump target markers stored in meta slot field a before/instead of a
// resolved header index.
const (
	targetDynamic = 0xffffffff // target popped and validated at runtime
	targetInvalid = 0xfffffffe // constant target known not to be a JUMPDEST
)

// execSlot is the 8-byte payload bucket: plain handlers and no-ops.
type execSlot struct {
	op   instOp
	next int32
}

// metaSlot is the 16-byte payload bucket: block metadata, dynamic-gas
// records, and jump payloads.
//
//	TagBlock:      a = summed static gas, b = stackReq<<16 | stackMaxGrowth
//	TagDynamicGas: a = opcode, b = gas correction (static gas of the rest
//	               of the block, for handlers that observe live gas)
//	TagJumpPC:     a = resolved target header index or a target marker
//	TagCondJump:   a = as TagJumpPC
type metaSlot struct {
	a    uint32
	b    uint32
	next int32
	pc   uint32
}

// wordSlot is the large payload bucket: a 256-bit immediate plus the
// fusion kind.
type wordSlot struct {
	value uint256.Int
	fuse  fuseKind
	next  int32
}

// BlockInfo summarizes one basic block for admission checks.
type BlockInfo struct {
	StaticGas      uint32 // sum of the block's per-opcode base costs
	StackReq       uint16 // minimum inbound stack depth
	StackMaxGrowth uint16 // maximum in-block stack growth
}

// blockInfoOf unpacks a TagBlock meta slot.
func blockInfoOf(s *metaSlot) BlockInfo {
	return BlockInfo{
		StaticGas:      s.a,
		StackReq:       uint16(s.b >> 16),
		StackMaxGrowth: uint16(s.b),
	}
}

func packBlockInfo(bi BlockInfo) (a, b uint32) {
	return bi.StaticGas, uint32(bi.StackReq)<<16 | uint32(bi.StackMaxGrowth)
}

// pcSentinel marks code positions with no block mapping.
const pcSentinel = int32(-1)

// Analysis is the immutable artifact the planner produces for one
// bytecode under one fork's rules. It is safe for concurrent read-only
// use and is shared via the analysis cache.
type Analysis struct {
	headers []Header

	exec  []execSlot
	meta  []metaSlot
	words []wordSlot

	// jumpdests is the packed sorted array of JUMPDEST code offsets.
	// Offsets fit 16 bits for any legal code or initcode size.
	jumpdests []uint16

	// pcToBlock maps a code position to the header index of the
	// BEGINBLOCK starting there, or pcSentinel. Consulted on every
	// dynamic jump.
	pcToBlock []int32

	// instToPC maps a header index back to its code position, for
	// tracing and error reporting only.
	instToPC []uint32

	code     []byte
	codeHash types.Hash
	fork     Hardfork
}

// CodeHash returns the content hash the artifact was built from.
func (a *Analysis) CodeHash() types.Hash { return a.codeHash }

// Fork returns the hardfork rules the artifact was built under.
func (a *Analysis) Fork() Hardfork { return a.fork }

// InstructionCount returns the number of emitted instructions.
func (a *Analysis) InstructionCount() int { return len(a.headers) }

// JumpdestCount returns the number of valid jump destinations.
func (a *Analysis) JumpdestCount() int { return len(a.jumpdests) }

// PCForInstruction returns the code position of a header index.
func (a *Analysis) PCForInstruction(i int) uint32 {
	if i < 0 || i >= len(a.instToPC) {
		return 0
	}
	return a.instToPC[i]
}

// hasJumpdest reports whether target is a valid jump destination, using a
// bounded linear scan of the packed offsets starting proportionally to
// the target's position in the code.
func (a *Analysis) hasJumpdest(target uint64) bool {
	n := len(a.jumpdests)
	if n == 0 || target >= uint64(len(a.code)) {
		return false
	}
	t := uint16(target)
	// Proportional start: dests are sorted by offset, so begin near
	// target/codeLen of the way in and scan outward.
	i := int(target) * n / len(a.code)
	if i >= n {
		i = n - 1
	}
	if a.jumpdests[i] <= t {
		for ; i < n; i++ {
			switch {
			case a.jumpdests[i] == t:
				return true
			case a.jumpdests[i] > t:
				return false
			}
		}
		return false
	}
	for ; i >= 0; i-- {
		switch {
		case a.jumpdests[i] == t:
			return true
		case a.jumpdests[i] < t:
			return false
		}
	}
	return false
}

// blockForPC returns the header index of the block starting at a code
// position, or pcSentinel.
func (a *Analysis) blockForPC(pc uint64) int32 {
	if pc >= uint64(len(a.pcToBlock)) {
		return pcSentinel
	}
	return a.pcToBlock[pc]
}
