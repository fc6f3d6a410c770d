package vm

// interpreter.go is the dispatch loop. Execution walks the pre-analyzed
// instruction headers through the per-payload next links; every block is
// admitted up front by its BEGINBLOCK (gas, stack floor, stack ceiling),
// after which in-block handlers skip per-instruction checks except for
// dynamic gas components.

import (
	"errors"

	"github.com/holiman/uint256"
)

// Config holds the engine configuration.
type Config struct {
	Hardfork      Hardfork
	ChainID       uint64
	MemoryLimit   uint64 // per-frame memory bound; 0 selects DefaultMemoryLimit
	DisableFusion bool
	Cache         *AnalysisCache // optional shared analysis cache
}

// EVM executes pre-analyzed bytecode against a host. An EVM instance runs
// one call tree at a time and is not safe for concurrent use; independent
// executions each get their own EVM and host handle. Analysis artifacts
// may be shared between them through the cache.
type EVM struct {
	host Host
	cfg  Config

	// cur is the frame currently executing, so nested calls entered
	// through the host can checkpoint its memory.
	cur *Frame
}

// NewEVM creates an engine bound to a host.
func NewEVM(host Host, cfg Config) *EVM {
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	return &EVM{host: host, cfg: cfg}
}

// Host returns the bound host.
func (evm *EVM) Host() Host { return evm.host }

// Config returns the engine configuration.
func (evm *EVM) Config() Config { return evm.cfg }

// analysisFor obtains the analysis artifact for a contract, consulting
// the configured cache when the contract carries a content hash.
func (evm *EVM) analysisFor(c *Contract) (*Analysis, error) {
	if c.Analysis != nil {
		return c.Analysis, nil
	}
	if evm.cfg.Cache != nil && !c.CodeHash.IsZero() {
		return evm.cfg.Cache.Get(c.Code, c.CodeHash, evm.cfg.Hardfork, !evm.cfg.DisableFusion)
	}
	return analyze(c.Code, evm.cfg.Hardfork, !evm.cfg.DisableFusion)
}

// Execute runs a contract in a fresh frame and returns its terminal
// state. Nested frames obtain an isolated view of the caller's memory
// allocation; a top-level frame gets a fresh one.
func (evm *EVM) Execute(contract *Contract, input []byte, gas uint64, static bool, depth int) *Result {
	an, err := evm.analysisFor(contract)
	if err != nil {
		return &Result{Outcome: Failed, Err: err}
	}
	contract.Analysis = an

	fr := &Frame{
		Contract: contract,
		Input:    input,
		Depth:    depth,
		Static:   static,
		gas:      gas,
	}
	if evm.cur != nil {
		fr.memory = evm.cur.memory.Child()
	} else {
		fr.memory = NewMemoryWithLimit(evm.cfg.MemoryLimit)
	}

	prev := evm.cur
	evm.cur = fr
	err = evm.dispatch(fr)
	evm.cur = prev

	switch {
	case errors.Is(err, errStopToken):
		return &Result{Outcome: Returned, GasLeft: fr.gas, Output: fr.output}
	case errors.Is(err, ErrExecutionReverted):
		return &Result{Outcome: Reverted, GasLeft: fr.gas, Output: fr.output, Err: ErrExecutionReverted}
	default:
		// Any execution error consumes all remaining gas.
		return &Result{Outcome: Failed, Err: err}
	}
}

// dispatch runs the instruction stream to a terminal state. It only ever
// returns a terminal signal: errStopToken, ErrExecutionReverted, or a
// failure.
func (evm *EVM) dispatch(fr *Frame) error {
	an := fr.Contract.Analysis
	headers := an.headers

	for i := int32(0); int(i) < len(headers); {
		h := headers[i]
		id := h.ID()

		switch h.Tag() {
		case TagBlock:
			s := &an.meta[id]
			info := blockInfoOf(s)
			if fr.gas < uint64(info.StaticGas) {
				return ErrOutOfGas
			}
			height := fr.stack.top
			if height < int(info.StackReq) {
				return ErrStackUnderflow
			}
			if height+int(info.StackMaxGrowth) > StackLimit {
				return ErrStackOverflow
			}
			fr.gas -= uint64(info.StaticGas)
			i = s.next

		case TagExec:
			s := &an.exec[id]
			if err := execTable[s.op](evm, fr); err != nil {
				return err
			}
			i = s.next

		case TagWord:
			s := &an.words[id]
			if err := wordTable[s.fuse](evm, fr, &s.value); err != nil {
				return err
			}
			i = s.next

		case TagDynamicGas:
			s := &an.meta[id]
			if err := dynTable[OpCode(s.a)](evm, fr, s.b); err != nil {
				return err
			}
			i = s.next

		case TagJumpPC:
			s := &an.meta[id]
			next, err := jumpTarget(fr, an, s)
			if err != nil {
				return err
			}
			i = next

		case TagCondJump:
			s := &an.meta[id]
			next, err := condJumpTarget(fr, an, s)
			if err != nil {
				return err
			}
			i = next

		default: // TagNoop
			i = an.exec[id].next
		}
	}
	// The stream always ends in a terminal instruction; running off the
	// end can only mean an unreachable sentinel region.
	return errStopToken
}

// jumpTarget resolves a JUMP. Fused jumps carry their target from
// analysis; dynamic jumps pop it and validate against the packed
// destination table before consulting the pc-to-block map.
func jumpTarget(fr *Frame, an *Analysis, s *metaSlot) (int32, error) {
	switch s.a {
	case targetDynamic:
		t := fr.stack.pop()
		return dynamicJumpTarget(an, t)
	case targetInvalid:
		return 0, ErrInvalidJump
	default:
		return int32(s.a), nil
	}
}

// condJumpTarget resolves a JUMPI: pop condition (and, when not fused,
// the target first); zero condition falls through.
func condJumpTarget(fr *Frame, an *Analysis, s *metaSlot) (int32, error) {
	if s.b == fusedJumpMark {
		cond := fr.stack.pop()
		if cond.IsZero() {
			return s.next, nil
		}
		if s.a == targetInvalid {
			return 0, ErrInvalidJump
		}
		return int32(s.a), nil
	}
	t := fr.stack.pop()
	cond := fr.stack.pop()
	if cond.IsZero() {
		return s.next, nil
	}
	return dynamicJumpTarget(an, t)
}

func dynamicJumpTarget(an *Analysis, t *uint256.Int) (int32, error) {
	if !t.IsUint64() {
		return 0, ErrInvalidJump
	}
	dest := t.Uint64()
	if !an.hasJumpdest(dest) {
		return 0, ErrInvalidJump
	}
	next := an.blockForPC(dest)
	if next == pcSentinel {
		return 0, ErrInvalidJump
	}
	return next, nil
}
