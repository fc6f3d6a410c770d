package vm

import (
	"bytes"
	"testing"
)

func TestAnalyzeEmptyCode(t *testing.T) {
	an, err := Analyze(nil, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// A block header plus the STOP sentinel.
	if an.InstructionCount() != 2 {
		t.Fatalf("instruction count = %d, want 2", an.InstructionCount())
	}
	if an.headers[0].Tag() != TagBlock {
		t.Errorf("first instruction tag = %d, want TagBlock", an.headers[0].Tag())
	}
	if op := an.exec[an.headers[1].ID()].op; op != instOp(STOP) {
		t.Errorf("sentinel op = %#x, want STOP", op)
	}
}

func TestAnalyzeCodeTooLarge(t *testing.T) {
	code := make([]byte, MaxInitCodeSize+1)
	if _, err := Analyze(code, Cancun); err != ErrCodeTooLarge {
		t.Fatalf("got %v, want ErrCodeTooLarge", err)
	}
}

func TestJumpdestDiscovery(t *testing.T) {
	// PUSH1 0x5b hides a fake dest in immediate data; the real one sits
	// at position 2.
	an, err := Analyze([]byte{0x60, 0x5b, 0x5b}, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if an.JumpdestCount() != 1 || an.jumpdests[0] != 2 {
		t.Fatalf("jumpdests = %v, want [2]", an.jumpdests)
	}
	if an.hasJumpdest(1) {
		t.Error("position 1 is PUSH data, not a jumpdest")
	}
	if !an.hasJumpdest(2) {
		t.Error("position 2 is a jumpdest")
	}
}

func TestJumpdestSearchProportionalStart(t *testing.T) {
	// Scatter jumpdests through a long run of no-ops and check
	// membership matches a naive scan at every position.
	code := make([]byte, 4000)
	for i := range code {
		code[i] = 0x5a // GAS: 1-byte op
	}
	for _, p := range []int{0, 7, 100, 1999, 2000, 3998, 3999} {
		code[p] = 0x5b
	}
	an, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for pc := 0; pc < len(code); pc++ {
		want := code[pc] == 0x5b
		if got := an.hasJumpdest(uint64(pc)); got != want {
			t.Fatalf("hasJumpdest(%d) = %t, want %t", pc, got, want)
		}
	}
	if an.hasJumpdest(uint64(len(code))) {
		t.Error("position past end must not be a jumpdest")
	}
}

func TestBlockMetadata(t *testing.T) {
	// PUSH1 1; PUSH1 1; ADD (+ sentinel STOP): one block, 9 static gas,
	// no inbound stack requirement, growth 2.
	an, err := Analyze(mustHexA(t, "6001600101"), Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if an.headers[0].Tag() != TagBlock {
		t.Fatal("stream must start with BEGINBLOCK")
	}
	info := blockInfoOf(&an.meta[an.headers[0].ID()])
	if info.StaticGas != 9 {
		t.Errorf("static gas = %d, want 9", info.StaticGas)
	}
	if info.StackReq != 0 {
		t.Errorf("stack req = %d, want 0", info.StackReq)
	}
	if info.StackMaxGrowth != 2 {
		t.Errorf("stack growth = %d, want 2", info.StackMaxGrowth)
	}
}

func TestBlockStackRequirement(t *testing.T) {
	// Bare ADD requires two inbound items.
	an, err := Analyze([]byte{0x01}, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	info := blockInfoOf(&an.meta[an.headers[0].ID()])
	if info.StackReq != 2 {
		t.Errorf("stack req = %d, want 2", info.StackReq)
	}
}

func TestPCToBlockInvariant(t *testing.T) {
	code := mustHexA(t, "6006565b60015b00")
	an, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for pc, idx := range an.pcToBlock {
		if idx == pcSentinel {
			continue
		}
		if an.headers[idx].Tag() != TagBlock {
			t.Errorf("pcToBlock[%d] = %d does not point at a BEGINBLOCK", pc, idx)
		}
	}
	// Every jumpdest is mapped.
	for _, d := range an.jumpdests {
		if an.blockForPC(uint64(d)) == pcSentinel {
			t.Errorf("jumpdest %d has no block mapping", d)
		}
	}
}

func TestBucketSlotAccounting(t *testing.T) {
	// Sum of bucket slot counts equals the total emitted instructions,
	// and every header references a valid slot.
	codes := [][]byte{
		nil,
		mustHexA(t, "6001600101"),
		mustHexA(t, "6006565b60015b00"),
		mustHexA(t, "60ff60005260206000f3"),
		mustHexA(t, "600054600055"),
		bytes.Repeat([]byte{0x5b}, 40),
	}
	for _, code := range codes {
		an, err := Analyze(code, Cancun)
		if err != nil {
			t.Fatalf("Analyze(%x): %v", code, err)
		}
		total := len(an.exec) + len(an.meta) + len(an.words)
		if total != an.InstructionCount() {
			t.Errorf("%x: bucket slots %d != instructions %d", code, total, an.InstructionCount())
		}
		if an.InstructionCount() != len(an.instToPC) {
			t.Errorf("%x: instToPC length mismatch", code)
		}
		for i, h := range an.headers {
			var n int
			switch h.Tag() {
			case TagExec, TagNoop:
				n = len(an.exec)
			case TagWord:
				n = len(an.words)
			default:
				n = len(an.meta)
			}
			if h.ID() >= n {
				t.Fatalf("%x: header %d references slot %d of %d", code, i, h.ID(), n)
			}
		}
	}
}

func TestHeaderBudgetInvariant(t *testing.T) {
	// Header count <= code length + synthetic blocks + sentinel.
	code := mustHexA(t, "60016005575b00")
	an, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	blocks := 0
	for _, h := range an.headers {
		if h.Tag() == TagBlock {
			blocks++
		}
	}
	if an.InstructionCount() > len(code)+blocks+1 {
		t.Errorf("instruction count %d exceeds code %d + blocks %d + 1",
			an.InstructionCount(), len(code), blocks)
	}
}

func TestAnalysisDeterminism(t *testing.T) {
	code := mustHexA(t, "6001600757 60bb 5b 600054 600101 00")
	a1, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	a2, err := Analyze(code, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a1.InstructionCount() != a2.InstructionCount() ||
		len(a1.exec) != len(a2.exec) ||
		len(a1.meta) != len(a2.meta) ||
		len(a1.words) != len(a2.words) {
		t.Fatal("two analyses of the same code differ in shape")
	}
	if !bytes.Equal(u16ToBytes(a1.jumpdests), u16ToBytes(a2.jumpdests)) {
		t.Fatal("jumpdest tables differ")
	}
	for i := range a1.headers {
		if a1.headers[i] != a2.headers[i] {
			t.Fatalf("header %d differs", i)
		}
	}
	if a1.CodeHash() != a2.CodeHash() {
		t.Fatal("code hashes differ")
	}
}

func u16ToBytes(v []uint16) []byte {
	out := make([]byte, 0, 2*len(v))
	for _, x := range v {
		out = append(out, byte(x>>8), byte(x))
	}
	return out
}

func TestUnknownOpcodeEmitsInvalid(t *testing.T) {
	// 0x0c is unassigned in every fork.
	an, err := Analyze([]byte{0x0c}, Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	found := false
	for _, h := range an.headers {
		if h.Tag() == TagExec && an.exec[h.ID()].op == instOp(INVALID) {
			found = true
		}
	}
	if !found {
		t.Error("unknown opcode did not emit INVALID")
	}
}

func TestForkGating(t *testing.T) {
	cases := []struct {
		op   byte
		fork Hardfork
		ok   bool
	}{
		{0x5f, Berlin, false},   // PUSH0 pre-Shanghai
		{0x5f, Shanghai, true},  // PUSH0
		{0x5e, Shanghai, false}, // MCOPY pre-Cancun
		{0x5e, Cancun, true},
		{0x48, Istanbul, false}, // BASEFEE pre-London
		{0x48, London, true},
	}
	for _, tc := range cases {
		an, err := Analyze([]byte{tc.op}, tc.fork)
		if err != nil {
			t.Fatalf("Analyze(%#x, %s): %v", tc.op, tc.fork, err)
		}
		sawInvalid := false
		for _, h := range an.headers {
			if h.Tag() == TagExec && an.exec[h.ID()].op == instOp(INVALID) {
				sawInvalid = true
			}
		}
		if sawInvalid == tc.ok {
			t.Errorf("op %#x under %s: invalid=%t, want %t", tc.op, tc.fork, sawInvalid, !tc.ok)
		}
	}
}

func TestResolvedJumpPayload(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST; STOP: the jump is fused and resolved to
	// the destination block's header index.
	an, err := Analyze(mustHexA(t, "6003565b00"), Cancun)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	var jumpSlot *metaSlot
	for _, h := range an.headers {
		if h.Tag() == TagJumpPC {
			jumpSlot = &an.meta[h.ID()]
		}
	}
	if jumpSlot == nil {
		t.Fatal("no TagJumpPC instruction emitted")
	}
	if jumpSlot.a == targetDynamic || jumpSlot.a == targetInvalid {
		t.Fatalf("jump unresolved: a=%#x", jumpSlot.a)
	}
	if an.headers[jumpSlot.a].Tag() != TagBlock {
		t.Error("resolved jump target is not a BEGINBLOCK")
	}
	if an.blockForPC(3) != int32(jumpSlot.a) {
		t.Error("resolved target disagrees with pcToBlock")
	}
}

func mustHexA(t *testing.T, s string) []byte {
	t.Helper()
	return mustHex(t, bytesNoSpace(s))
}
