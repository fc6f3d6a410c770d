package vm

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/crypto"
)

func TestActivePrecompilesPerFork(t *testing.T) {
	cases := []struct {
		fork Hardfork
		n    int
	}{
		{Frontier, 4},
		{Homestead, 4},
		{Byzantium, 8},
		{Istanbul, 9},
		{Berlin, 9},
		{Cancun, 10},
	}
	for _, tc := range cases {
		if got := len(ActivePrecompiles(tc.fork)); got != tc.n {
			t.Errorf("%s: %d precompiles, want %d", tc.fork, got, tc.n)
		}
	}
	if _, ok := Precompile(types.BytesToAddress([]byte{0x0a}), Shanghai); ok {
		t.Error("KZG precompile active before Cancun")
	}
}

func TestIdentityPrecompile(t *testing.T) {
	p, ok := Precompile(types.BytesToAddress([]byte{4}), Cancun)
	if !ok {
		t.Fatal("identity precompile missing")
	}
	input := []byte("hello world")
	if gas := p.RequiredGas(input); gas != IdentityBaseGas+IdentityPerWordGas {
		t.Errorf("gas = %d, want %d", gas, IdentityBaseGas+IdentityPerWordGas)
	}
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Errorf("identity output = %x", out)
	}
}

func TestSha256Precompile(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{2}), Cancun)
	out, err := p.Run(nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// sha256 of the empty string.
	want := types.HexToHash("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if !bytes.Equal(out, want.Bytes()) {
		t.Errorf("sha256('') = %x, want %s", out, want)
	}
}

func TestRipemd160Precompile(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{3}), Cancun)
	out, err := p.Run(nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 32 {
		t.Fatalf("output length = %d, want 32", len(out))
	}
	if !bytes.Equal(out[:12], make([]byte, 12)) {
		t.Error("ripemd160 output not left-padded")
	}
}

func TestModExpPrecompile(t *testing.T) {
	// 3^2 mod 5 = 4, all lengths 1.
	var input []byte
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...) // baseLen
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...) // expLen
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...) // modLen
	input = append(input, 3, 2, 5)

	p, _ := Precompile(types.BytesToAddress([]byte{5}), Cancun)
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, []byte{4}) {
		t.Errorf("3^2 mod 5 = %x, want 04", out)
	}
	if gas := p.RequiredGas(input); gas != ModExpMinGas {
		t.Errorf("gas = %d, want the %d floor", gas, ModExpMinGas)
	}
}

func TestModExpZeroModulus(t *testing.T) {
	var input []byte
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...)
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...)
	input = append(input, types.BytesToHash([]byte{1}).Bytes()...)
	input = append(input, 3, 2, 0)

	p, _ := Precompile(types.BytesToAddress([]byte{5}), Cancun)
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, []byte{0}) {
		t.Errorf("x mod 0 = %x, want 00", out)
	}
}

func TestEcrecoverRoundTrip(t *testing.T) {
	privBytes := bytes.Repeat([]byte{0x11}, 32)
	priv := secp256k1.PrivKeyFromBytes(privBytes)
	msg := crypto.Keccak256([]byte("ember"))

	sig := secpecdsa.SignCompact(priv, msg, false)
	// Compact format: header (27/28), r, s.
	input := make([]byte, 128)
	copy(input[0:32], msg)
	input[63] = sig[0]
	copy(input[64:96], sig[1:33])
	copy(input[96:128], sig[33:65])

	p, _ := Precompile(types.BytesToAddress([]byte{1}), Cancun)
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 32 {
		t.Fatalf("output length = %d, want 32", len(out))
	}
	wantAddr := crypto.Keccak256(priv.PubKey().SerializeUncompressed()[1:])[12:]
	if !bytes.Equal(out[12:], wantAddr) {
		t.Errorf("recovered %x, want %x", out[12:], wantAddr)
	}
}

func TestEcrecoverBadV(t *testing.T) {
	input := make([]byte, 128)
	input[63] = 26 // invalid v
	input[95] = 1  // nonzero r
	input[127] = 1 // nonzero s
	p, _ := Precompile(types.BytesToAddress([]byte{1}), Cancun)
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("invalid signature must produce empty output, got %x", out)
	}
}

func TestBn254AddIdentity(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{6}), Cancun)
	// infinity + infinity = infinity.
	out, err := p.Run(make([]byte, 128))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, make([]byte, 64)) {
		t.Errorf("0+0 = %x, want zero point", out)
	}

	// generator + infinity = generator.
	input := make([]byte, 128)
	input[31] = 1 // x = 1
	input[63] = 2 // y = 2
	out, err = p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, input[:64]) {
		t.Errorf("G+0 = %x, want G", out)
	}
}

func TestBn254ScalarMulByOne(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{7}), Cancun)
	input := make([]byte, 96)
	input[31] = 1 // x = 1
	input[63] = 2 // y = 2
	input[95] = 1 // scalar = 1
	out, err := p.Run(input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(out, input[:64]) {
		t.Errorf("1*G = %x, want G", out)
	}
}

func TestBn254InvalidPoint(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{6}), Cancun)
	input := make([]byte, 128)
	input[31] = 1 // (1, 0) is not on the curve
	if _, err := p.Run(input); err == nil {
		t.Error("invalid point accepted")
	}
}

func TestBn254PairingEmptyInput(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{8}), Cancun)
	out, err := p.Run(nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := make([]byte, 32)
	want[31] = 1
	if !bytes.Equal(out, want) {
		t.Errorf("empty pairing = %x, want 1", out)
	}
	if _, err := p.Run(make([]byte, 191)); err == nil {
		t.Error("ragged pairing input accepted")
	}
}

func TestBlake2FValidation(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{9}), Cancun)
	if _, err := p.Run(make([]byte, 212)); err == nil {
		t.Error("short input accepted")
	}
	bad := make([]byte, 213)
	bad[212] = 2 // invalid final flag
	if _, err := p.Run(bad); err == nil {
		t.Error("invalid final flag accepted")
	}
	// Gas equals the big-endian rounds field.
	in := make([]byte, 213)
	in[2] = 0x01 // rounds = 256
	if gas := p.RequiredGas(in); gas != 256 {
		t.Errorf("gas = %d, want 256", gas)
	}
}

func TestKzgPointEvaluationValidation(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{0x0a}), Cancun)
	if _, err := p.Run(make([]byte, 191)); err == nil {
		t.Error("short input accepted")
	}
	// A zero versioned hash never matches the commitment hash.
	if _, err := p.Run(make([]byte, 192)); err == nil {
		t.Error("mismatched versioned hash accepted")
	}
}

func TestRunPrecompileGasLimit(t *testing.T) {
	p, _ := Precompile(types.BytesToAddress([]byte{4}), Cancun)
	if _, _, err := RunPrecompile(p, []byte{1}, 1); err != ErrOutOfGas {
		t.Fatalf("got %v, want ErrOutOfGas", err)
	}
	out, gasLeft, err := RunPrecompile(p, []byte{1}, 100)
	if err != nil {
		t.Fatalf("RunPrecompile: %v", err)
	}
	if !bytes.Equal(out, []byte{1}) || gasLeft != 100-IdentityBaseGas-IdentityPerWordGas {
		t.Errorf("out=%x gasLeft=%d", out, gasLeft)
	}
}
