package vm

// precompiles.go implements the native contracts at addresses 0x01..0x0a.
// Heavy cryptography is delegated to the ecosystem libraries: secp256k1
// recovery to decred, BN254 to gnark-crypto, the KZG point evaluation to
// go-eth-kzg, BLAKE2 F to go-ethereum's blake2b, and RIPEMD-160 to x/crypto.

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	goethkzg "github.com/crate-crypto/go-eth-kzg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto/blake2b"
	"golang.org/x/crypto/ripemd160"

	"github.com/embervm/ember/core/types"
	"github.com/embervm/ember/crypto"
)

// PrecompiledContract is the interface for native precompiled contracts.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Precompile gas constants (Istanbul+ prices).
const (
	EcrecoverGas        uint64 = 3000
	Sha256BaseGas       uint64 = 60
	Sha256PerWordGas    uint64 = 12
	Ripemd160BaseGas    uint64 = 600
	Ripemd160PerWordGas uint64 = 120
	IdentityBaseGas     uint64 = 15
	IdentityPerWordGas  uint64 = 3
	ModExpMinGas        uint64 = 200
	Bn254AddGas         uint64 = 150
	Bn254ScalarMulGas   uint64 = 6000
	Bn254PairingBaseGas uint64 = 45000
	Bn254PairingPerGas  uint64 = 34000
	PointEvaluationGas  uint64 = 50000
)

var precompiledContracts = map[types.Address]PrecompiledContract{
	types.BytesToAddress([]byte{1}):    &ecrecover{},
	types.BytesToAddress([]byte{2}):    &sha256hash{},
	types.BytesToAddress([]byte{3}):    &ripemd160hash{},
	types.BytesToAddress([]byte{4}):    &dataCopy{},
	types.BytesToAddress([]byte{5}):    &bigModExp{},
	types.BytesToAddress([]byte{6}):    &bn254Add{},
	types.BytesToAddress([]byte{7}):    &bn254ScalarMul{},
	types.BytesToAddress([]byte{8}):    &bn254Pairing{},
	types.BytesToAddress([]byte{9}):    &blake2F{},
	types.BytesToAddress([]byte{0x0a}): &kzgPointEvaluation{},
}

// precompileCountForFork returns how many of the sequentially numbered
// precompiles the fork enables.
func precompileCountForFork(fork Hardfork) int {
	switch {
	case fork.AtLeast(Cancun):
		return 10
	case fork.AtLeast(Istanbul):
		return 9
	case fork.AtLeast(Byzantium):
		return 8
	default:
		return 4
	}
}

// ActivePrecompiles returns the precompile addresses enabled under the
// fork, in address order.
func ActivePrecompiles(fork Hardfork) []types.Address {
	n := precompileCountForFork(fork)
	addrs := make([]types.Address, n)
	for i := 0; i < n; i++ {
		addrs[i] = types.BytesToAddress([]byte{byte(i + 1)})
	}
	return addrs
}

// Precompile returns the contract at addr if it is enabled under the
// fork.
func Precompile(addr types.Address, fork Hardfork) (PrecompiledContract, bool) {
	for i, n := 0, precompileCountForFork(fork); i < n; i++ {
		if addr == types.BytesToAddress([]byte{byte(i + 1)}) {
			return precompiledContracts[addr], true
		}
	}
	return nil, false
}

// RunPrecompile executes a precompiled contract against a gas budget.
func RunPrecompile(p PrecompiledContract, input []byte, gas uint64) ([]byte, uint64, error) {
	cost := p.RequiredGas(input)
	if gas < cost {
		return nil, 0, ErrOutOfGas
	}
	output, err := p.Run(input)
	return output, gas - cost, err
}

// rightPad returns data padded with zeros to exactly size bytes.
func rightPad(data []byte, size int) []byte {
	if len(data) >= size {
		return data[:size]
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// --- 0x01: ECRECOVER ---

type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 { return EcrecoverGas }

func (c *ecrecover) Run(input []byte) ([]byte, error) {
	input = rightPad(input, 128)

	// v must be 27 or 28, zero-padded.
	for _, b := range input[32:63] {
		if b != 0 {
			return nil, nil
		}
	}
	v := input[63]
	if v != 27 && v != 28 {
		return nil, nil
	}

	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	n := secp256k1.S256().N
	if r.Sign() == 0 || s.Sign() == 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return nil, nil
	}

	// decred's compact format carries the recovery header first.
	sig := make([]byte, 65)
	sig[0] = v
	copy(sig[1:33], input[64:96])
	copy(sig[33:65], input[96:128])

	pub, _, err := secpecdsa.RecoverCompact(sig, input[:32])
	if err != nil {
		// An unrecoverable signature returns empty output, not an error.
		return nil, nil
	}
	hash := crypto.Keccak256(pub.SerializeUncompressed()[1:])
	out := make([]byte, 32)
	copy(out[12:], hash[12:])
	return out, nil
}

// --- 0x02: SHA-256 ---

type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return Sha256BaseGas + toWordSize(uint64(len(input)))*Sha256PerWordGas
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- 0x03: RIPEMD-160 ---

type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return Ripemd160BaseGas + toWordSize(uint64(len(input)))*Ripemd160PerWordGas
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	h := ripemd160.New()
	h.Write(input)
	out := make([]byte, 32)
	copy(out[12:], h.Sum(nil))
	return out, nil
}

// --- 0x04: identity ---

type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return IdentityBaseGas + toWordSize(uint64(len(input)))*IdentityPerWordGas
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

// --- 0x05: MODEXP (EIP-2565 pricing) ---

type bigModExp struct{}

func (c *bigModExp) RequiredGas(input []byte) uint64 {
	header := rightPad(input, 96)
	baseLen := new(big.Int).SetBytes(header[0:32])
	expLen := new(big.Int).SetBytes(header[32:64])
	modLen := new(big.Int).SetBytes(header[64:96])

	if !baseLen.IsUint64() || !expLen.IsUint64() || !modLen.IsUint64() {
		return ^uint64(0)
	}
	bl, el, ml := baseLen.Uint64(), expLen.Uint64(), modLen.Uint64()

	// Adjusted exponent length from the leading 32 exponent bytes.
	var expHead big.Int
	if len(input) > 96 && bl < uint64(len(input)-96) {
		tail := input[96+bl:]
		n := el
		if n > 32 {
			n = 32
		}
		if uint64(len(tail)) > n {
			tail = tail[:n]
		}
		expHead.SetBytes(tail)
	}
	var adjExpLen uint64
	if el > 32 {
		adjExpLen = 8 * (el - 32)
	}
	if bits := expHead.BitLen(); bits > 1 {
		adjExpLen += uint64(bits - 1)
	}
	if adjExpLen < 1 {
		adjExpLen = 1
	}

	maxLen := bl
	if ml > maxLen {
		maxLen = ml
	}
	words := (maxLen + 7) / 8
	multComplexity := words * words

	gas := multComplexity * adjExpLen / 3
	if gas < ModExpMinGas {
		return ModExpMinGas
	}
	return gas
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	header := rightPad(input, 96)
	baseLen := new(big.Int).SetBytes(header[0:32]).Uint64()
	expLen := new(big.Int).SetBytes(header[32:64]).Uint64()
	modLen := new(big.Int).SetBytes(header[64:96]).Uint64()

	if baseLen == 0 && modLen == 0 {
		return nil, nil
	}

	body := input
	if len(body) > 96 {
		body = body[96:]
	} else {
		body = nil
	}
	base := new(big.Int).SetBytes(rightPad(body, int(baseLen)))
	exp := new(big.Int).SetBytes(rightPad(sliceFrom(body, baseLen), int(expLen)))
	mod := new(big.Int).SetBytes(rightPad(sliceFrom(body, baseLen+expLen), int(modLen)))

	out := make([]byte, modLen)
	if mod.Sign() == 0 {
		return out, nil
	}
	result := new(big.Int).Exp(base, exp, mod).Bytes()
	copy(out[uint64(len(out))-uint64(len(result)):], result)
	return out, nil
}

// sliceFrom returns data[from:], or nil past the end.
func sliceFrom(data []byte, from uint64) []byte {
	if from >= uint64(len(data)) {
		return nil
	}
	return data[from:]
}

// --- 0x06..0x08: BN254 ---

var errBn254InvalidPoint = errors.New("bn254: invalid point encoding")

// parseBn254FieldElement rejects non-canonical (>= p) encodings.
func parseBn254FieldElement(in []byte) (fp.Element, error) {
	var e fp.Element
	v := new(big.Int).SetBytes(in)
	if v.Cmp(fp.Modulus()) >= 0 {
		return e, errBn254InvalidPoint
	}
	e.SetBigInt(v)
	return e, nil
}

// parseBn254G1 decodes an EVM-encoded G1 point: 32-byte x then y,
// big-endian, with (0, 0) as the point at infinity.
func parseBn254G1(in []byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	x, err := parseBn254FieldElement(in[0:32])
	if err != nil {
		return p, err
	}
	y, err := parseBn254FieldElement(in[32:64])
	if err != nil {
		return p, err
	}
	p.X, p.Y = x, y
	if !p.IsInfinity() && !p.IsOnCurve() {
		return p, errBn254InvalidPoint
	}
	return p, nil
}

// parseBn254G2 decodes an EVM-encoded G2 point: 128 bytes ordered
// imaginary-first per EIP-197.
func parseBn254G2(in []byte) (bn254.G2Affine, error) {
	var p bn254.G2Affine
	var err error
	if p.X.A1, err = parseBn254FieldElement(in[0:32]); err != nil {
		return p, err
	}
	if p.X.A0, err = parseBn254FieldElement(in[32:64]); err != nil {
		return p, err
	}
	if p.Y.A1, err = parseBn254FieldElement(in[64:96]); err != nil {
		return p, err
	}
	if p.Y.A0, err = parseBn254FieldElement(in[96:128]); err != nil {
		return p, err
	}
	if !p.IsInfinity() && (!p.IsOnCurve() || !p.IsInSubGroup()) {
		return p, errBn254InvalidPoint
	}
	return p, nil
}

func marshalBn254G1(p *bn254.G1Affine) []byte {
	out := make([]byte, 64)
	x := p.X.Bytes()
	y := p.Y.Bytes()
	copy(out[0:32], x[:])
	copy(out[32:64], y[:])
	return out
}

type bn254Add struct{}

func (c *bn254Add) RequiredGas(input []byte) uint64 { return Bn254AddGas }

func (c *bn254Add) Run(input []byte) ([]byte, error) {
	input = rightPad(input, 128)
	a, err := parseBn254G1(input[0:64])
	if err != nil {
		return nil, err
	}
	b, err := parseBn254G1(input[64:128])
	if err != nil {
		return nil, err
	}
	var res bn254.G1Affine
	res.Add(&a, &b)
	return marshalBn254G1(&res), nil
}

type bn254ScalarMul struct{}

func (c *bn254ScalarMul) RequiredGas(input []byte) uint64 { return Bn254ScalarMulGas }

func (c *bn254ScalarMul) Run(input []byte) ([]byte, error) {
	input = rightPad(input, 96)
	p, err := parseBn254G1(input[0:64])
	if err != nil {
		return nil, err
	}
	scalar := new(big.Int).SetBytes(input[64:96])
	var res bn254.G1Affine
	res.ScalarMultiplication(&p, scalar)
	return marshalBn254G1(&res), nil
}

type bn254Pairing struct{}

func (c *bn254Pairing) RequiredGas(input []byte) uint64 {
	return Bn254PairingBaseGas + uint64(len(input)/192)*Bn254PairingPerGas
}

func (c *bn254Pairing) Run(input []byte) ([]byte, error) {
	if len(input)%192 != 0 {
		return nil, errBn254InvalidPoint
	}
	k := len(input) / 192
	g1s := make([]bn254.G1Affine, 0, k)
	g2s := make([]bn254.G2Affine, 0, k)
	for i := 0; i < k; i++ {
		chunk := input[i*192 : (i+1)*192]
		p1, err := parseBn254G1(chunk[0:64])
		if err != nil {
			return nil, err
		}
		p2, err := parseBn254G2(chunk[64:192])
		if err != nil {
			return nil, err
		}
		// Infinity terms contribute nothing to the product.
		if p1.IsInfinity() || p2.IsInfinity() {
			continue
		}
		g1s = append(g1s, p1)
		g2s = append(g2s, p2)
	}
	out := make([]byte, 32)
	if len(g1s) == 0 {
		out[31] = 1
		return out, nil
	}
	ok, err := bn254.PairingCheck(g1s, g2s)
	if err != nil {
		return nil, err
	}
	if ok {
		out[31] = 1
	}
	return out, nil
}

// --- 0x09: BLAKE2 F (EIP-152) ---

var errBlake2FInput = errors.New("blake2f: invalid input")

type blake2F struct{}

func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != 213 {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4]))
}

func (c *blake2F) Run(input []byte) ([]byte, error) {
	if len(input) != 213 {
		return nil, errBlake2FInput
	}
	final := input[212]
	if final != 0 && final != 1 {
		return nil, errBlake2FInput
	}
	rounds := binary.BigEndian.Uint32(input[0:4])

	var h [8]uint64
	for i := 0; i < 8; i++ {
		h[i] = binary.LittleEndian.Uint64(input[4+i*8:])
	}
	var m [16]uint64
	for i := 0; i < 16; i++ {
		m[i] = binary.LittleEndian.Uint64(input[68+i*8:])
	}
	var t [2]uint64
	t[0] = binary.LittleEndian.Uint64(input[196:])
	t[1] = binary.LittleEndian.Uint64(input[204:])

	blake2b.F(&h, m, t, final == 1, rounds)

	out := make([]byte, 64)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], h[i])
	}
	return out, nil
}

// --- 0x0a: KZG point evaluation (EIP-4844) ---

var (
	errKzgInput           = errors.New("kzg point evaluation: invalid input")
	errKzgVersion         = errors.New("kzg point evaluation: invalid versioned hash")
	kzgContextOnce        sync.Once
	kzgContext            *goethkzg.Context
	kzgContextErr         error
	blsModulus, _         = new(big.Int).SetString("52435875175126190479447740508185965837690552500527637822603658699938581184513", 10)
	blobCommitmentVersion = byte(0x01)
)

type kzgPointEvaluation struct{}

func (c *kzgPointEvaluation) RequiredGas(input []byte) uint64 { return PointEvaluationGas }

func (c *kzgPointEvaluation) Run(input []byte) ([]byte, error) {
	if len(input) != 192 {
		return nil, errKzgInput
	}
	var versioned [32]byte
	copy(versioned[:], input[0:32])

	var commitment goethkzg.KZGCommitment
	copy(commitment[:], input[96:144])
	if kzgToVersionedHash(commitment) != versioned {
		return nil, errKzgVersion
	}

	var z, y goethkzg.Scalar
	copy(z[:], input[32:64])
	copy(y[:], input[64:96])
	var proof goethkzg.KZGProof
	copy(proof[:], input[144:192])

	kzgContextOnce.Do(func() {
		kzgContext, kzgContextErr = goethkzg.NewContext4096Secure()
	})
	if kzgContextErr != nil {
		return nil, kzgContextErr
	}
	if err := kzgContext.VerifyKZGProof(commitment, z, y, proof); err != nil {
		return nil, err
	}

	// Success returns FIELD_ELEMENTS_PER_BLOB and the BLS modulus.
	out := make([]byte, 64)
	new(big.Int).SetUint64(4096).FillBytes(out[0:32])
	blsModulus.FillBytes(out[32:64])
	return out, nil
}

// kzgToVersionedHash computes 0x01 || sha256(commitment)[1:].
func kzgToVersionedHash(commitment goethkzg.KZGCommitment) [32]byte {
	h := sha256.Sum256(commitment[:])
	h[0] = blobCommitmentVersion
	return h
}
