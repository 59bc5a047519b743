// BLS12-381 integration adapter: a pluggable BLSBackend interface that
// abstracts the BLS signature verification operations the consensus layer
// needs, with a deterministic MockBLSBackend for tests and the blst-backed
// BlstRealBackend (bls_blst_adapter.go, build tag "blst") for production.
//
// The active backend can be switched at runtime via SetBLSBackend.
// DefaultBLSBackend returns the currently active backend.
//
// Ethereum BLS signature scheme (MinPk variant):
//   - Public keys in G1 (48-byte compressed)
//   - Signatures in G2 (96-byte compressed)
//   - DST: BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// BLSPubkeySize and BLSSignatureSize are the compressed G1/G2 element sizes
// for the MinPk BLS12-381 scheme Ethereum consensus uses.
const (
	BLSPubkeySize    = 48
	BLSSignatureSize = 96
)

// blsP is the BLS12-381 base field modulus, used to range-check a
// decompressed pubkey's x-coordinate.
var blsP, _ = new(big.Int).SetString(
	"1a0111ea397fe69a4b1ba7b6434bacd764774b84f38512bf6730d2a0f6b0f6241eabfffeb153ffffb9feffffffffaaab", 16)

// BLS12-381 well-known constants from the Ethereum consensus spec.
var (
	// BLSG1GeneratorCompressed is the compressed form of the BLS12-381 G1
	// generator point (48 bytes).
	BLSG1GeneratorCompressed = mustDecodeHex48(
		"97f1d3a73197d7942695638c4fa9ac0fc3688c4f9774b905a14e3a3f171bac586c55e83ff97a1aeffb3af00adb22c6bb")

	// BLSG2GeneratorCompressed is the compressed form of the BLS12-381 G2
	// generator point (96 bytes).
	BLSG2GeneratorCompressed = mustDecodeHex96(
		"93e02b6052719f607dacd3a088274f65596bd0d09920b61ab5da61bbdc7f5049334cf11213945d57e5ac7d055d042b7e" +
			"024aa2b2f08f0a91260805272dc51051c6e47ad4fa403b02b4510b647ae3d1770bac0326a805bbefd48056c8c121bdb8")

	// BLSPointAtInfinityG1 is the compressed point at infinity in G1.
	BLSPointAtInfinityG1 = func() [48]byte {
		var b [48]byte
		b[0] = 0xc0
		return b
	}()

	// BLSPointAtInfinityG2 is the compressed point at infinity in G2.
	BLSPointAtInfinityG2 = func() [96]byte {
		var b [96]byte
		b[0] = 0xc0
		return b
	}()

	// BLSSignatureDST is the domain separation tag for Ethereum's
	// proof-of-possession BLS signature scheme.
	BLSSignatureDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

	// BLSSubgroupOrder is the order r of the BLS12-381 G1/G2 subgroups.
	BLSSubgroupOrder, _ = new(big.Int).SetString(
		"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)
)

// BLS format validation errors.
var (
	ErrBLSInvalidPubkeyLen    = errors.New("bls: pubkey must be 48 bytes")
	ErrBLSInvalidPubkeyFormat = errors.New("bls: invalid compressed G1 format")
	ErrBLSInvalidPubkeyInf    = errors.New("bls: pubkey is point at infinity")
	ErrBLSInvalidSigLen       = errors.New("bls: signature must be 96 bytes")
	ErrBLSInvalidSigFormat    = errors.New("bls: invalid compressed G2 format")
)

// BLSBackend is the interface for BLS12-381 signature verification that the
// state-transition engine treats as an external oracle (§1 Out of scope:
// BLS signature primitives).
type BLSBackend interface {
	// Verify checks a single BLS signature.
	// pubkey: 48-byte compressed G1, msg: arbitrary message, sig: 96-byte compressed G2.
	Verify(pubkey, msg, sig []byte) bool

	// AggregateVerify checks an aggregate signature where each signer signed
	// a different message. pubkeys[i] signed msgs[i], and sig is the aggregate.
	AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool

	// FastAggregateVerify checks an aggregate signature where all signers
	// signed the same message. This is the common case for attestations.
	FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool

	// Name returns a human-readable name for the backend.
	Name() string
}

var (
	activeBLSMu      sync.RWMutex
	activeBLSBackend BLSBackend = &MockBLSBackend{}
)

// DefaultBLSBackend returns the currently active BLS backend.
func DefaultBLSBackend() BLSBackend {
	activeBLSMu.RLock()
	defer activeBLSMu.RUnlock()
	return activeBLSBackend
}

// SetBLSBackend sets the active BLS backend. Safe for concurrent use.
// Passing nil resets to the deterministic mock backend.
func SetBLSBackend(b BLSBackend) {
	activeBLSMu.Lock()
	defer activeBLSMu.Unlock()
	if b == nil {
		b = &MockBLSBackend{}
	}
	activeBLSBackend = b
}

// BLSIntegrationStatus returns the name of the currently active BLS backend.
func BLSIntegrationStatus() string {
	return DefaultBLSBackend().Name()
}

// BLSVerifyWithBackend verifies a BLS signature using the specified backend.
func BLSVerifyWithBackend(backend BLSBackend, pubkey, msg, sig []byte) bool {
	if backend == nil {
		return false
	}
	return backend.Verify(pubkey, msg, sig)
}

// ValidateBLSPubkey validates a 48-byte compressed G1 public key: length,
// compression flag set, not the point at infinity, x-coordinate in range.
func ValidateBLSPubkey(pubkey []byte) error {
	if len(pubkey) != BLSPubkeySize {
		return ErrBLSInvalidPubkeyLen
	}
	if pubkey[0]&0x80 == 0 {
		return ErrBLSInvalidPubkeyFormat
	}
	if pubkey[0]&0x40 != 0 {
		return ErrBLSInvalidPubkeyInf
	}
	buf := make([]byte, BLSPubkeySize)
	copy(buf, pubkey)
	buf[0] &= 0x1F
	x := new(big.Int).SetBytes(buf)
	if x.Cmp(blsP) >= 0 {
		return ErrBLSInvalidPubkeyFormat
	}
	return nil
}

// ValidateBLSSignature validates a 96-byte compressed G2 signature: length
// and compression flag.
func ValidateBLSSignature(sig []byte) error {
	if len(sig) != BLSSignatureSize {
		return ErrBLSInvalidSigLen
	}
	if sig[0]&0x80 == 0 {
		return ErrBLSInvalidSigFormat
	}
	return nil
}

// --- MockBLSBackend ---

// MockBLSBackend is a deterministic stand-in for real BLS12-381 arithmetic,
// used in tests and as the default backend when the "blst" build tag is not
// set. It treats a "signature" as sha256(pubkey || msg) and never performs
// elliptic-curve operations; it exists purely so the state-transition
// engine's signature-checking call sites have something to call without
// pulling in curve math the engine itself has no business implementing
// (§1: BLS is an external oracle).
type MockBLSBackend struct{}

func (b *MockBLSBackend) Name() string { return "mock" }

func mockSign(pubkey, msg []byte) [32]byte {
	h := sha256.New()
	h.Write(pubkey)
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (b *MockBLSBackend) Verify(pubkey, msg, sig []byte) bool {
	if len(pubkey) != BLSPubkeySize || len(sig) != BLSSignatureSize {
		return false
	}
	want := mockSign(pubkey, msg)
	return len(sig) >= 32 && [32]byte(sig[:32]) == want
}

func (b *MockBLSBackend) AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool {
	if len(pubkeys) == 0 || len(pubkeys) != len(msgs) || len(sig) != BLSSignatureSize {
		return false
	}
	h := sha256.New()
	for i := range pubkeys {
		h.Write(mustPad(pubkeys[i])[:])
		digest := mockSign(pubkeys[i], msgs[i])
		h.Write(digest[:])
	}
	var want [32]byte
	copy(want[:], h.Sum(nil))
	return len(sig) >= 32 && [32]byte(sig[:32]) == want
}

func (b *MockBLSBackend) FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool {
	if len(pubkeys) == 0 || len(sig) != BLSSignatureSize {
		return false
	}
	h := sha256.New()
	for _, pk := range pubkeys {
		digest := mockSign(pk, msg)
		h.Write(digest[:])
	}
	var want [32]byte
	copy(want[:], h.Sum(nil))
	return len(sig) >= 32 && [32]byte(sig[:32]) == want
}

// MockSign produces a deterministic "signature" compatible with
// MockBLSBackend.Verify, for constructing test fixtures.
func MockSign(pubkey, msg []byte) [BLSSignatureSize]byte {
	var sig [BLSSignatureSize]byte
	digest := mockSign(pubkey, msg)
	copy(sig[:32], digest[:])
	return sig
}

// MockFastAggregateSign produces a deterministic aggregate "signature"
// compatible with MockBLSBackend.FastAggregateVerify.
func MockFastAggregateSign(pubkeys [][]byte, msg []byte) [BLSSignatureSize]byte {
	h := sha256.New()
	for _, pk := range pubkeys {
		digest := mockSign(pk, msg)
		h.Write(digest[:])
	}
	var sig [BLSSignatureSize]byte
	copy(sig[:32], h.Sum(nil))
	return sig
}

func mustPad(b []byte) [BLSPubkeySize]byte {
	var out [BLSPubkeySize]byte
	copy(out[:], b)
	return out
}

// --- Helpers ---

func mustDecodeHex48(s string) [48]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 48 {
		panic(fmt.Sprintf("invalid hex for 48-byte value: %s", s))
	}
	var out [48]byte
	copy(out[:], b)
	return out
}

func mustDecodeHex96(s string) [96]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 96 {
		panic(fmt.Sprintf("invalid hex for 96-byte value: %s", s))
	}
	var out [96]byte
	copy(out[:], b)
	return out
}
