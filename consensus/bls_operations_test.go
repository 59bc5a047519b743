package consensus

import (
	"testing"

	"github.com/eth2030/beaconcore/core/types"
	"github.com/eth2030/beaconcore/crypto"
)

var testForkVersion = [4]byte{0x01, 0x00, 0x00, 0x00}
var testGenesisRoot = [32]byte{0xAA, 0xBB, 0xCC, 0xDD}
var testDomainProposer = DefaultConfig().DomainBeaconProposer
var testDomainAttester = DefaultConfig().DomainAttestation

func TestDomainSeparation(t *testing.T) {
	domain := DomainSeparation(testDomainProposer, testForkVersion, testGenesisRoot)

	if domain[0] != testDomainProposer[0] || domain[1] != testDomainProposer[1] ||
		domain[2] != testDomainProposer[2] || domain[3] != testDomainProposer[3] {
		t.Fatalf("domain type mismatch: got %x", domain[:4])
	}

	allZero := true
	for _, b := range domain[4:] {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("fork data root portion is all zeros")
	}
}

func TestDomainSeparationDifferentTypes(t *testing.T) {
	d1 := DomainSeparation(testDomainProposer, testForkVersion, testGenesisRoot)
	d2 := DomainSeparation(testDomainAttester, testForkVersion, testGenesisRoot)
	d3 := DomainSeparation(DomainDeposit, testForkVersion, testGenesisRoot)

	if d1 == d2 || d1 == d3 || d2 == d3 {
		t.Fatal("different domain types should produce different domains")
	}
}

func TestDomainSeparationDifferentForks(t *testing.T) {
	fork1 := [4]byte{0x01, 0x00, 0x00, 0x00}
	fork2 := [4]byte{0x02, 0x00, 0x00, 0x00}

	d1 := DomainSeparation(testDomainProposer, fork1, testGenesisRoot)
	d2 := DomainSeparation(testDomainProposer, fork2, testGenesisRoot)

	if d1 == d2 {
		t.Fatal("different fork versions should produce different domains")
	}
}

func TestDomainSeparationDifferentGenesis(t *testing.T) {
	gen1 := [32]byte{0x01}
	gen2 := [32]byte{0x02}

	d1 := DomainSeparation(testDomainProposer, testForkVersion, gen1)
	d2 := DomainSeparation(testDomainProposer, testForkVersion, gen2)

	if d1 == d2 {
		t.Fatal("different genesis roots should produce different domains")
	}
}

func TestComputeSigningRoot(t *testing.T) {
	objectRoot := [32]byte{0x01, 0x02, 0x03}
	domain := [32]byte{0x04, 0x05, 0x06}

	root := ComputeSigningRoot(objectRoot, domain)

	root2 := ComputeSigningRoot(objectRoot, domain)
	if root != root2 {
		t.Fatal("signing root is not deterministic")
	}

	otherObjectRoot := [32]byte{0x07, 0x08, 0x09}
	root3 := ComputeSigningRoot(otherObjectRoot, domain)
	if root == root3 {
		t.Fatal("different object roots should produce different signing roots")
	}

	otherDomain := [32]byte{0x0A, 0x0B, 0x0C}
	root4 := ComputeSigningRoot(objectRoot, otherDomain)
	if root == root4 {
		t.Fatal("different domains should produce different signing roots")
	}
}

func TestHashBeaconBlockHeader(t *testing.T) {
	header := &BlockHeader{
		Slot:          100,
		ProposerIndex: 42,
		ParentRoot:    types.Hash{0x01},
		StateRoot:     types.Hash{0x02},
		BodyRoot:      types.Hash{0x03},
	}

	root := HashBeaconBlockHeader(header)

	root2 := HashBeaconBlockHeader(header)
	if root != root2 {
		t.Fatal("header hash is not deterministic")
	}

	header2 := &BlockHeader{
		Slot:          101,
		ProposerIndex: 42,
		ParentRoot:    types.Hash{0x01},
		StateRoot:     types.Hash{0x02},
		BodyRoot:      types.Hash{0x03},
	}
	root3 := HashBeaconBlockHeader(header2)
	if root == root3 {
		t.Fatal("different headers should produce different roots")
	}

	zeroRoot := HashBeaconBlockHeader(nil)
	if zeroRoot != ([32]byte{}) {
		t.Fatal("nil header should produce zero root")
	}
}

func TestHashAttestationData(t *testing.T) {
	data := &AttestationData{
		Slot:            Slot(100),
		Index:           0,
		BeaconBlockRoot: types.Hash{0x01},
		Source:          Checkpoint{Epoch: 3, Root: types.Hash{0x02}},
		Target:          Checkpoint{Epoch: 4, Root: types.Hash{0x03}},
	}

	root := HashAttestationData(data)

	root2 := HashAttestationData(data)
	if root != root2 {
		t.Fatal("attestation data hash is not deterministic")
	}

	data2 := &AttestationData{
		Slot:            Slot(101),
		BeaconBlockRoot: types.Hash{0x01},
		Source:          Checkpoint{Epoch: 3, Root: types.Hash{0x02}},
		Target:          Checkpoint{Epoch: 4, Root: types.Hash{0x03}},
	}
	root3 := HashAttestationData(data2)
	if root == root3 {
		t.Fatal("different attestation data should produce different roots")
	}

	data3 := &AttestationData{
		Slot:            Slot(100),
		Index:           1,
		BeaconBlockRoot: types.Hash{0x01},
		Source:          Checkpoint{Epoch: 3, Root: types.Hash{0x02}},
		Target:          Checkpoint{Epoch: 4, Root: types.Hash{0x03}},
	}
	root4 := HashAttestationData(data3)
	if root == root4 {
		t.Fatal("different committee index should produce different root")
	}

	zeroRoot := HashAttestationData(nil)
	if zeroRoot != ([32]byte{}) {
		t.Fatal("nil data should produce zero root")
	}
}

func TestVerifyProposerSignature(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pubkey [48]byte
	pubkey[0] = 0x42

	header := &BlockHeader{
		Slot:          200,
		ProposerIndex: 7,
		ParentRoot:    types.Hash{0x11},
		StateRoot:     types.Hash{0x22},
		BodyRoot:      types.Hash{0x33},
	}

	domain := DomainSeparation(testDomainProposer, testForkVersion, testGenesisRoot)
	headerRoot := HashBeaconBlockHeader(header)
	signingRoot := ComputeSigningRoot(headerRoot, domain)
	sig := crypto.MockSign(pubkey[:], signingRoot[:])

	if !VerifyProposerSignature(backend, pubkey, header, sig, testDomainProposer, testForkVersion, testGenesisRoot) {
		t.Fatal("valid proposer signature should verify")
	}
}

func TestVerifyProposerSignatureWrongKey(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pubkey [48]byte
	pubkey[0] = 0x42
	var wrongPubkey [48]byte
	wrongPubkey[0] = 0x99

	header := &BlockHeader{
		Slot:          200,
		ProposerIndex: 7,
		ParentRoot:    types.Hash{0x11},
		StateRoot:     types.Hash{0x22},
		BodyRoot:      types.Hash{0x33},
	}

	domain := DomainSeparation(testDomainProposer, testForkVersion, testGenesisRoot)
	headerRoot := HashBeaconBlockHeader(header)
	signingRoot := ComputeSigningRoot(headerRoot, domain)
	sig := crypto.MockSign(pubkey[:], signingRoot[:])

	if VerifyProposerSignature(backend, wrongPubkey, header, sig, testDomainProposer, testForkVersion, testGenesisRoot) {
		t.Fatal("proposer signature should not verify with wrong key")
	}
}

func TestVerifyProposerSignatureNilHeader(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pubkey [48]byte
	var sig [96]byte

	if VerifyProposerSignature(backend, pubkey, nil, sig, testDomainProposer, testForkVersion, testGenesisRoot) {
		t.Fatal("should reject nil header")
	}
}

func TestVerifyAttestationSignature(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pk1, pk2 [48]byte
	pk1[0] = 0x10
	pk2[0] = 0x20

	data := &AttestationData{
		Slot:            Slot(500),
		BeaconBlockRoot: types.Hash{0xAA},
		Source:          Checkpoint{Epoch: 15, Root: types.Hash{0xBB}},
		Target:          Checkpoint{Epoch: 16, Root: types.Hash{0xCC}},
	}

	domain := DomainSeparation(testDomainAttester, testForkVersion, testGenesisRoot)
	dataRoot := HashAttestationData(data)
	signingRoot := ComputeSigningRoot(dataRoot, domain)

	pubkeys := [][]byte{pk1[:], pk2[:]}
	aggSig := crypto.MockFastAggregateSign(pubkeys, signingRoot[:])

	if !VerifyAttestationSignature(backend, [][48]byte{pk1, pk2}, data, aggSig, testDomainAttester, testForkVersion, testGenesisRoot) {
		t.Fatal("valid attestation signature should verify")
	}
}

func TestVerifyAttestationSignatureWrongData(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pk [48]byte
	pk[0] = 0x10

	data := &AttestationData{
		Slot:            Slot(500),
		BeaconBlockRoot: types.Hash{0xAA},
		Source:          Checkpoint{Epoch: 15, Root: types.Hash{0xBB}},
		Target:          Checkpoint{Epoch: 16, Root: types.Hash{0xCC}},
	}

	domain := DomainSeparation(testDomainAttester, testForkVersion, testGenesisRoot)
	dataRoot := HashAttestationData(data)
	signingRoot := ComputeSigningRoot(dataRoot, domain)
	sig := crypto.MockFastAggregateSign([][]byte{pk[:]}, signingRoot[:])

	wrongData := &AttestationData{
		Slot:            Slot(501),
		BeaconBlockRoot: types.Hash{0xAA},
		Source:          Checkpoint{Epoch: 15, Root: types.Hash{0xBB}},
		Target:          Checkpoint{Epoch: 16, Root: types.Hash{0xCC}},
	}

	if VerifyAttestationSignature(backend, [][48]byte{pk}, wrongData, sig, testDomainAttester, testForkVersion, testGenesisRoot) {
		t.Fatal("attestation signature should not verify with wrong data")
	}
}

func TestVerifyAttestationSignatureEmptyPubkeys(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var sig [96]byte
	data := &AttestationData{Slot: 1}

	if VerifyAttestationSignature(backend, nil, data, sig, testDomainAttester, testForkVersion, testGenesisRoot) {
		t.Fatal("should reject empty pubkeys")
	}
}

func TestVerifyAttestationSignatureNilData(t *testing.T) {
	backend := &crypto.MockBLSBackend{}
	var pk [48]byte
	var sig [96]byte

	if VerifyAttestationSignature(backend, [][48]byte{pk}, nil, sig, testDomainAttester, testForkVersion, testGenesisRoot) {
		t.Fatal("should reject nil data")
	}
}

func TestDomainDepositConstant(t *testing.T) {
	if DomainDeposit != [4]byte{0x03, 0x00, 0x00, 0x00} {
		t.Fatal("DomainDeposit mismatch")
	}
}

func TestHashCheckpointDeterministic(t *testing.T) {
	cp := Checkpoint{Epoch: 10, Root: types.Hash{0x01}}
	h1 := hashCheckpoint(cp)
	h2 := hashCheckpoint(cp)
	if h1 != h2 {
		t.Fatal("hashCheckpoint is not deterministic")
	}
}
