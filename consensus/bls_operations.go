package consensus

// BLS signature operations for the consensus layer: domain separation,
// signing-root computation, and the signature checks that go through the
// pluggable crypto.BLSBackend oracle rather than calling curve arithmetic
// directly.

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/eth2030/beaconcore/crypto"
)

// DomainDeposit is the signing domain for deposit self-signatures. Unlike
// the other four domains this repository tracks, it is not fork-dependent
// (deposits must remain valid across fork boundaries), so it is a bare
// package constant rather than a ChainParams field.
var DomainDeposit = [4]byte{0x03, 0x00, 0x00, 0x00}

// DomainSeparation computes the signing domain for domainType under the
// given fork version and genesis validators root:
// domain = domain_type || fork_data_root[:28].
func DomainSeparation(domainType [4]byte, forkVersion [4]byte, genesisRoot [32]byte) [32]byte {
	forkDataRoot := computeForkDataRoot(forkVersion, genesisRoot)
	var domain [32]byte
	copy(domain[:4], domainType[:])
	copy(domain[4:], forkDataRoot[:28])
	return domain
}

func computeForkDataRoot(forkVersion [4]byte, genesisRoot [32]byte) [32]byte {
	var versionPadded [32]byte
	copy(versionPadded[:4], forkVersion[:])
	var combined [64]byte
	copy(combined[:32], versionPadded[:])
	copy(combined[32:], genesisRoot[:])
	return sha256.Sum256(combined[:])
}

// ComputeSigningRoot computes signing_root = sha256(object_root || domain),
// the value validators actually sign over.
func ComputeSigningRoot(objectRoot [32]byte, domain [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[:32], objectRoot[:])
	copy(combined[32:], domain[:])
	return sha256.Sum256(combined[:])
}

// HashBeaconBlockHeader computes the SSZ hash tree root of a block header:
// 5 fields merkleized as 8 leaves (padded to the next power of two).
func HashBeaconBlockHeader(header *BlockHeader) [32]byte {
	if header == nil {
		return [32]byte{}
	}
	var leaves [8][32]byte
	binary.LittleEndian.PutUint64(leaves[0][:8], uint64(header.Slot))
	binary.LittleEndian.PutUint64(leaves[1][:8], uint64(header.ProposerIndex))
	leaves[2] = header.ParentRoot
	leaves[3] = header.StateRoot
	leaves[4] = header.BodyRoot

	h01 := sha256Hash(leaves[0], leaves[1])
	h23 := sha256Hash(leaves[2], leaves[3])
	h45 := sha256Hash(leaves[4], leaves[5])
	h67 := sha256Hash(leaves[6], leaves[7])
	h0123 := sha256Hash(h01, h23)
	h4567 := sha256Hash(h45, h67)
	return sha256Hash(h0123, h4567)
}

// HashAttestationData computes the SSZ hash tree root of an AttestationData:
// slot, index, beacon_block_root, source, target merkleized as 8 leaves.
func HashAttestationData(data *AttestationData) [32]byte {
	if data == nil {
		return [32]byte{}
	}
	var leaves [8][32]byte
	binary.LittleEndian.PutUint64(leaves[0][:8], uint64(data.Slot))
	binary.LittleEndian.PutUint64(leaves[1][:8], data.Index)
	leaves[2] = data.BeaconBlockRoot
	leaves[3] = hashCheckpoint(data.Source)
	leaves[4] = hashCheckpoint(data.Target)

	h01 := sha256Hash(leaves[0], leaves[1])
	h23 := sha256Hash(leaves[2], leaves[3])
	h45 := sha256Hash(leaves[4], leaves[5])
	h67 := sha256Hash(leaves[6], leaves[7])
	h0123 := sha256Hash(h01, h23)
	h4567 := sha256Hash(h45, h67)
	return sha256Hash(h0123, h4567)
}

func hashCheckpoint(cp Checkpoint) [32]byte {
	var epochLeaf [32]byte
	binary.LittleEndian.PutUint64(epochLeaf[:8], uint64(cp.Epoch))
	return sha256Hash(epochLeaf, cp.Root)
}

func sha256Hash(a, b [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[:32], a[:])
	copy(combined[32:], b[:])
	return sha256.Sum256(combined[:])
}

// VerifyAttestationSignature checks an attestation's aggregate signature
// through backend, a single FastAggregateVerify call since every attester in
// a committee signs the identical AttestationData.
func VerifyAttestationSignature(
	backend crypto.BLSBackend,
	pubkeys [][48]byte,
	data *AttestationData,
	signature [96]byte,
	domain [4]byte,
	forkVersion [4]byte,
	genesisRoot [32]byte,
) bool {
	if len(pubkeys) == 0 || data == nil {
		return false
	}
	signingDomain := DomainSeparation(domain, forkVersion, genesisRoot)
	dataRoot := HashAttestationData(data)
	signingRoot := ComputeSigningRoot(dataRoot, signingDomain)
	return backend.FastAggregateVerify(pubkeys, signingRoot[:], signature[:])
}

// VerifyProposerSignature checks a single BLS signature from a block
// proposer over its block header.
func VerifyProposerSignature(
	backend crypto.BLSBackend,
	pubkey [48]byte,
	header *BlockHeader,
	signature [96]byte,
	domain [4]byte,
	forkVersion [4]byte,
	genesisRoot [32]byte,
) bool {
	if header == nil {
		return false
	}
	signingDomain := DomainSeparation(domain, forkVersion, genesisRoot)
	headerRoot := HashBeaconBlockHeader(header)
	signingRoot := ComputeSigningRoot(headerRoot, signingDomain)
	return backend.Verify(pubkey[:], signingRoot[:], signature[:])
}
