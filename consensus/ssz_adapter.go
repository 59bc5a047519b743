// ssz_adapter.go implements ssz.Marshaler/ssz.Unmarshaler/ssz.HashRoot for
// the consensus data types that cross the wire or get hashed into a
// checkpoint root: Validator, AttestationData, Attestation, BlockHeader,
// Block and BeaconState. It builds on the teacher's ssz/encode.go and
// ssz/decode.go primitive helpers and ssz/hash_tree.go/merkle.go for
// Merkleization, rather than the ad hoc sha256 Merkleization in
// bls_operations.go and block_producer.go (which remain for the places that
// only need a lightweight root, not a full round-trippable encoding).
package consensus

import (
	"github.com/eth2030/beaconcore/core/types"
	"github.com/eth2030/beaconcore/ssz"
)

// toArray32 converts a types.Hash (a defined [32]byte array type) to a
// plain [32]byte for the ssz package's hash helpers.
func toArray32(h types.Hash) [32]byte { return [32]byte(h) }

// --- Validator ---

// validatorSSZSize is the encoded size of a Validator: all fields are
// fixed-size, so Validator is a fixed SSZ container.
const validatorSSZSize = 48 + 32 + 8 + 1 + 8 + 8 + 8 + 8

// SizeSSZ returns the fixed encoded size of a Validator.
func (v *Validator) SizeSSZ() int { return validatorSSZSize }

// MarshalSSZ encodes v as a fixed SSZ container.
func (v *Validator) MarshalSSZ() ([]byte, error) {
	fields := [][]byte{
		ssz.MarshalByteVector(v.Pubkey[:]),
		ssz.MarshalByteVector(v.WithdrawalCredentials[:]),
		ssz.MarshalUint64(v.EffectiveBalance),
		ssz.MarshalBool(v.Slashed),
		ssz.MarshalUint64(uint64(v.ActivationEligibilityEpoch)),
		ssz.MarshalUint64(uint64(v.ActivationEpoch)),
		ssz.MarshalUint64(uint64(v.ExitEpoch)),
		ssz.MarshalUint64(uint64(v.WithdrawableEpoch)),
	}
	return ssz.MarshalFixedContainer(fields), nil
}

// UnmarshalSSZ decodes v from its fixed SSZ encoding.
func (v *Validator) UnmarshalSSZ(data []byte) error {
	if len(data) != validatorSSZSize {
		return ssz.ErrIncorrectSize
	}
	off := 0
	copy(v.Pubkey[:], data[off:off+48])
	off += 48
	copy(v.WithdrawalCredentials[:], data[off:off+32])
	off += 32
	eb, err := ssz.UnmarshalUint64(data[off : off+8])
	if err != nil {
		return err
	}
	v.EffectiveBalance = eb
	off += 8
	slashed, err := ssz.UnmarshalBool(data[off : off+1])
	if err != nil {
		return err
	}
	v.Slashed = slashed
	off++
	for _, dst := range []*Epoch{&v.ActivationEligibilityEpoch, &v.ActivationEpoch, &v.ExitEpoch, &v.WithdrawableEpoch} {
		e, err := ssz.UnmarshalUint64(data[off : off+8])
		if err != nil {
			return err
		}
		*dst = Epoch(e)
		off += 8
	}
	return nil
}

// HashTreeRoot computes v's SSZ hash tree root.
func (v *Validator) HashTreeRoot() ([32]byte, error) {
	fieldRoots := [][32]byte{
		ssz.HashTreeRootBytes48(v.Pubkey),
		ssz.HashTreeRootBytes32(toArray32(v.WithdrawalCredentials)),
		ssz.HashTreeRootUint64(v.EffectiveBalance),
		ssz.HashTreeRootBool(v.Slashed),
		ssz.HashTreeRootUint64(uint64(v.ActivationEligibilityEpoch)),
		ssz.HashTreeRootUint64(uint64(v.ActivationEpoch)),
		ssz.HashTreeRootUint64(uint64(v.ExitEpoch)),
		ssz.HashTreeRootUint64(uint64(v.WithdrawableEpoch)),
	}
	return ssz.HashTreeRootContainer(fieldRoots), nil
}

// --- Checkpoint ---

const checkpointSSZSize = 8 + 32

func marshalCheckpoint(c Checkpoint) []byte {
	return ssz.MarshalFixedContainer([][]byte{
		ssz.MarshalUint64(uint64(c.Epoch)),
		ssz.MarshalByteVector(c.Root.Bytes()),
	})
}

func unmarshalCheckpoint(data []byte) (Checkpoint, error) {
	if len(data) != checkpointSSZSize {
		return Checkpoint{}, ssz.ErrIncorrectSize
	}
	epoch, err := ssz.UnmarshalUint64(data[:8])
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{Epoch: Epoch(epoch), Root: types.BytesToHash(data[8:40])}, nil
}

func hashTreeRootCheckpoint(c Checkpoint) [32]byte {
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootUint64(uint64(c.Epoch)),
		ssz.HashTreeRootBytes32(toArray32(c.Root)),
	})
}

// --- AttestationData ---

const attestationDataSSZSize = 8 + 8 + 32 + checkpointSSZSize + checkpointSSZSize

// SizeSSZ returns the fixed encoded size of AttestationData.
func (a *AttestationData) SizeSSZ() int { return attestationDataSSZSize }

// MarshalSSZ encodes a as a fixed SSZ container.
func (a *AttestationData) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalFixedContainer([][]byte{
		ssz.MarshalUint64(uint64(a.Slot)),
		ssz.MarshalUint64(a.Index),
		ssz.MarshalByteVector(a.BeaconBlockRoot.Bytes()),
		marshalCheckpoint(a.Source),
		marshalCheckpoint(a.Target),
	}), nil
}

// UnmarshalSSZ decodes a from its fixed SSZ encoding.
func (a *AttestationData) UnmarshalSSZ(data []byte) error {
	if len(data) != attestationDataSSZSize {
		return ssz.ErrIncorrectSize
	}
	slot, err := ssz.UnmarshalUint64(data[0:8])
	if err != nil {
		return err
	}
	index, err := ssz.UnmarshalUint64(data[8:16])
	if err != nil {
		return err
	}
	root := types.BytesToHash(data[16:48])
	source, err := unmarshalCheckpoint(data[48:88])
	if err != nil {
		return err
	}
	target, err := unmarshalCheckpoint(data[88:128])
	if err != nil {
		return err
	}
	a.Slot = Slot(slot)
	a.Index = index
	a.BeaconBlockRoot = root
	a.Source = source
	a.Target = target
	return nil
}

// HashTreeRoot computes a's SSZ hash tree root.
func (a *AttestationData) HashTreeRoot() ([32]byte, error) {
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootUint64(uint64(a.Slot)),
		ssz.HashTreeRootUint64(a.Index),
		ssz.HashTreeRootBytes32(toArray32(a.BeaconBlockRoot)),
		hashTreeRootCheckpoint(a.Source),
		hashTreeRootCheckpoint(a.Target),
	}), nil
}

// --- Attestation ---

// maxValidatorsPerCommittee bounds the aggregation bitlist, mirroring the
// mainnet MAX_VALIDATORS_PER_COMMITTEE constant used for Merkleization
// limits (the bitlist's own length is unbounded in storage; this only
// affects the padded tree depth used for hashing).
const maxValidatorsPerCommittee = 2048

// maxAttestationsPerBlock mirrors ChainParams.MaxAttestations' default
// (config.go's DefaultConfig), used as the Merkleization limit for
// attestation lists. Hash tree roots are computed against this fixed
// bound rather than a per-call *ChainParams so a state's root does not
// change shape if ChainParams ever differs between callers.
const maxAttestationsPerBlock = 128

// SizeSSZ returns the variable encoded size of an Attestation.
func (a *Attestation) SizeSSZ() int {
	return 4 + len(a.AggregationBits) + attestationDataSSZSize + 96
}

// MarshalSSZ encodes a as a variable SSZ container: an offset-prefixed
// aggregation bitlist, followed by the fixed AttestationData and signature.
func (a *Attestation) MarshalSSZ() ([]byte, error) {
	dataBytes, err := a.Data.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	fixedParts := [][]byte{
		nil, // offset placeholder for AggregationBits
		dataBytes,
		ssz.MarshalByteVector(a.Signature[:]),
	}
	variableParts := [][]byte{ssz.MarshalByteList(a.AggregationBits)}
	return ssz.MarshalVariableContainer(fixedParts, variableParts, []int{0}), nil
}

// UnmarshalSSZ decodes a from its variable SSZ encoding.
func (a *Attestation) UnmarshalSSZ(data []byte) error {
	fields, err := ssz.UnmarshalVariableContainer(data, 3, []int{0, attestationDataSSZSize, 96})
	if err != nil {
		return err
	}
	var ad AttestationData
	if err := ad.UnmarshalSSZ(fields[1]); err != nil {
		return err
	}
	if len(fields[2]) != 96 {
		return ssz.ErrIncorrectSize
	}
	a.AggregationBits = append([]byte(nil), fields[0]...)
	a.Data = ad
	copy(a.Signature[:], fields[2])
	return nil
}

// HashTreeRoot computes a's SSZ hash tree root.
func (a *Attestation) HashTreeRoot() ([32]byte, error) {
	bitsRoot := ssz.HashTreeRootByteList(a.AggregationBits, maxValidatorsPerCommittee/8)
	dataRoot, err := a.Data.HashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}
	sigRoot := ssz.HashTreeRootBytes96(a.Signature)
	return ssz.HashTreeRootContainer([][32]byte{bitsRoot, dataRoot, sigRoot}), nil
}

// --- BlockHeader ---

const blockHeaderSSZSize = 8 + 8 + 32 + 32 + 32

// SizeSSZ returns the fixed encoded size of a BlockHeader.
func (h *BlockHeader) SizeSSZ() int { return blockHeaderSSZSize }

// MarshalSSZ encodes h as a fixed SSZ container.
func (h *BlockHeader) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalFixedContainer([][]byte{
		ssz.MarshalUint64(uint64(h.Slot)),
		ssz.MarshalUint64(uint64(h.ProposerIndex)),
		ssz.MarshalByteVector(h.ParentRoot.Bytes()),
		ssz.MarshalByteVector(h.StateRoot.Bytes()),
		ssz.MarshalByteVector(h.BodyRoot.Bytes()),
	}), nil
}

// UnmarshalSSZ decodes h from its fixed SSZ encoding.
func (h *BlockHeader) UnmarshalSSZ(data []byte) error {
	if len(data) != blockHeaderSSZSize {
		return ssz.ErrIncorrectSize
	}
	slot, err := ssz.UnmarshalUint64(data[0:8])
	if err != nil {
		return err
	}
	proposer, err := ssz.UnmarshalUint64(data[8:16])
	if err != nil {
		return err
	}
	h.Slot = Slot(slot)
	h.ProposerIndex = ValidatorIndex(proposer)
	h.ParentRoot = types.BytesToHash(data[16:48])
	h.StateRoot = types.BytesToHash(data[48:80])
	h.BodyRoot = types.BytesToHash(data[80:112])
	return nil
}

// HashTreeRoot computes h's SSZ hash tree root. This matches the fields
// Merkleized by HashBeaconBlockHeader in bls_operations.go, implemented
// here through the generic ssz container path instead of a hand-rolled
// leaf layout.
func (h *BlockHeader) HashTreeRoot() ([32]byte, error) {
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootUint64(uint64(h.Slot)),
		ssz.HashTreeRootUint64(uint64(h.ProposerIndex)),
		ssz.HashTreeRootBytes32(toArray32(h.ParentRoot)),
		ssz.HashTreeRootBytes32(toArray32(h.StateRoot)),
		ssz.HashTreeRootBytes32(toArray32(h.BodyRoot)),
	}), nil
}

// --- Block ---

// SizeSSZ returns the variable encoded size of a Block.
func (b *Block) SizeSSZ() int {
	bodyBytes, err := b.marshalBody()
	if err != nil {
		return 0
	}
	return 8 + 8 + 32 + 32 + 4 + len(bodyBytes) + 96
}

func (b *Block) marshalBody() ([]byte, error) {
	body := b.Body
	if body == nil {
		body = &BeaconBlockBody{}
	}

	psBytes, err := marshalProposerSlashings(body.ProposerSlashings)
	if err != nil {
		return nil, err
	}
	asBytes, err := marshalAttesterSlashings(body.AttesterSlashings)
	if err != nil {
		return nil, err
	}
	attBytes, err := marshalPoolAttestations(body.Attestations)
	if err != nil {
		return nil, err
	}
	depBytes := marshalDeposits(body.Deposits)
	veBytes := marshalVoluntaryExits(body.VoluntaryExits)

	fixedParts := [][]byte{
		ssz.MarshalByteVector(body.RandaoReveal[:]),
		marshalEth1Data(body.Eth1Data),
		ssz.MarshalByteVector(body.Graffiti[:]),
		nil, nil, nil, nil, nil,
	}
	variableParts := [][]byte{psBytes, asBytes, attBytes, depBytes, veBytes}
	return ssz.MarshalVariableContainer(fixedParts, variableParts, []int{3, 4, 5, 6, 7}), nil
}

// MarshalSSZ encodes the block as a variable SSZ container: fixed header
// fields, an offset to the variable-size body, then the signature.
func (b *Block) MarshalSSZ() ([]byte, error) {
	bodyBytes, err := b.marshalBody()
	if err != nil {
		return nil, err
	}
	fixedParts := [][]byte{
		ssz.MarshalUint64(uint64(b.Slot)),
		ssz.MarshalUint64(uint64(b.ProposerIndex)),
		ssz.MarshalByteVector(b.ParentRoot.Bytes()),
		ssz.MarshalByteVector(b.StateRoot.Bytes()),
		nil, // offset placeholder for body
		ssz.MarshalByteVector(b.Signature[:]),
	}
	variableParts := [][]byte{bodyBytes}
	return ssz.MarshalVariableContainer(fixedParts, variableParts, []int{4}), nil
}

// UnmarshalSSZ decodes the block's fixed header fields and signature.
// Body decoding is intentionally not implemented: the block body holds
// five independently variable-length operation lists, and this engine
// never needs to reconstruct a Block from wire bytes (blocks are produced
// locally by BlockProducer and applied in-process); only MarshalSSZ/
// HashTreeRoot are exercised on the propose/verify path.
func (b *Block) UnmarshalSSZ(data []byte) error {
	if len(data) < 8+8+32+32+4+96 {
		return ssz.ErrBufferTooSmall
	}
	slot, err := ssz.UnmarshalUint64(data[0:8])
	if err != nil {
		return err
	}
	proposer, err := ssz.UnmarshalUint64(data[8:16])
	if err != nil {
		return err
	}
	b.Slot = Slot(slot)
	b.ProposerIndex = ValidatorIndex(proposer)
	b.ParentRoot = types.BytesToHash(data[16:48])
	b.StateRoot = types.BytesToHash(data[48:80])
	copy(b.Signature[:], data[len(data)-96:])
	return nil
}

// HashTreeRoot computes the block's SSZ hash tree root.
func (b *Block) HashTreeRoot() ([32]byte, error) {
	bodyRoot, err := b.bodyHashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootUint64(uint64(b.Slot)),
		ssz.HashTreeRootUint64(uint64(b.ProposerIndex)),
		ssz.HashTreeRootBytes32(toArray32(b.ParentRoot)),
		ssz.HashTreeRootBytes32(toArray32(b.StateRoot)),
		bodyRoot,
		ssz.HashTreeRootBytes96(b.Signature),
	}), nil
}

func (b *Block) bodyHashTreeRoot() ([32]byte, error) {
	body := b.Body
	if body == nil {
		body = &BeaconBlockBody{}
	}
	eth1Root := hashTreeRootEth1Data(body.Eth1Data)
	psRoot := hashTreeRootProposerSlashings(body.ProposerSlashings)
	asRoot := hashTreeRootAttesterSlashings(body.AttesterSlashings)
	attRoot, err := hashTreeRootPoolAttestations(body.Attestations)
	if err != nil {
		return [32]byte{}, err
	}
	depRoot := hashTreeRootDeposits(body.Deposits)
	veRoot := hashTreeRootVoluntaryExits(body.VoluntaryExits)
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootBytes96(body.RandaoReveal),
		eth1Root,
		ssz.HashTreeRootBytes32(body.Graffiti),
		psRoot,
		asRoot,
		attRoot,
		depRoot,
		veRoot,
	}), nil
}

// --- block body operation lists ---

func marshalEth1Data(e Eth1Data) []byte {
	return ssz.MarshalFixedContainer([][]byte{
		ssz.MarshalByteVector(e.DepositRoot.Bytes()),
		ssz.MarshalUint64(e.DepositCount),
		ssz.MarshalByteVector(e.BlockHash.Bytes()),
	})
}

func hashTreeRootEth1Data(e Eth1Data) [32]byte {
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootBytes32(toArray32(e.DepositRoot)),
		ssz.HashTreeRootUint64(e.DepositCount),
		ssz.HashTreeRootBytes32(toArray32(e.BlockHash)),
	})
}

func marshalSignedHeader(h SignedBeaconBlockHeader) []byte {
	return ssz.MarshalFixedContainer([][]byte{
		ssz.MarshalUint64(uint64(h.Slot)),
		ssz.MarshalByteVector(h.ParentRoot.Bytes()),
		ssz.MarshalByteVector(h.StateRoot.Bytes()),
		ssz.MarshalByteVector(h.BodyRoot.Bytes()),
		ssz.MarshalByteVector(h.Signature[:]),
	})
}

func hashTreeRootSignedHeader(h SignedBeaconBlockHeader) [32]byte {
	return ssz.HashTreeRootContainer([][32]byte{
		ssz.HashTreeRootUint64(uint64(h.Slot)),
		ssz.HashTreeRootBytes32(toArray32(h.ParentRoot)),
		ssz.HashTreeRootBytes32(toArray32(h.StateRoot)),
		ssz.HashTreeRootBytes32(toArray32(h.BodyRoot)),
		ssz.HashTreeRootBytes96(h.Signature),
	})
}

func marshalProposerSlashings(slashings []ProposerSlashing) ([]byte, error) {
	var out []byte
	for _, ps := range slashings {
		elem := ssz.MarshalFixedContainer([][]byte{
			ssz.MarshalUint64(uint64(ps.ProposerIndex)),
			marshalSignedHeader(ps.Header1),
			marshalSignedHeader(ps.Header2),
		})
		out = append(out, elem...)
	}
	return out, nil
}

func hashTreeRootProposerSlashings(slashings []ProposerSlashing) [32]byte {
	roots := make([][32]byte, 0, len(slashings))
	for _, ps := range slashings {
		roots = append(roots, ssz.HashTreeRootContainer([][32]byte{
			ssz.HashTreeRootUint64(uint64(ps.ProposerIndex)),
			hashTreeRootSignedHeader(ps.Header1),
			hashTreeRootSignedHeader(ps.Header2),
		}))
	}
	return ssz.HashTreeRootList(roots, MaxProposerSlashings)
}

func marshalIndexedAttestation(a BlockIndexedAttestation) ([]byte, error) {
	dataBytes, err := a.Data.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	idxBytes := make([]byte, 0, len(a.AttestingIndices)*8)
	for _, idx := range a.AttestingIndices {
		idxBytes = append(idxBytes, ssz.MarshalUint64(uint64(idx))...)
	}
	fixedParts := [][]byte{nil, dataBytes, ssz.MarshalByteVector(a.Signature[:])}
	return ssz.MarshalVariableContainer(fixedParts, [][]byte{idxBytes}, []int{0}), nil
}

func hashTreeRootIndexedAttestation(a BlockIndexedAttestation) ([32]byte, error) {
	idxRoots := make([][32]byte, len(a.AttestingIndices))
	for i, idx := range a.AttestingIndices {
		idxRoots[i] = ssz.HashTreeRootUint64(uint64(idx))
	}
	idxRoot := ssz.HashTreeRootList(idxRoots, maxValidatorsPerCommittee)
	dataRoot, err := a.Data.HashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}
	sigRoot := ssz.HashTreeRootBytes96(a.Signature)
	return ssz.HashTreeRootContainer([][32]byte{idxRoot, dataRoot, sigRoot}), nil
}

func marshalAttesterSlashings(slashings []AttesterSlashing) ([]byte, error) {
	var out []byte
	for _, as := range slashings {
		a1, err := marshalIndexedAttestation(as.Attestation1)
		if err != nil {
			return nil, err
		}
		a2, err := marshalIndexedAttestation(as.Attestation2)
		if err != nil {
			return nil, err
		}
		fixedParts := [][]byte{nil, nil}
		elem := ssz.MarshalVariableContainer(fixedParts, [][]byte{a1, a2}, []int{0, 1})
		out = append(out, ssz.MarshalUint32(uint32(len(elem)))...)
		out = append(out, elem...)
	}
	return out, nil
}

func hashTreeRootAttesterSlashings(slashings []AttesterSlashing) [32]byte {
	roots := make([][32]byte, 0, len(slashings))
	for _, as := range slashings {
		r1, err := hashTreeRootIndexedAttestation(as.Attestation1)
		if err != nil {
			continue
		}
		r2, err := hashTreeRootIndexedAttestation(as.Attestation2)
		if err != nil {
			continue
		}
		roots = append(roots, ssz.HashTreeRootContainer([][32]byte{r1, r2}))
	}
	return ssz.HashTreeRootList(roots, MaxAttesterSlashings)
}

// marshalPoolAttestations encodes the block body's []*PoolAttestation list.
// PoolAttestation predates the ssz adaptation and carries a 32-byte
// Signature field (a digest placeholder) rather than the 96-byte BLS
// signature Attestation/BlockIndexedAttestation use; see DESIGN.md for why
// this representational gap is documented rather than papered over here.
// poolAttestationData reconstructs the AttestationData a PoolAttestation's
// flat fields represent, for reuse of AttestationData's SSZ methods.
func poolAttestationData(a *PoolAttestation) AttestationData {
	return AttestationData{
		Slot:            a.Slot,
		Index:           a.CommitteeIndex,
		BeaconBlockRoot: a.BeaconBlockRoot,
		Source:          a.Source,
		Target:          a.Target,
	}
}

func marshalPoolAttestations(atts []*PoolAttestation) ([]byte, error) {
	var out []byte
	for _, a := range atts {
		if a == nil {
			continue
		}
		ad := poolAttestationData(a)
		dataBytes, err := ad.MarshalSSZ()
		if err != nil {
			return nil, err
		}
		fixedParts := [][]byte{nil, dataBytes, ssz.MarshalByteVector(a.Signature.Bytes())}
		elem := ssz.MarshalVariableContainer(fixedParts, [][]byte{ssz.MarshalByteList(a.AggregationBits)}, []int{0})
		out = append(out, ssz.MarshalUint32(uint32(len(elem)))...)
		out = append(out, elem...)
	}
	return out, nil
}

func hashTreeRootPoolAttestations(atts []*PoolAttestation) ([32]byte, error) {
	roots := make([][32]byte, 0, len(atts))
	for _, a := range atts {
		if a == nil {
			continue
		}
		bitsRoot := ssz.HashTreeRootByteList(a.AggregationBits, maxValidatorsPerCommittee/8)
		ad := poolAttestationData(a)
		dataRoot, err := ad.HashTreeRoot()
		if err != nil {
			return [32]byte{}, err
		}
		sigRoot := ssz.HashTreeRootBytes32(toArray32(a.Signature))
		roots = append(roots, ssz.HashTreeRootContainer([][32]byte{bitsRoot, dataRoot, sigRoot}))
	}
	return ssz.HashTreeRootList(roots, maxAttestationsPerBlock), nil
}

func marshalDeposits(deposits []Deposit) []byte {
	var out []byte
	for _, d := range deposits {
		out = append(out, ssz.MarshalFixedContainer([][]byte{
			ssz.MarshalByteVector(d.Pubkey[:]),
			ssz.MarshalByteVector(d.WithdrawalCredentials[:]),
			ssz.MarshalUint64(d.Amount),
			ssz.MarshalByteVector(d.Signature[:]),
		})...)
	}
	return out
}

func hashTreeRootDeposits(deposits []Deposit) [32]byte {
	roots := make([][32]byte, 0, len(deposits))
	for _, d := range deposits {
		roots = append(roots, ssz.HashTreeRootContainer([][32]byte{
			ssz.HashTreeRootBytes48(d.Pubkey),
			ssz.HashTreeRootBytes32(d.WithdrawalCredentials),
			ssz.HashTreeRootUint64(d.Amount),
			ssz.HashTreeRootBytes96(d.Signature),
		}))
	}
	return ssz.HashTreeRootList(roots, MaxDepositsPerBlock)
}

func marshalVoluntaryExits(exits []VoluntaryExit) []byte {
	var out []byte
	for _, e := range exits {
		out = append(out, ssz.MarshalFixedContainer([][]byte{
			ssz.MarshalUint64(uint64(e.Epoch)),
			ssz.MarshalUint64(uint64(e.ValidatorIndex)),
			ssz.MarshalByteVector(e.Signature[:]),
		})...)
	}
	return out
}

func hashTreeRootVoluntaryExits(exits []VoluntaryExit) [32]byte {
	roots := make([][32]byte, 0, len(exits))
	for _, e := range exits {
		roots = append(roots, ssz.HashTreeRootContainer([][32]byte{
			ssz.HashTreeRootUint64(uint64(e.Epoch)),
			ssz.HashTreeRootUint64(uint64(e.ValidatorIndex)),
			ssz.HashTreeRootBytes96(e.Signature),
		}))
	}
	return ssz.HashTreeRootList(roots, MaxVoluntaryExits)
}

// --- BeaconState ---

// MarshalSSZ encodes the state's scalar and fixed-ring fields plus its
// variable-length validator/balance/vote registries. Validators, Balances,
// HistoricalRoots, Eth1DataVotes, and the two pending-attestation lists vary
// in length; the ring arrays keep the lengths ChainParams gave them at
// genesis (invariant 4), though they too are encoded as offset-addressed
// parts.
func (s *BeaconState) MarshalSSZ() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	valBytes, err := marshalValidatorList(s.Validators)
	if err != nil {
		return nil, err
	}
	balBytes := marshalUint64List(s.Balances)
	randaoBytes := marshalHashVector(s.RandaoMixes)
	blockRootsBytes := marshalHashVector(s.LatestBlockRoots)
	stateRootsBytes := marshalHashVector(s.LatestStateRoots)
	activeRootsBytes := marshalHashVector(s.LatestActiveIndexRoots)
	slashedBalBytes := marshalUint64List(s.LatestSlashedBalances)
	historicalBytes := marshalHashVector(s.HistoricalRoots)
	headerBytes, err := s.LatestBlockHeader.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	eth1VotesBytes := marshalEth1DataVotes(s.Eth1DataVotes)
	prevAttBytes, err := marshalPendingAttestations(s.PreviousEpochAttestations)
	if err != nil {
		return nil, err
	}
	currAttBytes, err := marshalPendingAttestations(s.CurrentEpochAttestations)
	if err != nil {
		return nil, err
	}

	fixedParts := [][]byte{
		ssz.MarshalUint64(uint64(s.Slot)),
		ssz.MarshalUint64(s.GenesisTime),
		nil, nil, // Validators, Balances
		nil,                                       // RandaoMixes
		ssz.MarshalByteVector(s.PreviousShufflingSeed.Bytes()),
		ssz.MarshalByteVector(s.CurrentShufflingSeed.Bytes()),
		marshalCheckpoint(s.PreviousJustifiedCheckpoint),
		marshalCheckpoint(s.CurrentJustifiedCheckpoint),
		ssz.MarshalUint8(uint8(s.JustificationBits)),
		marshalCheckpoint(s.FinalizedCheckpoint),
		nil, nil, nil, // LatestBlockRoots, LatestStateRoots, LatestActiveIndexRoots
		nil, // LatestSlashedBalances
		headerBytes,
		nil, // HistoricalRoots
		ssz.MarshalByteVector(s.LatestEth1Data.Bytes()),
		marshalEth1Data(s.Eth1DataRaw),
		nil, // Eth1DataVotes
		ssz.MarshalUint64(s.DepositIndex),
		nil, nil, // Previous/CurrentEpochAttestations
	}
	variableIdx := []int{2, 3, 4, 11, 12, 13, 14, 16, 19, 21, 22}
	variableParts := [][]byte{
		valBytes, balBytes, randaoBytes,
		blockRootsBytes, stateRootsBytes, activeRootsBytes, slashedBalBytes,
		historicalBytes, eth1VotesBytes, prevAttBytes, currAttBytes,
	}
	return ssz.MarshalVariableContainer(fixedParts, variableParts, variableIdx), nil
}

// SizeSSZ returns the current variable encoded size of the state.
func (s *BeaconState) SizeSSZ() int {
	data, err := s.MarshalSSZ()
	if err != nil {
		return 0
	}
	return len(data)
}

// UnmarshalSSZ is not implemented: BeaconState is never reconstructed from
// a flat SSZ buffer in this engine (it is rebuilt from genesis plus
// replayed blocks; checkpoint_store.go keeps checkpoint epochs and roots,
// not states). HashTreeRoot is exercised by the state-root path and
// MarshalSSZ by SizeSSZ; a full decode path is not wired to anything and
// would be dead code.
func (s *BeaconState) UnmarshalSSZ(data []byte) error {
	return ssz.ErrInvalidLength
}

// HashTreeRoot computes the state's SSZ hash tree root, the value written
// into latest_state_roots during slot processing (§4.2a).
func (s *BeaconState) HashTreeRoot() ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	valRoots := make([][32]byte, len(s.Validators))
	for i := range s.Validators {
		r, err := s.Validators[i].HashTreeRoot()
		if err != nil {
			return [32]byte{}, err
		}
		valRoots[i] = r
	}
	balRoot := hashTreeRootUint64List(s.Balances)
	headerRoot, err := s.LatestBlockHeader.HashTreeRoot()
	if err != nil {
		return [32]byte{}, err
	}

	fields := [][32]byte{
		ssz.HashTreeRootUint64(uint64(s.Slot)),
		ssz.HashTreeRootUint64(s.GenesisTime),
		ssz.HashTreeRootList(valRoots, 1<<22),
		balRoot,
		hashTreeRootHashVector(s.RandaoMixes),
		ssz.HashTreeRootBytes32(toArray32(s.PreviousShufflingSeed)),
		ssz.HashTreeRootBytes32(toArray32(s.CurrentShufflingSeed)),
		hashTreeRootCheckpoint(s.PreviousJustifiedCheckpoint),
		hashTreeRootCheckpoint(s.CurrentJustifiedCheckpoint),
		ssz.HashTreeRootUint8(uint8(s.JustificationBits)),
		hashTreeRootCheckpoint(s.FinalizedCheckpoint),
		hashTreeRootHashVector(s.LatestBlockRoots),
		hashTreeRootHashVector(s.LatestStateRoots),
		hashTreeRootHashVector(s.LatestActiveIndexRoots),
		hashTreeRootUint64List(s.LatestSlashedBalances),
		headerRoot,
		hashTreeRootHashVector(s.HistoricalRoots),
		ssz.HashTreeRootBytes32(toArray32(s.LatestEth1Data)),
		hashTreeRootEth1Data(s.Eth1DataRaw),
		hashTreeRootEth1DataVotes(s.Eth1DataVotes),
		ssz.HashTreeRootUint64(s.DepositIndex),
		mustHashTreeRootPendingAttestations(s.PreviousEpochAttestations),
		mustHashTreeRootPendingAttestations(s.CurrentEpochAttestations),
	}
	return ssz.HashTreeRootContainer(fields), nil
}

func marshalValidatorList(vs []Validator) ([]byte, error) {
	var out []byte
	for i := range vs {
		b, err := vs[i].MarshalSSZ()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func marshalUint64List(vals []uint64) []byte {
	out := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		out = append(out, ssz.MarshalUint64(v)...)
	}
	return out
}

func hashTreeRootUint64List(vals []uint64) [32]byte {
	return ssz.HashTreeRootBasicList(marshalUint64List(vals), len(vals), 8, len(vals)+1)
}

func marshalHashVector(hs []types.Hash) []byte {
	out := make([]byte, 0, len(hs)*32)
	for _, h := range hs {
		out = append(out, h.Bytes()...)
	}
	return out
}

func hashTreeRootHashVector(hs []types.Hash) [32]byte {
	roots := make([][32]byte, len(hs))
	for i, h := range hs {
		roots[i] = toArray32(h)
	}
	return ssz.HashTreeRootVector(roots)
}

func marshalEth1DataVotes(votes []Eth1DataVote) []byte {
	var out []byte
	for _, v := range votes {
		out = append(out, marshalEth1Data(v.Data)...)
		out = append(out, ssz.MarshalUint64(v.Votes)...)
	}
	return out
}

func hashTreeRootEth1DataVotes(votes []Eth1DataVote) [32]byte {
	roots := make([][32]byte, len(votes))
	for i, v := range votes {
		roots[i] = ssz.HashTreeRootContainer([][32]byte{
			hashTreeRootEth1Data(v.Data),
			ssz.HashTreeRootUint64(v.Votes),
		})
	}
	return ssz.HashTreeRootList(roots, len(votes)+1)
}

func marshalPendingAttestations(atts []PendingAttestation) ([]byte, error) {
	var out []byte
	for _, a := range atts {
		dataBytes, err := a.Data.MarshalSSZ()
		if err != nil {
			return nil, err
		}
		fixedParts := [][]byte{
			nil,
			dataBytes,
			ssz.MarshalUint64(uint64(a.InclusionDelay)),
			ssz.MarshalUint64(uint64(a.ProposerIndex)),
		}
		elem := ssz.MarshalVariableContainer(fixedParts, [][]byte{ssz.MarshalByteList(a.AggregationBits)}, []int{0})
		out = append(out, ssz.MarshalUint32(uint32(len(elem)))...)
		out = append(out, elem...)
	}
	return out, nil
}

func hashTreeRootPendingAttestations(atts []PendingAttestation) ([32]byte, error) {
	roots := make([][32]byte, len(atts))
	for i, a := range atts {
		dataRoot, err := a.Data.HashTreeRoot()
		if err != nil {
			return [32]byte{}, err
		}
		bitsRoot := ssz.HashTreeRootByteList(a.AggregationBits, maxValidatorsPerCommittee/8)
		roots[i] = ssz.HashTreeRootContainer([][32]byte{
			bitsRoot,
			dataRoot,
			ssz.HashTreeRootUint64(uint64(a.InclusionDelay)),
			ssz.HashTreeRootUint64(uint64(a.ProposerIndex)),
		})
	}
	return ssz.HashTreeRootList(roots, maxAttestationsPerBlock), nil
}

func mustHashTreeRootPendingAttestations(atts []PendingAttestation) [32]byte {
	root, err := hashTreeRootPendingAttestations(atts)
	if err != nil {
		return [32]byte{}
	}
	return root
}
