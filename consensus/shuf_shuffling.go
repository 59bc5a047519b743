// shuf_shuffling.go implements beacon committee shuffling per §4.2's
// Extension: ComputeShuffledIndex, ComputeCommittee, ComputeProposerIndex.
// Swap-or-not shuffle, proposer index computation with effective-balance
// weighting, and committee slicing over the shuffled active set.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

const (
	ShufShuffleRoundCount    = 90
	ShufMaxCommitteesPerSlot = 64
	ShufTargetCommitteeSize  = 128
	ShufMaxRandomByte uint64 = 255
)

var (
	ErrShufIndexOutOfRange  = errors.New("shuffling: index >= count")
	ErrShufZeroCount        = errors.New("shuffling: count is zero")
	ErrShufNoActiveVals     = errors.New("shuffling: no active validators")
	ErrShufInvalidCommIdx   = errors.New("shuffling: committee index out of range")
	ErrShufProposerNotFound = errors.New("shuffling: proposer not found after max iterations")
)

// ComputeShuffledIndex computes the shuffled position for index using the
// swap-or-not network: ShufShuffleRoundCount rounds of SHA-256 based
// pivot/flip/bit selection.
func ComputeShuffledIndex(index, indexCount uint64, seed [32]byte) (uint64, error) {
	if indexCount == 0 {
		return 0, ErrShufZeroCount
	}
	if index >= indexCount {
		return 0, ErrShufIndexOutOfRange
	}
	if indexCount == 1 {
		return 0, nil
	}

	cur := index
	for round := uint64(0); round < ShufShuffleRoundCount; round++ {
		var pivotInput [33]byte
		copy(pivotInput[:32], seed[:])
		pivotInput[32] = byte(round)
		pivotHash := sha256.Sum256(pivotInput[:])
		pivot := binary.LittleEndian.Uint64(pivotHash[:8]) % indexCount

		flip := (pivot + indexCount - cur) % indexCount

		position := flip
		if cur > flip {
			position = cur
		}

		var srcInput [37]byte
		copy(srcInput[:32], seed[:])
		srcInput[32] = byte(round)
		binary.LittleEndian.PutUint32(srcInput[33:], uint32(position/256))
		source := sha256.Sum256(srcInput[:])

		byteIdx := (position % 256) / 8
		bitIdx := position % 8
		if (source[byteIdx]>>bitIdx)&1 != 0 {
			cur = flip
		}
	}
	return cur, nil
}

// ComputeProposerIndex selects the block proposer from activeIndices using
// effective-balance-weighted random sampling: a candidate at shuffled
// position i is accepted with probability effective_balance/MaxEffectiveBalance.
func ComputeProposerIndex(
	activeIndices []ValidatorIndex,
	effectiveBalances map[ValidatorIndex]uint64,
	seed [32]byte,
	maxEffectiveBalance uint64,
) (ValidatorIndex, error) {
	if len(activeIndices) == 0 {
		return 0, ErrShufNoActiveVals
	}

	total := uint64(len(activeIndices))
	var buf [40]byte
	for i := uint64(0); i < total*100; i++ {
		shuffled, err := ComputeShuffledIndex(i%total, total, seed)
		if err != nil {
			return 0, err
		}
		candidate := activeIndices[shuffled]

		copy(buf[:32], seed[:])
		binary.LittleEndian.PutUint64(buf[32:], i/32)
		randHash := sha256.Sum256(buf[:])
		randByte := uint64(randHash[i%32])

		eb := effectiveBalances[candidate]
		if eb*ShufMaxRandomByte >= maxEffectiveBalance*randByte {
			return candidate, nil
		}
	}
	return 0, ErrShufProposerNotFound
}

// ComputeCommitteeCount returns the number of committees per slot for a
// given active validator count:
// max(1, min(MaxCommitteesPerSlot, active / slotsPerEpoch / TargetCommitteeSize)).
func ComputeCommitteeCount(activeCount uint64, slotsPerEpoch uint64) uint64 {
	if slotsPerEpoch == 0 {
		slotsPerEpoch = 32
	}
	count := activeCount / slotsPerEpoch / ShufTargetCommitteeSize
	if count == 0 {
		count = 1
	}
	if count > ShufMaxCommitteesPerSlot {
		count = ShufMaxCommitteesPerSlot
	}
	return count
}

// ComputeCommittee computes the members of the committee at global position
// idx out of totalCommittees, by slicing the shuffled active set
// proportionally: indices [count*idx/totalCommittees, count*(idx+1)/totalCommittees).
func ComputeCommittee(
	indices []ValidatorIndex,
	seed [32]byte,
	idx uint64,
	totalCommittees uint64,
) ([]ValidatorIndex, error) {
	count := uint64(len(indices))
	if count == 0 {
		return nil, ErrShufNoActiveVals
	}
	if totalCommittees == 0 {
		return nil, ErrShufZeroCount
	}

	start := count * idx / totalCommittees
	end := count * (idx + 1) / totalCommittees

	members := make([]ValidatorIndex, 0, end-start)
	for i := start; i < end; i++ {
		shuffled, err := ComputeShuffledIndex(i, count, seed)
		if err != nil {
			return nil, err
		}
		members = append(members, indices[shuffled])
	}
	return members, nil
}

// ComputeEpochSeed derives a shuffling seed from a RANDAO mix, epoch, and
// BLS domain type: seed = sha256(domain || epoch || mix[:20] || 8 zero bytes).
func ComputeEpochSeed(domain [4]byte, epoch Epoch, mix [32]byte) [32]byte {
	var buf [40]byte
	copy(buf[:4], domain[:])
	binary.LittleEndian.PutUint64(buf[4:12], uint64(epoch))
	copy(buf[12:32], mix[:20])
	return sha256.Sum256(buf[:])
}

// BeaconCommittee returns the committee for slot/committeeIndex within the
// given beacon state, deriving the seed from that epoch's RANDAO mix under
// the attestation domain.
func BeaconCommittee(state *BeaconState, slot Slot, committeeIndex uint64) ([]ValidatorIndex, error) {
	params := state.Params()
	epoch := SlotToEpoch(slot, params.SlotsPerEpoch)
	active := state.ActiveValidatorIndices(epoch)
	if len(active) == 0 {
		return nil, ErrShufNoActiveVals
	}

	committeesPerSlot := ComputeCommitteeCount(uint64(len(active)), params.SlotsPerEpoch)
	if committeeIndex >= committeesPerSlot {
		return nil, ErrShufInvalidCommIdx
	}

	totalCommittees := params.SlotsPerEpoch * committeesPerSlot
	slotOffset := uint64(slot) % params.SlotsPerEpoch
	globalIdx := slotOffset*committeesPerSlot + committeeIndex

	mix := GetRandaoMix(state, epoch)
	seed := ComputeEpochSeed(params.DomainAttestation, epoch, [32]byte(mix))

	return ComputeCommittee(active, seed, globalIdx, totalCommittees)
}

// BeaconProposerIndex computes the proposer for slot within state.
func BeaconProposerIndex(state *BeaconState, slot Slot) (ValidatorIndex, error) {
	params := state.Params()
	epoch := SlotToEpoch(slot, params.SlotsPerEpoch)
	active := state.ActiveValidatorIndices(epoch)
	if len(active) == 0 {
		return 0, ErrShufNoActiveVals
	}

	balances := make(map[ValidatorIndex]uint64, len(active))
	for _, idx := range active {
		v, err := state.Validator(idx)
		if err != nil {
			continue
		}
		balances[idx] = v.EffectiveBalance
	}

	mix := GetRandaoMix(state, epoch)
	epochSeed := ComputeEpochSeed(params.DomainBeaconProposer, epoch, [32]byte(mix))
	var slotBuf [40]byte
	copy(slotBuf[:32], epochSeed[:])
	binary.LittleEndian.PutUint64(slotBuf[32:], uint64(slot))
	proposerSeed := sha256.Sum256(slotBuf[:])

	return ComputeProposerIndex(active, balances, proposerSeed, params.MaxEffectiveBalance)
}
