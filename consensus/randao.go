// randao.go implements RANDAO mix computation per §4.2(b): the proposer's
// BLS reveal is checked against DOMAIN_RANDAO and XORed into the epoch's
// mix slot, the source of randomness for shuffling and proposer selection.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/eth2030/beaconcore/core/types"
	"github.com/eth2030/beaconcore/crypto"
)

var (
	ErrRandaoInvalidReveal = errors.New("randao: invalid RANDAO reveal signature")
	ErrRandaoNoValidators  = errors.New("randao: no active validators")
	ErrRandaoInvalidIndex  = errors.New("randao: index out of range")
	ErrRandaoZeroCount     = errors.New("randao: zero index count for shuffle")
)

// ProcessRandaoReveal verifies the block proposer's RANDAO reveal and XORs
// its hash into state's mix for the current epoch. The reveal is a BLS
// signature over the epoch's signing root under DOMAIN_RANDAO; verification
// is delegated to backend, the pluggable BLS oracle (§1).
func ProcessRandaoReveal(
	state *BeaconState,
	backend crypto.BLSBackend,
	proposerPubkey [48]byte,
	reveal [96]byte,
	forkVersion [4]byte,
	genesisRoot [32]byte,
) error {
	params := state.Params()
	epoch := state.CurrentEpoch()

	var epochRoot [32]byte
	binary.LittleEndian.PutUint64(epochRoot[:8], uint64(epoch))
	domain := DomainSeparation(params.DomainRandao, forkVersion, genesisRoot)
	signingRoot := ComputeSigningRoot(epochRoot, domain)

	if !backend.Verify(proposerPubkey[:], signingRoot[:], reveal[:]) {
		return ErrRandaoInvalidReveal
	}

	revealHash := sha256.Sum256(reveal[:])
	mixIdx := uint64(epoch) % params.LatestRandaoMixesLength

	state.mu.Lock()
	defer state.mu.Unlock()
	for i := 0; i < 32; i++ {
		state.RandaoMixes[mixIdx][i] ^= revealHash[i]
	}
	return nil
}

// SetRandaoMix directly sets the RANDAO mix for an epoch, used at genesis
// and in tests.
func SetRandaoMix(state *BeaconState, epoch Epoch, mix types.Hash) {
	state.mu.Lock()
	defer state.mu.Unlock()
	idx := uint64(epoch) % state.params.LatestRandaoMixesLength
	state.RandaoMixes[idx] = mix
}

// GetRandaoMix returns the RANDAO mix recorded for epoch.
func GetRandaoMix(state *BeaconState, epoch Epoch) types.Hash {
	state.mu.RLock()
	defer state.mu.RUnlock()
	idx := uint64(epoch) % state.params.LatestRandaoMixesLength
	return state.RandaoMixes[idx]
}

// CopyRandaoMixToNextEpoch copies the current epoch's mix forward so the
// next epoch starts from a known value before any reveals are folded in
// (§4.2(d) epoch transition step).
func CopyRandaoMixToNextEpoch(state *BeaconState, epoch Epoch) {
	state.mu.Lock()
	defer state.mu.Unlock()
	params := state.params
	curIdx := uint64(epoch) % params.LatestRandaoMixesLength
	nextIdx := (uint64(epoch) + 1) % params.LatestRandaoMixesLength
	state.RandaoMixes[nextIdx] = state.RandaoMixes[curIdx]
}

// ComputeRandaoRevealHash hashes a RANDAO reveal, the value XORed into the
// epoch mix. Exposed for test fixtures.
func ComputeRandaoRevealHash(reveal [96]byte) [32]byte {
	return sha256.Sum256(reveal[:])
}
