// finality_rules.go implements Casper FFG finality with proper
// justification/finalization logic per the beacon chain spec. Operates on
// BeaconState and tracks justified/finalized checkpoints with full
// support for all four finalization conditions.
package consensus

import (
	"errors"
	"sync"
)

// Casper FFG finality errors.
var (
	ErrFRNilState         = errors.New("finality_rules: nil beacon state")
	ErrFRGenesisEpoch     = errors.New("finality_rules: cannot process genesis epoch")
	ErrFRNoValidators     = errors.New("finality_rules: no active validators")
	ErrFRInvalidWeight    = errors.New("finality_rules: vote weight exceeds total weight")
	ErrFRAlreadyFinalized = errors.New("finality_rules: checkpoint already finalized")
)

// SupermajorityNumerator and SupermajorityDenominator define the 2/3
// supermajority threshold used in Casper FFG.
const (
	SupermajorityNumerator   = 2
	SupermajorityDenominator = 3
)

// CasperCheckpoint is a finality checkpoint with epoch and block root.
type CasperCheckpoint struct {
	Epoch Epoch
	Root  [32]byte
}

// IsZero returns true if the checkpoint is unset.
func (c CasperCheckpoint) IsZero() bool {
	return c.Epoch == 0 && c.Root == [32]byte{}
}

// Equals returns true if two checkpoints match.
func (c CasperCheckpoint) Equals(other CasperCheckpoint) bool {
	return c.Epoch == other.Epoch && c.Root == other.Root
}

// CasperFinalityTracker implements Casper FFG finality tracking with proper
// justification and finalization logic. Thread-safe.
type CasperFinalityTracker struct {
	mu                          sync.RWMutex
	justified                   CasperCheckpoint
	finalized                   CasperCheckpoint
	previousJustified           CasperCheckpoint
	justificationBits           [4]bool
	finalizedCheckpoints        map[Epoch]CasperCheckpoint
	slotsPerEpoch               uint64
	slotsPerHistoricalRoot      uint64
}

// NewCasperFinalityTracker creates a finality tracker from a chain's
// parameters. Genesis epoch 0 is justified and finalized by default.
func NewCasperFinalityTracker(params *ChainParams) *CasperFinalityTracker {
	slotsPerEpoch := params.SlotsPerEpoch
	if slotsPerEpoch == 0 {
		slotsPerEpoch = 32
	}
	slotsPerHistoricalRoot := params.SlotsPerHistoricalRoot
	if slotsPerHistoricalRoot == 0 {
		slotsPerHistoricalRoot = 8192
	}
	genesis := CasperCheckpoint{Epoch: 0}
	return &CasperFinalityTracker{
		justified:              genesis,
		finalized:              genesis,
		previousJustified:      genesis,
		justificationBits:      [4]bool{true, false, false, false},
		finalizedCheckpoints:   map[Epoch]CasperCheckpoint{0: genesis},
		slotsPerEpoch:          slotsPerEpoch,
		slotsPerHistoricalRoot: slotsPerHistoricalRoot,
	}
}

// ProcessJustification processes justification for the current epoch.
// previousEpochParticipation and currentEpochParticipation classify, per
// validator, whether that validator's attestation target matched the
// epoch-boundary checkpoint; justification weight is the total effective
// balance of validators whose target vote is canon (`S` in the spec), not
// the epoch's total active balance. It updates justification bits and the
// current/previous justified checkpoints. This follows the spec's
// process_justification_and_finalization.
func (ft *CasperFinalityTracker) ProcessJustification(
	currentEpoch Epoch,
	state *BeaconState,
	previousEpochParticipation, currentEpochParticipation *Participation,
) error {
	if state == nil {
		return ErrFRNilState
	}
	if currentEpoch <= 1 {
		return ErrFRGenesisEpoch
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	previousEpoch := currentEpoch - 1
	activeIndices := state.ActiveValidatorIndices(currentEpoch)
	if len(activeIndices) == 0 {
		return ErrFRNoValidators
	}
	totalBalance := state.TotalActiveBalance(currentEpoch)

	// Rotate: previous justified <- current justified.
	ft.previousJustified = ft.justified

	// Shift justification bits: bit[i] = bit[i-1], bit[0] = false.
	for i := len(ft.justificationBits) - 1; i > 0; i-- {
		ft.justificationBits[i] = ft.justificationBits[i-1]
	}
	ft.justificationBits[0] = false

	// Previous epoch: S is the effective balance of validators whose target
	// attestation matched the previous-epoch checkpoint.
	previousTargetBalance := targetVotedBalance(state, previousEpoch, previousEpochParticipation)
	if isSuperMajority(previousTargetBalance, totalBalance) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(previousEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: previousEpoch, Root: root}
		ft.justificationBits[1] = true
	}

	// Current epoch: same classification against the current-epoch checkpoint.
	currentTargetBalance := targetVotedBalance(state, currentEpoch, currentEpochParticipation)
	if isSuperMajority(currentTargetBalance, totalBalance) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(currentEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: currentEpoch, Root: root}
		ft.justificationBits[0] = true
	}

	justifiedEpochGauge.Set(float64(ft.justified.Epoch))

	return nil
}

// targetVotedBalance sums the effective balance of active validators (at
// epoch) whose participation record shows a correct target vote. A nil
// participation is treated as no votes recorded.
func targetVotedBalance(state *BeaconState, epoch Epoch, participation *Participation) uint64 {
	if participation == nil {
		return 0
	}
	var total uint64
	for _, idx := range state.ActiveValidatorIndices(epoch) {
		if participation.Target[idx] {
			total += state.Validators[idx].EffectiveBalance
		}
	}
	return total
}

// ProcessJustificationWithWeights processes justification using explicit
// vote weights for the previous and current epochs.
func (ft *CasperFinalityTracker) ProcessJustificationWithWeights(
	currentEpoch Epoch,
	state *BeaconState,
	previousEpochWeight, currentEpochWeight, totalWeight uint64,
) error {
	if state == nil {
		return ErrFRNilState
	}
	if currentEpoch <= 1 {
		return ErrFRGenesisEpoch
	}
	if previousEpochWeight > totalWeight || currentEpochWeight > totalWeight {
		return ErrFRInvalidWeight
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	previousEpoch := currentEpoch - 1

	// Rotate justified checkpoints.
	ft.previousJustified = ft.justified

	// Shift justification bits.
	for i := len(ft.justificationBits) - 1; i > 0; i-- {
		ft.justificationBits[i] = ft.justificationBits[i-1]
	}
	ft.justificationBits[0] = false

	// Justify previous epoch if supermajority attested.
	if isSuperMajority(previousEpochWeight, totalWeight) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(previousEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: previousEpoch, Root: root}
		ft.justificationBits[1] = true
	}

	// Justify current epoch if supermajority attested.
	if isSuperMajority(currentEpochWeight, totalWeight) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(currentEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: currentEpoch, Root: root}
		ft.justificationBits[0] = true
	}

	return nil
}

// ProcessFinalization attempts to finalize checkpoints based on the four
// Casper FFG finalization conditions from the beacon chain spec. Note: when
// calling this separately from ProcessJustification, it uses the current
// values of justified/previousJustified. For correct spec behavior, use
// ProcessJustificationAndFinalization which captures old values properly.
func (ft *CasperFinalityTracker) ProcessFinalization(currentEpoch Epoch, state *BeaconState) error {
	if state == nil {
		return ErrFRNilState
	}
	if currentEpoch <= 1 {
		return ErrFRGenesisEpoch
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.applyFinalization(currentEpoch, ft.previousJustified, ft.justified)
	return nil
}

// applyFinalization applies the 4 finalization conditions. Must be called
// with the lock held. oldPJ and oldCJ are the justified checkpoints captured
// BEFORE the current epoch's justification rotation.
func (ft *CasperFinalityTracker) applyFinalization(
	currentEpoch Epoch,
	oldPJ, oldCJ CasperCheckpoint,
) {
	b := ft.justificationBits

	// Condition 4 (spec order): 4th, 3rd, 2nd epochs justified, finalize 4th.
	if b[1] && b[2] && b[3] && oldPJ.Epoch+3 == currentEpoch {
		ft.finalized = oldPJ
		ft.finalizedCheckpoints[oldPJ.Epoch] = oldPJ
	}

	// Condition 2 (spec order): 3rd, 2nd epochs justified, finalize 3rd.
	if b[1] && b[2] && oldPJ.Epoch+2 == currentEpoch {
		ft.finalized = oldPJ
		ft.finalizedCheckpoints[oldPJ.Epoch] = oldPJ
	}

	// Condition 3 (spec order): 3rd, 2nd, 1st epochs justified, finalize 3rd.
	if b[0] && b[1] && b[2] && oldCJ.Epoch+2 == currentEpoch {
		ft.finalized = oldCJ
		ft.finalizedCheckpoints[oldCJ.Epoch] = oldCJ
	}

	// Condition 1 (spec order): 2nd, 1st epochs justified, finalize 2nd.
	if b[0] && b[1] && oldCJ.Epoch+1 == currentEpoch {
		ft.finalized = oldCJ
		ft.finalizedCheckpoints[oldCJ.Epoch] = oldCJ
	}

	justifiedEpochGauge.Set(float64(ft.justified.Epoch))
	finalizedEpochGauge.Set(float64(ft.finalized.Epoch))
}

// ProcessJustificationAndFinalization performs both justification and
// finalization in a single call, correctly capturing old checkpoint values
// before rotation as required by the beacon chain spec.
func (ft *CasperFinalityTracker) ProcessJustificationAndFinalization(
	currentEpoch Epoch,
	state *BeaconState,
	previousEpochWeight, currentEpochWeight, totalWeight uint64,
) error {
	if state == nil {
		return ErrFRNilState
	}
	if currentEpoch <= 1 {
		return ErrFRGenesisEpoch
	}
	if previousEpochWeight > totalWeight || currentEpochWeight > totalWeight {
		return ErrFRInvalidWeight
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	previousEpoch := currentEpoch - 1

	// Capture old values BEFORE rotation (per spec).
	oldPJ := ft.previousJustified
	oldCJ := ft.justified

	// Rotate justified checkpoints.
	ft.previousJustified = ft.justified

	// Shift justification bits.
	for i := len(ft.justificationBits) - 1; i > 0; i-- {
		ft.justificationBits[i] = ft.justificationBits[i-1]
	}
	ft.justificationBits[0] = false

	// Justify previous epoch if supermajority attested.
	if isSuperMajority(previousEpochWeight, totalWeight) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(previousEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: previousEpoch, Root: root}
		ft.justificationBits[1] = true
	}

	// Justify current epoch if supermajority attested.
	if isSuperMajority(currentEpochWeight, totalWeight) {
		root := state.LatestBlockRoots[uint64(EpochStartSlot(currentEpoch, ft.slotsPerEpoch))%ft.slotsPerHistoricalRoot]
		ft.justified = CasperCheckpoint{Epoch: currentEpoch, Root: root}
		ft.justificationBits[0] = true
	}

	// Apply finalization with the old (pre-rotation) values.
	ft.applyFinalization(currentEpoch, oldPJ, oldCJ)

	return nil
}

// IsFinalized returns true if the given checkpoint has been finalized.
func (ft *CasperFinalityTracker) IsFinalized(checkpoint CasperCheckpoint) bool {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	// A checkpoint is finalized if its epoch is at or before the finalized epoch.
	return checkpoint.Epoch <= ft.finalized.Epoch
}

// GetFinalizedCheckpoint returns the latest finalized checkpoint.
func (ft *CasperFinalityTracker) GetFinalizedCheckpoint() CasperCheckpoint {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.finalized
}

// GetJustifiedCheckpoint returns the latest justified checkpoint.
func (ft *CasperFinalityTracker) GetJustifiedCheckpoint() CasperCheckpoint {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.justified
}

// GetPreviousJustifiedCheckpoint returns the previous justified checkpoint.
func (ft *CasperFinalityTracker) GetPreviousJustifiedCheckpoint() CasperCheckpoint {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.previousJustified
}

// GetJustificationBits returns the current justification bitfield.
func (ft *CasperFinalityTracker) GetJustificationBits() [4]bool {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.justificationBits
}

// FinalityDelay returns the number of epochs since the last finalization.
func (ft *CasperFinalityTracker) FinalityDelay(currentEpoch Epoch) uint64 {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if currentEpoch <= ft.finalized.Epoch {
		return 0
	}
	return uint64(currentEpoch) - uint64(ft.finalized.Epoch)
}

// SetJustified manually sets the justified checkpoint. Useful for
// initialization or testing.
func (ft *CasperFinalityTracker) SetJustified(cp CasperCheckpoint) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.justified = cp
}

// SetFinalized manually sets the finalized checkpoint. Useful for
// initialization or testing.
func (ft *CasperFinalityTracker) SetFinalized(cp CasperCheckpoint) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.finalized = cp
	ft.finalizedCheckpoints[cp.Epoch] = cp
}

// SetJustificationBits manually sets the justification bits.
func (ft *CasperFinalityTracker) SetJustificationBits(bits [4]bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.justificationBits = bits
}

// SetPreviousJustified manually sets the previous justified checkpoint.
func (ft *CasperFinalityTracker) SetPreviousJustified(cp CasperCheckpoint) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.previousJustified = cp
}

// isSuperMajority returns true if voteWeight >= 2/3 of totalWeight.
func isSuperMajority(voteWeight, totalWeight uint64) bool {
	if totalWeight == 0 {
		return false
	}
	// voteWeight * 3 >= totalWeight * 2 (safe from overflow for practical values).
	return voteWeight*SupermajorityDenominator >= totalWeight*SupermajorityNumerator
}
