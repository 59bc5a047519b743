// validator_lifecycle.go tracks validators through pending -> active ->
// exiting -> exited -> withdrawable states directly against a BeaconState,
// and implements the registry-update and exit-queue portion of
// SPEC_FULL.md §4.2(d): activation queue processing up to the churn limit,
// rate-limited voluntary/forced exits, and slashing withdrawable-epoch
// bookkeeping.
package consensus

import (
	"errors"
	"sort"
)

// ValidatorState represents the lifecycle state of a beacon chain validator.
type ValidatorState uint8

const (
	// StatePending: deposited but not yet eligible for activation.
	StatePending ValidatorState = iota
	// StateActive: participating in consensus duties.
	StateActive
	// StateExiting: initiated exit, waiting for exit epoch.
	StateExiting
	// StateExited: exit epoch reached, no longer attesting.
	StateExited
	// StateWithdrawable: withdrawable epoch reached, funds can be withdrawn.
	StateWithdrawable
	// StateSlashed: validator has been slashed (can overlap with exiting/exited).
	StateSlashed
)

// String returns the human-readable name of a ValidatorState.
func (s ValidatorState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateExiting:
		return "exiting"
	case StateExited:
		return "exited"
	case StateWithdrawable:
		return "withdrawable"
	case StateSlashed:
		return "slashed"
	default:
		return "unknown"
	}
}

// ValidatorLifecycleState computes v's lifecycle state at the given epoch.
func ValidatorLifecycleState(v *Validator, epoch Epoch) ValidatorState {
	if v.Slashed && v.ExitEpoch != FarFutureEpoch {
		if epoch >= v.WithdrawableEpoch {
			return StateWithdrawable
		}
		return StateSlashed
	}
	if v.ActivationEpoch == FarFutureEpoch || epoch < v.ActivationEpoch {
		return StatePending
	}
	if v.ExitEpoch == FarFutureEpoch {
		return StateActive
	}
	if epoch < v.ExitEpoch {
		return StateExiting
	}
	if epoch < v.WithdrawableEpoch {
		return StateExited
	}
	return StateWithdrawable
}

// Validator lifecycle errors.
var (
	ErrLifecycleValidatorNotFound   = errors.New("lifecycle: validator not found")
	ErrLifecycleAlreadyExiting      = errors.New("lifecycle: validator already exiting or exited")
	ErrLifecycleNotActive           = errors.New("lifecycle: validator is not active")
	ErrLifecycleAlreadySlashed      = errors.New("lifecycle: validator already slashed")
	ErrLifecycleInsufficientBalance = errors.New("lifecycle: insufficient effective balance for activation")
)

// ValidatorLifecycleStats holds aggregate statistics about the validator set.
type ValidatorLifecycleStats struct {
	PendingCount       int
	ActiveCount        int
	ExitingCount       int
	ExitedCount        int
	WithdrawableCount  int
	SlashedCount       int
	TotalActiveBalance uint64
}

// computeActivationExitEpoch returns the epoch at which activations and
// exits initiated in the given epoch take effect: epoch + 1 + MAX_SEED_LOOKAHEAD.
func computeActivationExitEpoch(epoch Epoch, params *ChainParams) Epoch {
	return Epoch(uint64(epoch) + 1 + params.MaxSeedLookahead)
}

// computeChurnLimit returns the validator churn limit given a count of
// active validators: max(MIN_PER_EPOCH_CHURN_LIMIT, activeCount / CHURN_LIMIT_QUOTIENT).
func computeChurnLimit(activeCount int, params *ChainParams) uint64 {
	churn := uint64(activeCount) / params.ChurnLimitQuotient
	if churn < params.MinPerEpochChurnLimit {
		return params.MinPerEpochChurnLimit
	}
	return churn
}

// exitQueueEpoch computes the epoch new exits initiated at currentEpoch
// should land on, rate-limited by the churn of validators already
// scheduled to exit at the same epoch.
func exitQueueEpoch(state *BeaconState, params *ChainParams, currentEpoch Epoch) Epoch {
	queueEpoch := computeActivationExitEpoch(currentEpoch, params)
	queueChurn := 0
	for i := range state.Validators {
		ev := &state.Validators[i]
		if ev.ExitEpoch == FarFutureEpoch {
			continue
		}
		if ev.ExitEpoch > queueEpoch {
			queueEpoch = ev.ExitEpoch
			queueChurn = 1
		} else if ev.ExitEpoch == queueEpoch {
			queueChurn++
		}
	}
	activeCount := len(state.ActiveValidatorIndices(currentEpoch))
	if uint64(queueChurn) >= computeChurnLimit(activeCount, params) {
		queueEpoch = Epoch(uint64(queueEpoch) + 1)
	}
	return queueEpoch
}

// InitiateValidatorExit begins the exit process for the validator at index,
// rate-limiting against the exit queue churn limit. A no-op if the
// validator has already initiated exit.
func InitiateValidatorExit(state *BeaconState, params *ChainParams, index ValidatorIndex, currentEpoch Epoch) error {
	v, err := state.Validator(index)
	if err != nil {
		return ErrLifecycleValidatorNotFound
	}
	if v.ExitEpoch != FarFutureEpoch {
		return nil
	}
	if !v.IsActiveAtEpoch(currentEpoch) {
		return ErrLifecycleNotActive
	}

	v.ExitEpoch = exitQueueEpoch(state, params, currentEpoch)
	v.WithdrawableEpoch = Epoch(uint64(v.ExitEpoch) + params.MinValidatorWithdrawabilityDelay)
	return nil
}

// SlashValidator marks the validator at index as slashed, initiates its
// exit if not already exiting, bumps its withdrawable epoch to at least
// currentEpoch + LatestSlashedExitLength (the slashings-vector length),
// and returns the initial slashing penalty deducted from its balance:
// effective_balance / MinSlashingPenaltyQuotient.
func SlashValidator(state *BeaconState, params *ChainParams, index ValidatorIndex, currentEpoch Epoch) (uint64, error) {
	v, err := state.Validator(index)
	if err != nil {
		return 0, ErrLifecycleValidatorNotFound
	}
	if v.Slashed {
		return 0, ErrLifecycleAlreadySlashed
	}
	if !v.IsSlashable(currentEpoch) {
		return 0, ErrLifecycleNotActive
	}

	v.Slashed = true

	if v.ExitEpoch == FarFutureEpoch {
		v.ExitEpoch = exitQueueEpoch(state, params, currentEpoch)
		v.WithdrawableEpoch = Epoch(uint64(v.ExitEpoch) + params.MinValidatorWithdrawabilityDelay)
	}

	slashWithdrawable := Epoch(uint64(currentEpoch) + params.LatestSlashedExitLength)
	if slashWithdrawable > v.WithdrawableEpoch {
		v.WithdrawableEpoch = slashWithdrawable
	}

	penalty := v.EffectiveBalance / params.MinSlashingPenaltyQuotient
	state.DecreaseBalance(index, penalty)
	return penalty, nil
}

// ProcessRegistryUpdates runs SPEC_FULL.md §4.2(d)'s registry update: marks
// validators whose effective balance has reached activation eligibility,
// then activates queued validators (sorted by eligibility epoch, then
// index) up to the churn limit, and force-exits any active validator at or
// below the ejection balance. Returns the indices activated this epoch.
func ProcessRegistryUpdates(state *BeaconState, params *ChainParams, currentEpoch Epoch) []ValidatorIndex {
	for i := range state.Validators {
		v := &state.Validators[i]
		if v.ActivationEligibilityEpoch == FarFutureEpoch && v.EffectiveBalance >= params.MaxEffectiveBalance {
			v.ActivationEligibilityEpoch = Epoch(uint64(currentEpoch) + 1)
		}
		if v.IsActiveAtEpoch(currentEpoch) && v.EffectiveBalance <= params.EjectionBalance && v.ExitEpoch == FarFutureEpoch {
			_ = InitiateValidatorExit(state, params, ValidatorIndex(i), currentEpoch)
		}
	}

	type candidate struct {
		index ValidatorIndex
		eligE Epoch
	}
	var candidates []candidate
	for i := range state.Validators {
		v := &state.Validators[i]
		if v.ActivationEligibilityEpoch != FarFutureEpoch &&
			v.ActivationEpoch == FarFutureEpoch &&
			v.ActivationEligibilityEpoch <= currentEpoch &&
			!v.Slashed {
			candidates = append(candidates, candidate{ValidatorIndex(i), v.ActivationEligibilityEpoch})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].eligE != candidates[j].eligE {
			return candidates[i].eligE < candidates[j].eligE
		}
		return candidates[i].index < candidates[j].index
	})

	activeCount := len(state.ActiveValidatorIndices(currentEpoch))
	churn := computeChurnLimit(activeCount, params)
	activationEpoch := computeActivationExitEpoch(currentEpoch, params)

	limit := int(churn)
	if limit > len(candidates) {
		limit = len(candidates)
	}
	activated := make([]ValidatorIndex, 0, limit)
	for i := 0; i < limit; i++ {
		v := &state.Validators[candidates[i].index]
		v.ActivationEpoch = activationEpoch
		activated = append(activated, candidates[i].index)
	}
	return activated
}

// UpdateEffectiveBalances recomputes every validator's effective balance
// from its actual balance using hysteresis, per ComputeEffectiveBalance.
func UpdateEffectiveBalances(state *BeaconState, params *ChainParams) {
	for i := range state.Validators {
		v := &state.Validators[i]
		v.EffectiveBalance = ComputeEffectiveBalance(state.Balances[i], v.EffectiveBalance, params)
	}
}

// LifecycleStats returns aggregate statistics about the validator set at
// the given epoch.
func LifecycleStats(state *BeaconState, epoch Epoch) ValidatorLifecycleStats {
	var stats ValidatorLifecycleStats
	for i := range state.Validators {
		v := &state.Validators[i]
		switch ValidatorLifecycleState(v, epoch) {
		case StatePending:
			stats.PendingCount++
		case StateActive:
			stats.ActiveCount++
			stats.TotalActiveBalance += v.EffectiveBalance
		case StateExiting:
			stats.ExitingCount++
			stats.TotalActiveBalance += v.EffectiveBalance
		case StateExited:
			stats.ExitedCount++
		case StateWithdrawable:
			stats.WithdrawableCount++
		case StateSlashed:
			stats.SlashedCount++
		}
	}
	return stats
}
