// reward_calculator.go implements phase0 validator reward and penalty
// computation: base rewards scaled by the inverse square root of total
// active balance, split across the source/target/head attestation
// components, plus the attester's inclusion-distance reward and the
// inactivity leak penalty. No separate proposer reward is computed.
package consensus

import (
	"errors"
	"math"
	"sync"
)

// Reward calculation constants.
const (
	// RCBaseRewardDivisor is the number of reward components the base
	// reward is split across (source, target, head, inclusion, leak).
	RCBaseRewardDivisor uint64 = 5

	// RCBaseRewardQuotient is the phase0 default base reward quotient,
	// used when ChainParams.BaseRewardQuotient is zero.
	RCBaseRewardQuotient uint64 = 32

	// RCMinInclusionDelay is the phase0 default minimum attestation
	// inclusion delay, used when ChainParams.MinAttestationInclusionDelay
	// is zero.
	RCMinInclusionDelay uint64 = 1

	// RCMinEpochsToInactivityPenalty is the minimum finality delay before
	// inactivity penalties apply.
	RCMinEpochsToInactivityPenalty uint64 = 4

	// RCInactivityPenaltyQuotient is the phase0 inactivity penalty
	// denominator.
	RCInactivityPenaltyQuotient uint64 = 1 << 26
)

// Reward calculator errors.
var (
	ErrRCNilState         = errors.New("reward_calculator: nil state")
	ErrRCNilParticipation = errors.New("reward_calculator: nil participation")
	ErrRCNoValidators     = errors.New("reward_calculator: no validators")
	ErrRCZeroBalance      = errors.New("reward_calculator: zero total active balance")
)

// Participation tracks which validator indices attested to each component
// of a target epoch's AttestationData during that epoch, plus the slot
// distance at which each validator's attestation was included in a block.
// A validator absent from InclusionDistance was never included.
type Participation struct {
	Source            map[ValidatorIndex]bool
	Target            map[ValidatorIndex]bool
	Head              map[ValidatorIndex]bool
	InclusionDistance map[ValidatorIndex]uint64
}

// NewParticipation creates a participation tracker with empty maps.
func NewParticipation() *Participation {
	return &Participation{
		Source:            make(map[ValidatorIndex]bool),
		Target:            make(map[ValidatorIndex]bool),
		Head:              make(map[ValidatorIndex]bool),
		InclusionDistance: make(map[ValidatorIndex]uint64),
	}
}

// ValidatorReward holds the reward/penalty breakdown for a single validator.
type ValidatorReward struct {
	Index           ValidatorIndex
	SourceReward    int64
	TargetReward    int64
	HeadReward      int64
	InclusionReward int64
	InactivityPen   int64
	NetReward       int64
}

// RewardSummary aggregates the reward results across all validators in an
// epoch transition.
type RewardSummary struct {
	Validators     []ValidatorReward
	TotalRewards   int64
	TotalPenalties int64
	FinalityDelay  uint64
	InLeakMode     bool
}

// RewardCalculatorConfig configures reward computation independent of the
// chain's own ChainParams, for callers that want to compute rewards under
// alternate assumptions without constructing a full params value.
type RewardCalculatorConfig struct {
	BaseRewardQuotient       uint64
	MinInclusionDelay        uint64
	InactivityQuotient       uint64
	MinEpochsToLeak          uint64
	LeakPenalizesSourceTwice bool
}

// DefaultRewardConfig returns the phase0 default reward config.
func DefaultRewardConfig() *RewardCalculatorConfig {
	return &RewardCalculatorConfig{
		BaseRewardQuotient: RCBaseRewardQuotient,
		MinInclusionDelay:  RCMinInclusionDelay,
		InactivityQuotient: RCInactivityPenaltyQuotient,
		MinEpochsToLeak:    RCMinEpochsToInactivityPenalty,
	}
}

// RewardConfigFromParams derives a RewardCalculatorConfig from chain
// parameters, carrying over the resolved leak-mode double-check behavior.
func RewardConfigFromParams(params *ChainParams) *RewardCalculatorConfig {
	cfg := DefaultRewardConfig()
	if params == nil {
		return cfg
	}
	if params.BaseRewardQuotient != 0 {
		cfg.BaseRewardQuotient = params.BaseRewardQuotient
	}
	if params.MinAttestationInclusionDelay != 0 {
		cfg.MinInclusionDelay = params.MinAttestationInclusionDelay
	}
	if params.InactivityPenaltyQuotient != 0 {
		cfg.InactivityQuotient = params.InactivityPenaltyQuotient
	}
	if params.MaxEpochsSinceFinalityNormal != 0 {
		cfg.MinEpochsToLeak = params.MaxEpochsSinceFinalityNormal
	}
	cfg.LeakPenalizesSourceTwice = params.LeakPenalizesSourceTwice
	return cfg
}

// RewardCalculator computes validator rewards and penalties for one epoch
// transition. Thread-safe.
type RewardCalculator struct {
	mu     sync.Mutex
	config *RewardCalculatorConfig
}

// NewRewardCalculator creates a reward calculator with the given config. A
// nil config falls back to phase0 defaults.
func NewRewardCalculator(cfg *RewardCalculatorConfig) *RewardCalculator {
	if cfg == nil {
		cfg = DefaultRewardConfig()
	}
	return &RewardCalculator{config: cfg}
}

// ComputeRewards calculates rewards and penalties for all validators in
// state based on their participation in the previous epoch. currentEpoch
// and finalizedEpoch drive the finality-delay and leak-mode determination.
func (rc *RewardCalculator) ComputeRewards(
	state *BeaconState,
	participation *Participation,
	currentEpoch, finalizedEpoch Epoch,
) (*RewardSummary, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if state == nil {
		return nil, ErrRCNilState
	}
	if participation == nil {
		return nil, ErrRCNilParticipation
	}

	previousEpoch := currentEpoch
	if currentEpoch > 0 {
		previousEpoch = currentEpoch - 1
	}
	activeIndices := state.ActiveValidatorIndices(previousEpoch)
	if len(activeIndices) == 0 {
		return nil, ErrRCNoValidators
	}

	totalActive := state.TotalActiveBalance(previousEpoch)
	if totalActive == 0 {
		return nil, ErrRCZeroBalance
	}

	sqrtTotal := intSqrtReward(totalActive)
	if sqrtTotal == 0 {
		sqrtTotal = 1
	}

	var finalityDelay uint64
	if uint64(currentEpoch) > uint64(finalizedEpoch) {
		finalityDelay = uint64(currentEpoch) - uint64(finalizedEpoch)
	}
	inLeak := finalityDelay > rc.config.MinEpochsToLeak

	activeSet := make(map[ValidatorIndex]*Validator, len(activeIndices))
	for _, idx := range activeIndices {
		activeSet[idx] = &state.Validators[idx]
	}

	sourceBalance := rc.componentBalance(activeSet, participation.Source)
	targetBalance := rc.componentBalance(activeSet, participation.Target)
	headBalance := rc.componentBalance(activeSet, participation.Head)

	summary := &RewardSummary{
		Validators:    make([]ValidatorReward, 0, len(activeIndices)),
		FinalityDelay: finalityDelay,
		InLeakMode:    inLeak,
	}

	for _, idx := range activeIndices {
		v := &state.Validators[idx]
		vr := ValidatorReward{Index: idx}

		rc.computeValidatorRewards(
			v, idx, participation, totalActive, sqrtTotal,
			sourceBalance, targetBalance, headBalance,
			finalityDelay, inLeak, &vr,
		)

		vr.NetReward = vr.SourceReward + vr.TargetReward + vr.HeadReward +
			vr.InclusionReward + vr.InactivityPen

		if vr.NetReward > 0 {
			summary.TotalRewards += vr.NetReward
		} else {
			summary.TotalPenalties += -vr.NetReward
		}

		summary.Validators = append(summary.Validators, vr)
	}

	return summary, nil
}

// computeValidatorRewards computes the phase0 reward/penalty components for
// a single validator. In normal mode, each of source/target/head earns
// b(v)·B_X/total when correct and loses b(v) when incorrect, plus an
// inclusion-distance reward b(v)/MIN_INCLUSION_DELAY/d for included
// attestations. In leak mode no positive rewards are earned: every active
// validator loses a flat 2·p(v)+b(v), with additional losses layered on
// for a missed head vote, a long inclusion distance, and a missed source
// vote (or missed target vote, depending on LeakPenalizesSourceTwice).
func (rc *RewardCalculator) computeValidatorRewards(
	v *Validator,
	idx ValidatorIndex,
	part *Participation,
	totalActive, sqrtTotal uint64,
	srcBal, tgtBal, hdBal uint64,
	finalityDelay uint64,
	inLeak bool,
	vr *ValidatorReward,
) {
	baseReward := rc.baseReward(v.EffectiveBalance, sqrtTotal)
	slashed := v.Slashed

	votedSource := part.Source[idx] && !slashed
	votedTarget := part.Target[idx] && !slashed
	votedHead := part.Head[idx] && !slashed
	distance, included := part.InclusionDistance[idx]
	included = included && !slashed

	if inLeak {
		rc.computeLeakPenalties(baseReward, v.EffectiveBalance, finalityDelay, votedSource, votedTarget, votedHead, distance, included, vr)
		return
	}

	if votedSource {
		vr.SourceReward = int64(baseReward * srcBal / totalActive)
	} else {
		vr.SourceReward = -int64(baseReward)
	}

	if votedTarget {
		vr.TargetReward = int64(baseReward * tgtBal / totalActive)
	} else {
		vr.TargetReward = -int64(baseReward)
	}

	if votedHead {
		vr.HeadReward = int64(baseReward * hdBal / totalActive)
	} else {
		vr.HeadReward = -int64(baseReward)
	}

	if included && distance > 0 {
		vr.InclusionReward = int64(baseReward / rc.config.MinInclusionDelay / distance)
	}
}

// computeLeakPenalties applies the inactivity-leak penalty schedule. p(v) is
// the leak-augmented base penalty unit; every active validator pays the
// flat 2·p(v)+b(v) baseline, with additional component-specific losses
// layered on for the failures the validator actually incurred.
func (rc *RewardCalculator) computeLeakPenalties(
	baseReward, effectiveBalance, finalityDelay uint64,
	votedSource, votedTarget, votedHead bool,
	distance uint64,
	included bool,
	vr *ValidatorReward,
) {
	p := baseReward + effectiveBalance*finalityDelay/rc.config.InactivityQuotient/2

	penalty := int64(2*p + baseReward)

	if !votedHead {
		penalty += int64(p)
	}

	if included && distance > 0 {
		penalty += int64(baseReward) - int64(baseReward*rc.config.MinInclusionDelay/distance)
	}

	// LeakPenalizesSourceTwice resolves the ambiguity in the classifier this
	// leak penalty is modeled on: whether the target-class inactivity
	// penalty is driven by a missed target vote (default) or a missed
	// source vote.
	missed := !votedTarget
	if rc.config.LeakPenalizesSourceTwice {
		missed = !votedSource
	}
	if missed {
		penalty += int64(baseReward) + int64(p)
	}

	vr.InactivityPen = -penalty
}

// baseReward computes the phase0 base reward for a validator.
// b(v) = effective_balance / (isqrt(total_active) / base_reward_quotient) / RCBaseRewardDivisor
func (rc *RewardCalculator) baseReward(effectiveBalance, sqrtTotal uint64) uint64 {
	if sqrtTotal == 0 || rc.config.BaseRewardQuotient == 0 {
		return 0
	}
	denom := sqrtTotal / rc.config.BaseRewardQuotient
	if denom == 0 {
		return 0
	}
	return effectiveBalance / denom / RCBaseRewardDivisor
}

// componentBalance computes the total effective balance of unslashed active
// validators that participated in a given component (source, target, or
// head).
func (rc *RewardCalculator) componentBalance(
	active map[ValidatorIndex]*Validator,
	attested map[ValidatorIndex]bool,
) uint64 {
	var total uint64
	for idx, v := range active {
		if !v.Slashed && attested[idx] {
			total += v.EffectiveBalance
		}
	}
	return total
}

// intSqrtReward computes the integer square root using Newton's method.
func intSqrtReward(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	if n == math.MaxUint64 {
		return 4294967295
	}
	x, y := n, (n+1)/2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
