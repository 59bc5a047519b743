package consensus

import (
	"errors"
	"sync"
)

// GweiPerETH is the number of Gwei in one ETH.
const GweiPerETH uint64 = 1_000_000_000

// Registry/exit-queue constants mirroring ChainParams.{ChurnLimitQuotient,
// MinPerEpochChurnLimit, MaxSeedLookahead, MinValidatorWithdrawabilityDelay}
// at their DefaultConfig values. ValidatorRegistry (validator_set.go)
// computes churn/activation bookkeeping against these fixed phase0
// constants rather than an injected *ChainParams; validator_lifecycle.go
// reads the same values from its *ChainParams instead.
const (
	ChurnLimitQuotient        uint64 = 65536
	MinPerEpochChurnLimit     uint64 = 4
	MaxSeedLookahead          uint64 = 4
	MinValidatorWithdrawDelay uint64 = 256

	// MinActivationBalance is the effective balance required for activation
	// eligibility, matching IsEligibleForActivation's MaxEffectiveBalance
	// threshold under the phase0 all-or-nothing cap model.
	MinActivationBalance uint64 = MaxEffectiveBalance
)

var (
	ErrValidatorNotFound     = errors.New("validator not found")
	ErrValidatorAlreadyAdded = errors.New("validator already exists")
	ErrValidatorNotActive    = errors.New("validator not active")
	ErrValidatorSlashed      = errors.New("validator is slashed")
)

// IsEligibleForActivation returns true if v can be queued for activation:
// not yet activated, not slashed, and its effective balance has reached the
// activation minimum (ChainParams.MaxEffectiveBalance doubles as the
// minimum single-tranche activation balance under the phase0 cap model).
func IsEligibleForActivation(v *Validator, params *ChainParams) bool {
	return v.ActivationEligibilityEpoch != FarFutureEpoch &&
		v.ActivationEpoch == FarFutureEpoch &&
		!v.Slashed &&
		v.EffectiveBalance >= params.MaxEffectiveBalance
}

// ValidatorSet is a thread-safe collection of validators indexed by public
// key, used by registry-maintenance code paths that look validators up by
// pubkey rather than index (deposit processing, voluntary exits).
type ValidatorSet struct {
	mu         sync.RWMutex
	validators map[[48]byte]*Validator
}

// NewValidatorSet creates an empty validator set.
func NewValidatorSet() *ValidatorSet {
	return &ValidatorSet{
		validators: make(map[[48]byte]*Validator),
	}
}

// Add inserts a validator into the set.
func (vs *ValidatorSet) Add(v *Validator) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.validators[v.Pubkey]; exists {
		return ErrValidatorAlreadyAdded
	}
	vs.validators[v.Pubkey] = v
	return nil
}

// Remove deletes a validator from the set.
func (vs *ValidatorSet) Remove(pubkey [48]byte) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.validators[pubkey]; !exists {
		return ErrValidatorNotFound
	}
	delete(vs.validators, pubkey)
	return nil
}

// Get returns the validator with the given public key.
func (vs *ValidatorSet) Get(pubkey [48]byte) (*Validator, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	v, exists := vs.validators[pubkey]
	if !exists {
		return nil, ErrValidatorNotFound
	}
	return v, nil
}

// ActiveCount returns the number of active validators at the given epoch.
func (vs *ValidatorSet) ActiveCount(epoch Epoch) int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	count := 0
	for _, v := range vs.validators {
		if v.IsActiveAtEpoch(epoch) {
			count++
		}
	}
	return count
}

// Len returns the total number of validators in the set.
func (vs *ValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}

// ComputeEffectiveBalance applies hysteresis to decide whether a validator's
// actual balance has moved far enough to update its effective balance,
// rounding down to a multiple of EffectiveBalanceIncrement and capping at
// params.MaxEffectiveBalance.
func ComputeEffectiveBalance(balance, currentEffective uint64, params *ChainParams) uint64 {
	halfIncrement := params.EffectiveBalanceIncrement / params.HysteresisQuotient
	downwardAdjust := halfIncrement * params.HysteresisDownwardMultiplier
	upwardAdjust := halfIncrement * params.HysteresisUpwardMultiplier

	if balance+downwardAdjust < currentEffective || currentEffective+upwardAdjust < balance {
		newEffective := (balance / params.EffectiveBalanceIncrement) * params.EffectiveBalanceIncrement
		if newEffective > params.MaxEffectiveBalance {
			newEffective = params.MaxEffectiveBalance
		}
		return newEffective
	}
	return currentEffective
}

// UpdateEffectiveBalance updates a validator's effective balance in place
// based on its actual balance.
func UpdateEffectiveBalance(v *Validator, balance uint64, params *ChainParams) {
	v.EffectiveBalance = ComputeEffectiveBalance(balance, v.EffectiveBalance, params)
}
