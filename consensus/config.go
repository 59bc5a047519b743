// Package consensus implements the beacon chain state-transition and
// fork-choice engine: a deterministic validator-registry state machine
// advanced one slot/epoch at a time, Casper FFG justification/finalization
// and rewards, and LMD-GHOST head selection over an attestation-weighted
// block tree.
package consensus

import "fmt"

// ChainParams is the single descriptor of protocol constants threaded
// explicitly through every component. There is no global mutable
// configuration; every engine, tracker, or pool takes a *ChainParams at
// construction time.
type ChainParams struct {
	// Timing.
	SecondsPerSlot uint64
	SlotsPerEpoch  uint64
	GenesisTime    uint64

	// Balances (Gwei).
	MinDepositAmount          uint64
	MaxEffectiveBalance       uint64
	EffectiveBalanceIncrement uint64
	EjectionBalance           uint64

	// Hysteresis, prevents effective-balance oscillation near a threshold.
	HysteresisQuotient           uint64
	HysteresisDownwardMultiplier uint64
	HysteresisUpwardMultiplier   uint64

	// Rewards and penalties.
	BaseRewardQuotient           uint64
	MinAttestationInclusionDelay uint64
	InactivityPenaltyQuotient    uint64
	MinSlashingPenaltyQuotient   uint64
	WhistleblowerRewardQuotient  uint64
	MaxEpochsSinceFinalityNormal uint64

	// LeakPenalizesSourceTwice resolves the justification-leak open question:
	// false (default) attributes the leak-mode inactivity penalty to
	// NoExpectedTarget votes; true reproduces the literal double-check of
	// NoExpectedSource found in the original reward classifier. See
	// DESIGN.md.
	LeakPenalizesSourceTwice bool

	// Registry and exit queue.
	ChurnLimitQuotient               uint64
	MinPerEpochChurnLimit             uint64
	MinValidatorWithdrawabilityDelay uint64
	PersistentCommitteePeriod        uint64
	MaxSeedLookahead                 uint64
	ShardCount                       uint64

	// Ring buffer lengths.
	SlotsPerHistoricalRoot       uint64
	LatestRandaoMixesLength      uint64
	LatestActiveIndexRootsLength uint64
	LatestSlashedExitLength      uint64
	Eth1FollowDistance           uint64
	EpochsPerEth1VotingPeriod    uint64

	// Per-block operation caps.
	MaxProposerSlashings uint64
	MaxAttesterSlashings uint64
	MaxAttestations      uint64
	MaxDeposits          uint64
	MaxVoluntaryExits    uint64

	// Attestation pool.
	MaxPooledAttestations uint64

	// BLS signing domains (4-byte domain separation tags).
	DomainBeaconProposer [4]byte
	DomainRandao         [4]byte
	DomainAttestation    [4]byte
	DomainVoluntaryExit  [4]byte
}

// These mirror DefaultConfig's balance/hysteresis fields as compile-time
// constants for call sites that need them inside const expressions
// (hysteresis thresholds, reward-quotient math) rather than a *ChainParams.
// A custom ChainParams with different values still drives state-transition
// correctly; only these fixed-formula call sites assume phase0 defaults.
const (
	MaxEffectiveBalance       uint64 = 32 * GweiPerETH
	EffectiveBalanceIncrement uint64 = 1 * GweiPerETH
	HysteresisQuotient        uint64 = 4
)

// DefaultConfig returns phase0-scale mainnet-shaped parameters: a 32 ETH
// single effective-balance cap and 2-epoch Casper FFG finality.
func DefaultConfig() *ChainParams {
	const gwei = 1_000_000_000
	return &ChainParams{
		SecondsPerSlot: 12,
		SlotsPerEpoch:  32,
		GenesisTime:    0,

		MinDepositAmount:          1 * gwei,
		MaxEffectiveBalance:       32 * gwei,
		EffectiveBalanceIncrement: 1 * gwei,
		EjectionBalance:           16 * gwei,

		HysteresisQuotient:           4,
		HysteresisDownwardMultiplier: 1,
		HysteresisUpwardMultiplier:   5,

		BaseRewardQuotient:           32,
		MinAttestationInclusionDelay: 1,
		InactivityPenaltyQuotient:    1 << 25,
		MinSlashingPenaltyQuotient:   32,
		WhistleblowerRewardQuotient:  512,
		MaxEpochsSinceFinalityNormal: 4,
		LeakPenalizesSourceTwice:     false,

		ChurnLimitQuotient:               65536,
		MinPerEpochChurnLimit:            4,
		MinValidatorWithdrawabilityDelay: 256,
		PersistentCommitteePeriod:        2048,
		MaxSeedLookahead:                 4,
		ShardCount:                       1,

		SlotsPerHistoricalRoot:       8192,
		LatestRandaoMixesLength:      65536,
		LatestActiveIndexRootsLength: 65536,
		LatestSlashedExitLength:      8192,
		Eth1FollowDistance:           1024,
		EpochsPerEth1VotingPeriod:    64,

		MaxProposerSlashings: 16,
		MaxAttesterSlashings: 2,
		MaxAttestations:      128,
		MaxDeposits:          16,
		MaxVoluntaryExits:    16,

		MaxPooledAttestations: 4096,

		DomainBeaconProposer: [4]byte{0x00, 0x00, 0x00, 0x00},
		DomainAttestation:    [4]byte{0x01, 0x00, 0x00, 0x00},
		DomainRandao:         [4]byte{0x02, 0x00, 0x00, 0x00},
		DomainVoluntaryExit:  [4]byte{0x04, 0x00, 0x00, 0x00},
	}
}

// QuickSlotsConfig returns a small-scale parameter set with 4 slots per
// epoch and 1-epoch finality, useful for exercising the state machine over
// short histories in tests.
func QuickSlotsConfig() *ChainParams {
	c := DefaultConfig()
	c.SecondsPerSlot = 6
	c.SlotsPerEpoch = 4
	c.SlotsPerHistoricalRoot = 64
	c.LatestRandaoMixesLength = 64
	c.LatestActiveIndexRootsLength = 64
	c.LatestSlashedExitLength = 64
	c.MaxEpochsSinceFinalityNormal = 1
	return c
}

// Validate checks the configuration for internally-consistent constants.
func (c *ChainParams) Validate() error {
	if c.SecondsPerSlot == 0 {
		return fmt.Errorf("consensus: SecondsPerSlot must be > 0")
	}
	if c.SlotsPerEpoch == 0 {
		return fmt.Errorf("consensus: SlotsPerEpoch must be > 0")
	}
	if c.MaxEffectiveBalance == 0 || c.MaxEffectiveBalance%c.EffectiveBalanceIncrement != 0 {
		return fmt.Errorf("consensus: MaxEffectiveBalance must be a positive multiple of EffectiveBalanceIncrement")
	}
	if c.ChurnLimitQuotient == 0 {
		return fmt.Errorf("consensus: ChurnLimitQuotient must be > 0")
	}
	if c.SlotsPerHistoricalRoot == 0 || c.LatestRandaoMixesLength == 0 {
		return fmt.Errorf("consensus: ring buffer lengths must be > 0")
	}
	return nil
}

// EpochDuration returns the total duration of one epoch in seconds.
func (c *ChainParams) EpochDuration() uint64 {
	return c.SecondsPerSlot * c.SlotsPerEpoch
}

// IsSingleEpochFinality returns true if this configuration finalizes on a
// single justified-then-justified epoch pair rather than requiring two.
func (c *ChainParams) IsSingleEpochFinality() bool {
	return c.MaxEpochsSinceFinalityNormal == 1
}
