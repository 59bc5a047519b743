package consensus

import (
	"github.com/eth2030/beaconcore/core/types"
)

// Epoch is a consensus-layer epoch number.
type Epoch uint64

// Slot is a consensus-layer slot number.
type Slot uint64

// ValidatorIndex is a beacon-chain validator index.
type ValidatorIndex uint64

// FarFutureEpoch marks a validator-lifecycle field that has not yet been
// scheduled.
const FarFutureEpoch = Epoch(^uint64(0))

// Checkpoint represents a finality checkpoint (epoch + block root). The zero
// value is the genesis "none" sentinel.
type Checkpoint struct {
	Epoch Epoch
	Root  types.Hash
}

// IsZero reports whether c is the genesis sentinel checkpoint.
func (c Checkpoint) IsZero() bool {
	return c.Epoch == 0 && c.Root.IsZero()
}

// Equals reports whether c and other name the same epoch and root.
func (c Checkpoint) Equals(other Checkpoint) bool {
	return c.Epoch == other.Epoch && c.Root == other.Root
}

// JustificationBits is a rolling bitfield tracking justification status of
// recent epochs. Bit 0 = current epoch, bit 1 = previous epoch, etc.
type JustificationBits uint8

// IsJustified returns whether the epoch at the given offset is justified.
// Offset 0 = current epoch, 1 = previous, 2 = two epochs ago, etc.
func (j JustificationBits) IsJustified(offset uint) bool {
	if offset > 7 {
		return false
	}
	return j&(1<<offset) != 0
}

// Set marks the epoch at the given offset as justified.
func (j *JustificationBits) Set(offset uint) {
	if offset > 7 {
		return
	}
	*j |= 1 << offset
}

// Shift ages the bitfield by shifting bits left by n positions, making room
// for the next epoch's justification bit at position 0.
func (j *JustificationBits) Shift(n uint) {
	*j <<= n
}

// Fork records the current and previous fork-version bytes and the epoch of
// the most recent fork boundary. Carried for SSZ/domain-separation fidelity;
// this engine does not implement multiple concurrent protocol revisions.
type Fork struct {
	PreviousVersion [4]byte
	CurrentVersion  [4]byte
	Epoch           Epoch
}

// Validator is a registry entry: a pubkey, its withdrawal credential, and
// its lifecycle epochs. activation_eligibility_epoch/activation_epoch/
// exit_epoch/withdrawable_epoch must remain monotonically non-decreasing in
// that order, or FarFutureEpoch if not yet scheduled.
type Validator struct {
	Pubkey                     [48]byte
	WithdrawalCredentials      types.Hash
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch Epoch
	ActivationEpoch            Epoch
	ExitEpoch                  Epoch
	WithdrawableEpoch          Epoch
}

// IsActiveAtEpoch is the sole active-validator predicate used by committee
// derivation, reward computation, and fork-choice voter-set membership.
func (v *Validator) IsActiveAtEpoch(epoch Epoch) bool {
	return v.ActivationEpoch <= epoch && epoch < v.ExitEpoch
}

// IsSlashable reports whether v can still be slashed: not already slashed,
// and not yet past its withdrawable epoch.
func (v *Validator) IsSlashable(epoch Epoch) bool {
	return !v.Slashed && v.ActivationEpoch <= epoch && epoch < v.WithdrawableEpoch
}

// Crosslink is a vestigial per-shard attestation winner record. With
// ChainParams.ShardCount == 1, crosslink selection reduces to "the one
// crosslink submitted this epoch" rather than full multi-shard committee
// voting.
type Crosslink struct {
	Shard      uint64
	ParentRoot types.Hash
	StartEpoch Epoch
	EndEpoch   Epoch
	DataRoot   types.Hash
}

// Eth1Data is a proposer's claim about the deposit contract's state on the
// eth1 chain it observed.
type Eth1Data struct {
	DepositRoot  types.Hash
	DepositCount uint64
	BlockHash    types.Hash
}

// Eth1DataVote pairs an Eth1Data claim with the number of blocks in the
// current voting period that proposed it.
type Eth1DataVote struct {
	Data  Eth1Data
	Votes uint64
}

// AttestationData is the signed statement an attester makes about both the
// head of the chain it sees and its view of the Casper FFG source/target
// checkpoints.
type AttestationData struct {
	Slot            Slot
	Index           uint64 // committee index within the slot
	BeaconBlockRoot types.Hash
	Source          Checkpoint
	Target          Checkpoint
}

// Equals reports whether two AttestationData values are identical, the
// criterion used to merge aggregation bitfields in the attestation pool.
func (a AttestationData) Equals(other AttestationData) bool {
	return a.Slot == other.Slot && a.Index == other.Index &&
		a.BeaconBlockRoot == other.BeaconBlockRoot &&
		a.Source.Equals(other.Source) && a.Target.Equals(other.Target)
}

// PendingAttestation is an attestation that has been included in a block and
// is awaiting its epoch-transition reward accounting.
type PendingAttestation struct {
	AggregationBits []byte
	Data            AttestationData
	InclusionDelay  Slot
	ProposerIndex   ValidatorIndex
}

// SlotToEpoch returns the epoch number for a given slot.
func SlotToEpoch(slot Slot, slotsPerEpoch uint64) Epoch {
	if slotsPerEpoch == 0 {
		return 0
	}
	return Epoch(uint64(slot) / slotsPerEpoch)
}

// EpochStartSlot returns the first slot of a given epoch.
func EpochStartSlot(epoch Epoch, slotsPerEpoch uint64) Slot {
	return Slot(uint64(epoch) * slotsPerEpoch)
}
