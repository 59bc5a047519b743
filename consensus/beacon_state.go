package consensus

import (
	"errors"
	"sync"

	"github.com/eth2030/beaconcore/core/types"
)

var (
	ErrNilBeaconBlock      = errors.New("beacon: nil block")
	ErrSlotRegression      = errors.New("beacon: block slot must advance state")
	ErrParentRootMismatch  = errors.New("beacon: parent root does not match state")
	ErrValidatorIndexBound = errors.New("beacon: validator index out of bounds")
	ErrValidatorsBalancesMismatch = errors.New("beacon: validators and balances length mismatch")
)

// BlockHeader is the signed envelope around a block body, the piece of a
// block that is tracked in state as latest_block_header between slots.
type BlockHeader struct {
	Slot          Slot
	ParentRoot    types.Hash
	StateRoot     types.Hash
	BodyRoot      types.Hash
	ProposerIndex ValidatorIndex
}

// BeaconState is the canonical beacon chain state datum (§3 DATA MODEL). It
// is exclusively owned by the executor holding the current chain tip;
// mutation happens only through ApplyBlock/ProcessSlots on a scratch copy,
// never in place on the authoritative state (§7).
type BeaconState struct {
	mu sync.RWMutex

	Slot        Slot
	GenesisTime uint64
	Fork        Fork

	Validators []Validator
	Balances   []uint64 // same length/index alignment as Validators

	RandaoMixes []types.Hash // fixed length ChainParams.LatestRandaoMixesLength

	PreviousShufflingSeed types.Hash
	CurrentShufflingSeed  types.Hash

	PreviousJustifiedCheckpoint Checkpoint
	CurrentJustifiedCheckpoint  Checkpoint
	JustificationBits           JustificationBits
	FinalizedCheckpoint         Checkpoint

	LatestCrosslinks []Crosslink // fixed length ChainParams.ShardCount

	LatestBlockRoots []types.Hash // fixed length ChainParams.SlotsPerHistoricalRoot
	LatestStateRoots []types.Hash // fixed length ChainParams.SlotsPerHistoricalRoot

	LatestActiveIndexRoots []types.Hash // fixed length ChainParams.LatestActiveIndexRootsLength
	LatestSlashedBalances  []uint64     // fixed length ChainParams.LatestSlashedExitLength

	LatestBlockHeader BlockHeader
	HistoricalRoots   []types.Hash // append-only, grows every SlotsPerHistoricalRoot slots

	LatestEth1Data types.Hash
	Eth1DataRaw    Eth1Data
	Eth1DataVotes  []Eth1DataVote
	DepositIndex   uint64

	PreviousEpochAttestations []PendingAttestation
	CurrentEpochAttestations  []PendingAttestation

	pubkeyIndex map[[48]byte]ValidatorIndex

	params *ChainParams
}

// NewGenesisState builds an empty BeaconState sized by params, with every
// ring buffer allocated to its fixed length (invariant 4: ring arrays are
// never shortened).
func NewGenesisState(params *ChainParams) *BeaconState {
	if params == nil {
		params = DefaultConfig()
	}
	return &BeaconState{
		GenesisTime:             params.GenesisTime,
		Validators:              make([]Validator, 0),
		Balances:                make([]uint64, 0),
		RandaoMixes:             make([]types.Hash, params.LatestRandaoMixesLength),
		LatestCrosslinks:        make([]Crosslink, params.ShardCount),
		LatestBlockRoots:        make([]types.Hash, params.SlotsPerHistoricalRoot),
		LatestStateRoots:        make([]types.Hash, params.SlotsPerHistoricalRoot),
		LatestActiveIndexRoots:  make([]types.Hash, params.LatestActiveIndexRootsLength),
		LatestSlashedBalances:   make([]uint64, params.LatestSlashedExitLength),
		HistoricalRoots:         make([]types.Hash, 0),
		Eth1DataVotes:           make([]Eth1DataVote, 0),
		PreviousEpochAttestations: make([]PendingAttestation, 0),
		CurrentEpochAttestations:  make([]PendingAttestation, 0),
		pubkeyIndex:             make(map[[48]byte]ValidatorIndex),
		params:                  params,
	}
}

// Copy returns a deep scratch copy of s, the pattern ApplyBlock uses so
// that any error during block application leaves the original state
// untouched (§7 error propagation).
func (s *BeaconState) Copy() *BeaconState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &BeaconState{
		Slot:                        s.Slot,
		GenesisTime:                 s.GenesisTime,
		Fork:                        s.Fork,
		Validators:                  append([]Validator(nil), s.Validators...),
		Balances:                    append([]uint64(nil), s.Balances...),
		RandaoMixes:                 append([]types.Hash(nil), s.RandaoMixes...),
		PreviousShufflingSeed:       s.PreviousShufflingSeed,
		CurrentShufflingSeed:        s.CurrentShufflingSeed,
		PreviousJustifiedCheckpoint: s.PreviousJustifiedCheckpoint,
		CurrentJustifiedCheckpoint:  s.CurrentJustifiedCheckpoint,
		JustificationBits:           s.JustificationBits,
		FinalizedCheckpoint:         s.FinalizedCheckpoint,
		LatestCrosslinks:            append([]Crosslink(nil), s.LatestCrosslinks...),
		LatestBlockRoots:            append([]types.Hash(nil), s.LatestBlockRoots...),
		LatestStateRoots:            append([]types.Hash(nil), s.LatestStateRoots...),
		LatestActiveIndexRoots:      append([]types.Hash(nil), s.LatestActiveIndexRoots...),
		LatestSlashedBalances:       append([]uint64(nil), s.LatestSlashedBalances...),
		LatestBlockHeader:           s.LatestBlockHeader,
		HistoricalRoots:             append([]types.Hash(nil), s.HistoricalRoots...),
		LatestEth1Data:              s.LatestEth1Data,
		Eth1DataRaw:                 s.Eth1DataRaw,
		Eth1DataVotes:               append([]Eth1DataVote(nil), s.Eth1DataVotes...),
		DepositIndex:                s.DepositIndex,
		PreviousEpochAttestations:   append([]PendingAttestation(nil), s.PreviousEpochAttestations...),
		CurrentEpochAttestations:    append([]PendingAttestation(nil), s.CurrentEpochAttestations...),
		pubkeyIndex:                 make(map[[48]byte]ValidatorIndex, len(s.pubkeyIndex)),
		params:                      s.params,
	}
	for k, v := range s.pubkeyIndex {
		cp.pubkeyIndex[k] = v
	}
	return cp
}

// CurrentEpoch returns the epoch containing s.Slot.
func (s *BeaconState) CurrentEpoch() Epoch {
	return SlotToEpoch(s.Slot, s.params.SlotsPerEpoch)
}

// PreviousEpoch returns the epoch before CurrentEpoch, or genesis epoch 0
// itself if already there.
func (s *BeaconState) PreviousEpoch() Epoch {
	cur := s.CurrentEpoch()
	if cur == 0 {
		return 0
	}
	return cur - 1
}

// AddValidator appends a validator and its starting balance to the
// registry, maintaining invariant 1 (len(validators) == len(balances)) and
// the pubkey index.
func (s *BeaconState) AddValidator(v Validator, balance uint64) ValidatorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubkeyIndex == nil {
		s.pubkeyIndex = make(map[[48]byte]ValidatorIndex)
	}
	idx := ValidatorIndex(len(s.Validators))
	s.Validators = append(s.Validators, v)
	s.Balances = append(s.Balances, balance)
	s.pubkeyIndex[v.Pubkey] = idx
	return idx
}

// ValidatorIndexByPubkey looks up a validator's index by its pubkey.
func (s *BeaconState) ValidatorIndexByPubkey(pubkey [48]byte) (ValidatorIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.pubkeyIndex[pubkey]
	return idx, ok
}

// Validator returns the validator at idx.
func (s *BeaconState) Validator(idx ValidatorIndex) (*Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(idx) >= len(s.Validators) {
		return nil, ErrValidatorIndexBound
	}
	return &s.Validators[idx], nil
}

// ValidatorCount returns the total number of validators in the registry.
func (s *BeaconState) ValidatorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Validators)
}

// ActiveValidatorIndices returns the indices of validators active at epoch.
func (s *BeaconState) ActiveValidatorIndices(epoch Epoch) []ValidatorIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ValidatorIndex
	for i := range s.Validators {
		if s.Validators[i].IsActiveAtEpoch(epoch) {
			out = append(out, ValidatorIndex(i))
		}
	}
	return out
}

// TotalActiveBalance returns the sum of effective balances for all
// validators active at epoch.
func (s *BeaconState) TotalActiveBalance(epoch Epoch) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for i := range s.Validators {
		if s.Validators[i].IsActiveAtEpoch(epoch) {
			total += s.Validators[i].EffectiveBalance
		}
	}
	return total
}

// IncreaseBalance adds delta to the balance at idx, saturating rather than
// overflowing.
func (s *BeaconState) IncreaseBalance(idx ValidatorIndex, delta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(idx) >= len(s.Balances) {
		return
	}
	s.Balances[idx] = saturatingAdd(s.Balances[idx], delta)
}

// DecreaseBalance subtracts delta from the balance at idx, clamping at zero
// (§4.3 "balances clamp at zero on subtraction").
func (s *BeaconState) DecreaseBalance(idx ValidatorIndex, delta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(idx) >= len(s.Balances) {
		return
	}
	if delta > s.Balances[idx] {
		s.Balances[idx] = 0
		return
	}
	s.Balances[idx] -= delta
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// Params returns the chain parameters this state was constructed with.
func (s *BeaconState) Params() *ChainParams {
	return s.params
}

// CheckInvariants validates invariants 1-3 from §3: registry/balance length
// parity and the checkpoint epoch ordering
// finalized ≤ previous_justified ≤ current_justified ≤ current_epoch.
func (s *BeaconState) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Validators) != len(s.Balances) {
		return ErrValidatorsBalancesMismatch
	}
	if s.FinalizedCheckpoint.Epoch > s.PreviousJustifiedCheckpoint.Epoch {
		return errors.New("beacon: finalized epoch exceeds previous justified epoch")
	}
	if s.PreviousJustifiedCheckpoint.Epoch > s.CurrentJustifiedCheckpoint.Epoch {
		return errors.New("beacon: previous justified epoch exceeds current justified epoch")
	}
	if s.CurrentJustifiedCheckpoint.Epoch > s.CurrentEpoch() {
		return errors.New("beacon: current justified epoch exceeds current epoch")
	}
	return nil
}
