// state_transition.go orchestrates the (pre_state, block) -> post_state
// pipeline: slot advance (with epoch transitions at boundaries), block
// application, and operation processing in the fixed phase0 order. It is
// the single entry point that threads BeaconState, ChainParams, the BLS
// oracle, header validation, finality tracking, reward computation, the
// validator lifecycle, and the deposit queue together.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/eth2030/beaconcore/core/types"
	"github.com/eth2030/beaconcore/crypto"
)

// State transition errors.
var (
	ErrSTNilState                = errors.New("state_transition: nil pre-state")
	ErrSTNilBlock                = errors.New("state_transition: nil block")
	ErrSTNilConfig               = errors.New("state_transition: nil config")
	ErrSTNilBody                 = errors.New("state_transition: block has no body")
	ErrSTTooManyProposerSlashing = errors.New("state_transition: too many proposer slashings")
	ErrSTTooManyAttesterSlashing = errors.New("state_transition: too many attester slashings")
	ErrSTTooManyAttestations     = errors.New("state_transition: too many attestations")
	ErrSTTooManyDeposits         = errors.New("state_transition: too many deposits")
	ErrSTTooManyVoluntaryExits   = errors.New("state_transition: too many voluntary exits")
	ErrSTAttestationTargetEpoch  = errors.New("state_transition: attestation target epoch not current or previous")
	ErrSTAttestationWindow       = errors.New("state_transition: attestation outside inclusion window")
	ErrSTAttestationSource       = errors.New("state_transition: attestation source checkpoint mismatch")
	ErrSTAttestationCommittee    = errors.New("state_transition: aggregation bits do not match committee size")
	ErrSTVoluntaryExitTooSoon    = errors.New("state_transition: validator has not completed the persistent committee period")
	ErrSTVoluntaryExitFuture     = errors.New("state_transition: voluntary exit epoch is in the future")
	ErrSTBatchVerifyFailed       = errors.New("state_transition: batch signature verification failed")
)

// StateTransitionConfig wires the pluggable dependencies the transition
// function needs beyond the state and block themselves.
type StateTransitionConfig struct {
	BLSBackend      crypto.BLSBackend
	ForkVersion     [4]byte
	GenesisRoot     [32]byte
	HeaderValidator *HeaderValidator
	RewardCalc      *RewardCalculator
	CheckpointStore *CheckpointPersistenceStore
	AttesterCap     *AttesterCapConfig // nil disables the attester cap, the default
	DepositConfig   DepositQueueConfig

	depositQueue *DepositQueue
}

// NewStateTransitionConfig builds a config from chain parameters with the
// standard wiring: the default BLS backend unless backend is non-nil, reward
// parameters derived from params, and no attester cap.
func NewStateTransitionConfig(params *ChainParams, backend crypto.BLSBackend, forkVersion [4]byte, genesisRoot [32]byte) *StateTransitionConfig {
	if backend == nil {
		backend = crypto.DefaultBLSBackend()
	}
	depositCfg := DefaultDepositQueueConfig()
	depositCfg.MinDepositAmount = params.MinDepositAmount
	depositCfg.MaxEffectiveBalance = params.MaxEffectiveBalance
	depositCfg.MaxDepositsPerBlock = int(params.MaxDeposits)

	cfg := &StateTransitionConfig{
		BLSBackend:      backend,
		ForkVersion:     forkVersion,
		GenesisRoot:     genesisRoot,
		HeaderValidator: NewHeaderValidator(backend),
		RewardCalc:      NewRewardCalculator(RewardConfigFromParams(params)),
		CheckpointStore: NewCheckpointPersistenceStore(DefaultCheckpointPersistenceConfig()),
		DepositConfig:   depositCfg,
	}
	cfg.depositQueue = NewDepositQueue(depositCfg)
	return cfg
}

// ApplyBlock computes the post-state for applying block (with its proposer
// signature) on top of pre_state, per §4.2(a)/(b)/(d). pre_state is never
// mutated: a scratch copy absorbs every change, and on error the original
// state is returned untouched (§7's rollback guarantee).
func ApplyBlock(preState *BeaconState, block *Block, signature [96]byte, cfg *StateTransitionConfig) (*BeaconState, error) {
	if preState == nil {
		return nil, ErrSTNilState
	}
	if block == nil {
		return nil, ErrSTNilBlock
	}
	if cfg == nil {
		return nil, ErrSTNilConfig
	}

	working := preState.Copy()

	if err := advanceSlots(working, block.Slot, cfg); err != nil {
		blockProcessingErrorsTotal.Inc()
		return preState, err
	}
	if err := processBlock(working, block, signature, cfg); err != nil {
		blockProcessingErrorsTotal.Inc()
		return preState, err
	}
	if err := working.CheckInvariants(); err != nil {
		blockProcessingErrorsTotal.Inc()
		return preState, err
	}

	slotHeightGauge.Set(float64(working.Slot))
	return working, nil
}

// advanceSlots runs process_slot for every slot strictly between state.Slot
// and targetSlot, running the epoch transition whenever the advancing slot
// crosses an epoch boundary, per §4.2(a).
func advanceSlots(state *BeaconState, targetSlot Slot, cfg *StateTransitionConfig) error {
	if targetSlot < state.Slot {
		return ErrSlotRegression
	}
	params := state.Params()
	for state.Slot < targetSlot {
		if err := processSlot(state); err != nil {
			return err
		}
		if (uint64(state.Slot)+1)%params.SlotsPerEpoch == 0 {
			if err := processEpochTransition(state, cfg); err != nil {
				return err
			}
		}
		state.Slot++
	}
	return nil
}

// processSlot backfills the latest block header's state root the first time
// it is touched after a block, and records the pre-advance state and header
// roots into their respective historical ring buffers.
func processSlot(state *BeaconState) error {
	params := state.Params()
	idx := uint64(state.Slot) % params.SlotsPerHistoricalRoot

	stateRoot, err := state.HashTreeRoot()
	if err != nil {
		return err
	}
	previousStateRoot := types.Hash(stateRoot)
	state.LatestStateRoots[idx] = previousStateRoot
	if state.LatestBlockHeader.StateRoot.IsZero() {
		state.LatestBlockHeader.StateRoot = previousStateRoot
	}
	state.LatestBlockRoots[idx] = types.Hash(HashBeaconBlockHeader(&state.LatestBlockHeader))

	if (uint64(state.Slot)+1)%params.SlotsPerHistoricalRoot == 0 {
		blockRootsRoot := hashTreeRootHashVector(state.LatestBlockRoots)
		stateRootsRoot := hashTreeRootHashVector(state.LatestStateRoots)
		batchRoot := sha256Hash(blockRootsRoot, stateRootsRoot)
		state.HistoricalRoots = append(state.HistoricalRoots, types.Hash(batchRoot))
	}
	return nil
}

// processBlock runs §4.2(b): signature batching, header validation, RANDAO,
// the eth1 vote, and the five operation lists in their fixed processing
// order.
func processBlock(state *BeaconState, block *Block, signature [96]byte, cfg *StateTransitionConfig) error {
	if block.Body == nil {
		return ErrSTNilBody
	}
	params := state.Params()
	body := block.Body

	bodyRoot, err := block.bodyHashTreeRoot()
	if err != nil {
		return err
	}
	header := &BlockHeader{
		Slot:          block.Slot,
		ParentRoot:    block.ParentRoot,
		StateRoot:     types.Hash{},
		BodyRoot:      types.Hash(bodyRoot),
		ProposerIndex: block.ProposerIndex,
	}

	proposer, err := state.Validator(block.ProposerIndex)
	if err != nil {
		return err
	}
	if err := batchVerifyBlockSignatures(state, header, signature, proposer.Pubkey, body.RandaoReveal, cfg); err != nil {
		return err
	}

	if err := cfg.HeaderValidator.ValidateHeader(header, signature, state, cfg.ForkVersion, cfg.GenesisRoot); err != nil {
		return err
	}
	state.LatestBlockHeader = *header

	if err := ProcessRandaoReveal(state, cfg.BLSBackend, proposer.Pubkey, body.RandaoReveal, cfg.ForkVersion, cfg.GenesisRoot); err != nil {
		return err
	}

	processEth1Vote(state, body.Eth1Data, params)

	currentEpoch := state.CurrentEpoch()

	if uint64(len(body.ProposerSlashings)) > params.MaxProposerSlashings {
		return ErrSTTooManyProposerSlashing
	}
	for _, ps := range body.ProposerSlashings {
		if err := processProposerSlashing(state, params, ps, currentEpoch); err != nil {
			return err
		}
	}

	if uint64(len(body.AttesterSlashings)) > params.MaxAttesterSlashings {
		return ErrSTTooManyAttesterSlashing
	}
	for _, as := range body.AttesterSlashings {
		if err := processAttesterSlashing(state, params, as, currentEpoch); err != nil {
			return err
		}
	}

	if uint64(len(body.Attestations)) > params.MaxAttestations {
		return ErrSTTooManyAttestations
	}
	for _, att := range body.Attestations {
		if err := processAttestation(state, params, att, block.ProposerIndex); err != nil {
			return err
		}
	}

	if uint64(len(body.Deposits)) > params.MaxDeposits {
		return ErrSTTooManyDeposits
	}
	for _, d := range body.Deposits {
		if err := processDeposit(state, params, cfg, d); err != nil {
			return err
		}
	}

	if uint64(len(body.VoluntaryExits)) > params.MaxVoluntaryExits {
		return ErrSTTooManyVoluntaryExits
	}
	for _, ve := range body.VoluntaryExits {
		if err := processVoluntaryExit(state, params, ve, currentEpoch); err != nil {
			return err
		}
	}

	return nil
}

// batchVerifyBlockSignatures collects the block's proposer signature and
// RANDAO reveal into a single BatchVerifier pass before any operation
// mutates state, per §5's batching requirement. Attestation and slashing
// evidence signatures are not included: PoolAttestation.Signature carries a
// 32-byte aggregate hash rather than a 96-byte BLS signature, so those
// checks fall back to the per-operation structural validation processAttestation
// and the slashing validators already perform.
func batchVerifyBlockSignatures(state *BeaconState, header *BlockHeader, headerSig [96]byte, proposerPubkey [48]byte, randaoReveal [96]byte, cfg *StateTransitionConfig) error {
	params := state.Params()
	bv := NewBatchVerifier(DefaultBatchVerifierConfig())

	headerDomain := DomainSeparation(params.DomainBeaconProposer, cfg.ForkVersion, cfg.GenesisRoot)
	headerRoot := HashBeaconBlockHeader(header)
	headerSigningRoot := ComputeSigningRoot(headerRoot, headerDomain)
	bv.Add(BatchVerifyEntry{Pubkey: proposerPubkey, Message: headerSigningRoot[:], Signature: headerSig})

	var epochRoot [32]byte
	binary.LittleEndian.PutUint64(epochRoot[:8], uint64(state.CurrentEpoch()))
	randaoDomain := DomainSeparation(params.DomainRandao, cfg.ForkVersion, cfg.GenesisRoot)
	randaoSigningRoot := ComputeSigningRoot(epochRoot, randaoDomain)
	bv.Add(BatchVerifyEntry{Pubkey: proposerPubkey, Message: randaoSigningRoot[:], Signature: randaoReveal})

	result := bv.Flush()
	if result == nil || !result.Valid {
		return ErrSTBatchVerifyFailed
	}
	return nil
}

// validatorPointers builds a []*Validator view of state.Validators for the
// slashing validators that take that shape.
func validatorPointers(state *BeaconState) []*Validator {
	out := make([]*Validator, len(state.Validators))
	for i := range state.Validators {
		out[i] = &state.Validators[i]
	}
	return out
}

func processProposerSlashing(state *BeaconState, params *ChainParams, ps ProposerSlashing, currentEpoch Epoch) error {
	record := &ProposerSlashingRecord{
		ProposerIndex: ps.ProposerIndex,
		Slot:          ps.Header1.Slot,
		Header1:       ps.Header1,
		Header2:       ps.Header2,
	}
	if err := ValidateProposerSlashing(record, validatorPointers(state), currentEpoch); err != nil {
		return err
	}
	penalty, err := SlashValidator(state, params, ps.ProposerIndex, currentEpoch)
	if err != nil {
		return err
	}
	recordSlashedBalance(state, params, currentEpoch, penalty)
	return nil
}

func processAttesterSlashing(state *BeaconState, params *ChainParams, as AttesterSlashing, currentEpoch Epoch) error {
	record := &AttesterSlashingRecord{
		Attestation1: as.Attestation1,
		Attestation2: as.Attestation2,
	}
	validators := validatorPointers(state)
	if err := ValidateAttesterSlashing(record, validators, currentEpoch); err != nil {
		return err
	}
	intersection := IntersectValidatorIndices(as.Attestation1.AttestingIndices, as.Attestation2.AttestingIndices)
	for _, idx := range intersection {
		if uint64(idx) >= uint64(len(validators)) || !validators[idx].IsSlashable(currentEpoch) {
			continue
		}
		penalty, err := SlashValidator(state, params, idx, currentEpoch)
		if err != nil {
			return err
		}
		recordSlashedBalance(state, params, currentEpoch, penalty)
	}
	return nil
}

// recordSlashedBalance folds a newly-applied slashing penalty into the
// current epoch's slot of the slashed-balance ring, the running total later
// epochs consult to spread the inactivity-style slashing cost across the
// whole active set.
func recordSlashedBalance(state *BeaconState, params *ChainParams, currentEpoch Epoch, penalty uint64) {
	idx := uint64(currentEpoch) % params.LatestSlashedExitLength
	state.LatestSlashedBalances[idx] += penalty
}

// bitAt reports whether bit i of a byte-packed, non-sentinel bitfield is set.
func bitAt(bits []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx < 0 || byteIdx >= len(bits) {
		return false
	}
	return bits[byteIdx]&(1<<uint(i%8)) != 0
}

func processAttestation(state *BeaconState, params *ChainParams, att *PoolAttestation, proposerIndex ValidatorIndex) error {
	if att == nil {
		return ErrAttestationNilData
	}
	data := poolAttestationData(att)
	currentEpoch := state.CurrentEpoch()
	previousEpoch := state.PreviousEpoch()

	if data.Target.Epoch != currentEpoch && data.Target.Epoch != previousEpoch {
		return ErrSTAttestationTargetEpoch
	}
	if uint64(att.Slot)+params.MinAttestationInclusionDelay > uint64(state.Slot) {
		return ErrSTAttestationWindow
	}
	if uint64(state.Slot) > uint64(att.Slot)+params.SlotsPerEpoch {
		return ErrSTAttestationWindow
	}

	expectedSource := state.PreviousJustifiedCheckpoint
	if data.Target.Epoch == currentEpoch {
		expectedSource = state.CurrentJustifiedCheckpoint
	}
	if !data.Source.Equals(expectedSource) {
		return ErrSTAttestationSource
	}

	committee, err := BeaconCommittee(state, att.Slot, att.CommitteeIndex)
	if err != nil {
		return err
	}
	if len(att.AggregationBits) != (len(committee)+7)/8 {
		return ErrSTAttestationCommittee
	}

	pending := PendingAttestation{
		AggregationBits: att.AggregationBits,
		Data:            data,
		InclusionDelay:  uint64(state.Slot) - uint64(att.Slot),
		ProposerIndex:   proposerIndex,
	}
	if data.Target.Epoch == currentEpoch {
		state.CurrentEpochAttestations = append(state.CurrentEpochAttestations, pending)
	} else {
		state.PreviousEpochAttestations = append(state.PreviousEpochAttestations, pending)
	}
	return nil
}

// processDeposit applies an execution-layer deposit directly to state with
// no Merkle-proof verification, per the EIP-6110 design deposit_queue.go
// already implements: the execution layer, not a beacon-chain Merkle
// accumulator, is the source of truth for deposit inclusion.
func processDeposit(state *BeaconState, params *ChainParams, cfg *StateTransitionConfig, d Deposit) error {
	entry := DepositEntry{
		Pubkey:                d.Pubkey[:],
		WithdrawalCredentials: d.WithdrawalCredentials[:],
		Amount:                d.Amount,
		Signature:             d.Signature[:],
	}
	if err := cfg.depositQueue.ValidateDeposit(entry); err != nil {
		return err
	}

	if idx, ok := state.ValidatorIndexByPubkey(d.Pubkey); ok {
		state.IncreaseBalance(idx, d.Amount)
	} else {
		v := Validator{
			Pubkey:                     d.Pubkey,
			WithdrawalCredentials:      types.Hash(d.WithdrawalCredentials),
			EffectiveBalance:           ComputeEffectiveBalance(d.Amount, 0, params),
			ActivationEligibilityEpoch: FarFutureEpoch,
			ActivationEpoch:            FarFutureEpoch,
			ExitEpoch:                  FarFutureEpoch,
			WithdrawableEpoch:          FarFutureEpoch,
		}
		state.AddValidator(v, d.Amount)
	}
	state.DepositIndex++
	return nil
}

func processVoluntaryExit(state *BeaconState, params *ChainParams, ve VoluntaryExit, currentEpoch Epoch) error {
	v, err := state.Validator(ve.ValidatorIndex)
	if err != nil {
		return err
	}
	if currentEpoch < ve.Epoch {
		return ErrSTVoluntaryExitFuture
	}
	if uint64(currentEpoch) < uint64(v.ActivationEpoch)+params.PersistentCommitteePeriod {
		return ErrSTVoluntaryExitTooSoon
	}
	return InitiateValidatorExit(state, params, ve.ValidatorIndex, currentEpoch)
}

// processEth1Vote tallies a proposer's eth1 vote and adopts it as canonical
// once it has a strict majority over the voting period, per §4.2(b)(4).
func processEth1Vote(state *BeaconState, vote Eth1Data, params *ChainParams) {
	idx := -1
	for i := range state.Eth1DataVotes {
		if state.Eth1DataVotes[i].Data == vote {
			idx = i
			break
		}
	}
	if idx == -1 {
		state.Eth1DataVotes = append(state.Eth1DataVotes, Eth1DataVote{Data: vote, Votes: 1})
		idx = len(state.Eth1DataVotes) - 1
	} else {
		state.Eth1DataVotes[idx].Votes++
	}

	period := params.EpochsPerEth1VotingPeriod * params.SlotsPerEpoch
	if period > 0 && state.Eth1DataVotes[idx].Votes*2 > period {
		state.Eth1DataRaw = vote
		root := hashTreeRootEth1Data(vote)
		state.LatestEth1Data = types.Hash(root)
	}
}

// toCasperCheckpoint / fromCasperCheckpoint convert between the
// finality-tracker's checkpoint representation and the canonical one
// BeaconState carries.
func toCasperCheckpoint(c Checkpoint) CasperCheckpoint {
	return CasperCheckpoint{Epoch: c.Epoch, Root: [32]byte(c.Root)}
}

func fromCasperCheckpoint(c CasperCheckpoint) Checkpoint {
	return Checkpoint{Epoch: c.Epoch, Root: types.Hash(c.Root)}
}

// seedFinalityTracker constructs a CasperFinalityTracker primed with
// state's current checkpoints and bits, since the transition function is
// stateless across calls and only state itself persists checkpoint history.
func seedFinalityTracker(state *BeaconState) *CasperFinalityTracker {
	ft := NewCasperFinalityTracker(state.Params())
	ft.SetPreviousJustified(toCasperCheckpoint(state.PreviousJustifiedCheckpoint))
	ft.SetJustified(toCasperCheckpoint(state.CurrentJustifiedCheckpoint))
	ft.SetFinalized(toCasperCheckpoint(state.FinalizedCheckpoint))
	var bits [4]bool
	for i := range bits {
		bits[i] = state.JustificationBits.IsJustified(uint(i))
	}
	ft.SetJustificationBits(bits)
	return ft
}

// buildParticipation classifies, per validator, whether each attestation in
// attestations (already known to target epoch) matched the source
// checkpoint it claimed (always true: processAttestation rejects a
// mismatched source at inclusion), the epoch-boundary target root, and the
// block root actually canonical at the attested slot.
func buildParticipation(state *BeaconState, attestations []PendingAttestation, epoch Epoch) *Participation {
	part := NewParticipation()
	params := state.Params()
	boundarySlot := EpochStartSlot(epoch, params.SlotsPerEpoch)
	var boundaryRoot types.Hash
	if boundarySlot < state.Slot {
		boundaryRoot = state.LatestBlockRoots[uint64(boundarySlot)%params.SlotsPerHistoricalRoot]
	}

	for _, att := range attestations {
		committee, err := BeaconCommittee(state, att.Data.Slot, att.Data.Index)
		if err != nil {
			continue
		}
		var headRoot types.Hash
		if att.Data.Slot < state.Slot {
			headRoot = state.LatestBlockRoots[uint64(att.Data.Slot)%params.SlotsPerHistoricalRoot]
		}
		votedTarget := !boundaryRoot.IsZero() && att.Data.Target.Root == boundaryRoot
		votedHead := !headRoot.IsZero() && att.Data.BeaconBlockRoot == headRoot

		for i, idx := range committee {
			if !bitAt(att.AggregationBits, i) {
				continue
			}
			part.Source[idx] = true
			if votedTarget {
				part.Target[idx] = true
			}
			if votedHead {
				part.Head[idx] = true
			}
			if prev, ok := part.InclusionDistance[idx]; !ok || att.InclusionDelay < prev {
				part.InclusionDistance[idx] = att.InclusionDelay
			}
		}
	}
	return part
}

// hashActiveIndices snapshots an active-validator index set for the
// LatestActiveIndexRoots ring. Nothing in this engine's committee assignment
// consults the ring's content (BeaconCommittee derives its seed from the
// RANDAO mix directly); it is kept populated purely to round out the
// canonical state's hash tree root.
func hashActiveIndices(indices []ValidatorIndex) [32]byte {
	buf := make([]byte, 8*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(idx))
	}
	return sha256.Sum256(buf)
}

// processEpochTransition runs §4.2(d): justification/finalization, rewards,
// registry updates, the attester cap, effective-balance recomputation, and
// ring-buffer rotation. It is invoked once state.Slot is the final slot of
// the closing epoch, before the slot counter itself advances.
func processEpochTransition(state *BeaconState, cfg *StateTransitionConfig) error {
	params := state.Params()
	currentEpoch := state.CurrentEpoch()
	var previousEpoch Epoch
	if currentEpoch > 0 {
		previousEpoch = currentEpoch - 1
	}

	prevParticipation := buildParticipation(state, state.PreviousEpochAttestations, previousEpoch)
	currParticipation := buildParticipation(state, state.CurrentEpochAttestations, currentEpoch)

	if currentEpoch > 1 {
		ft := seedFinalityTracker(state)
		totalWeight := state.TotalActiveBalance(currentEpoch)
		prevWeight := targetVotedBalance(state, previousEpoch, prevParticipation)
		currWeight := targetVotedBalance(state, currentEpoch, currParticipation)

		if err := ft.ProcessJustificationAndFinalization(currentEpoch, state, prevWeight, currWeight, totalWeight); err != nil {
			return err
		}
		state.PreviousJustifiedCheckpoint = fromCasperCheckpoint(ft.GetPreviousJustifiedCheckpoint())
		state.CurrentJustifiedCheckpoint = fromCasperCheckpoint(ft.GetJustifiedCheckpoint())
		state.FinalizedCheckpoint = fromCasperCheckpoint(ft.GetFinalizedCheckpoint())

		var jb JustificationBits
		for i, set := range ft.GetJustificationBits() {
			if set {
				jb.Set(uint(i))
			}
		}
		state.JustificationBits = jb

		if cfg.CheckpointStore != nil {
			_ = cfg.CheckpointStore.StoreCheckpoint(&StoredCheckpoint{
				Epoch:     state.CurrentJustifiedCheckpoint.Epoch,
				Root:      state.CurrentJustifiedCheckpoint.Root,
				Justified: true,
			}, true)
			_ = cfg.CheckpointStore.StoreCheckpoint(&StoredCheckpoint{
				Epoch:     state.FinalizedCheckpoint.Epoch,
				Root:      state.FinalizedCheckpoint.Root,
				Justified: true,
				Finalized: true,
			}, true)
		}
	}

	if currentEpoch > 0 && cfg.RewardCalc != nil {
		summary, err := cfg.RewardCalc.ComputeRewards(state, prevParticipation, currentEpoch, state.FinalizedCheckpoint.Epoch)
		if err != nil && !errors.Is(err, ErrRCNoValidators) && !errors.Is(err, ErrRCZeroBalance) {
			return err
		}
		if summary != nil {
			for _, vr := range summary.Validators {
				if vr.NetReward > 0 {
					state.IncreaseBalance(vr.Index, uint64(vr.NetReward))
				} else if vr.NetReward < 0 {
					state.DecreaseBalance(vr.Index, uint64(-vr.NetReward))
				}
			}
		}
	}

	ProcessRegistryUpdates(state, params, currentEpoch)
	ApplyAttesterCapToState(state, cfg.AttesterCap, currentEpoch)
	UpdateEffectiveBalances(state, params)

	nextEpoch := currentEpoch + 1
	state.LatestSlashedBalances[uint64(nextEpoch)%params.LatestSlashedExitLength] = 0

	if params.EpochsPerEth1VotingPeriod > 0 && uint64(nextEpoch)%params.EpochsPerEth1VotingPeriod == 0 {
		state.Eth1DataVotes = nil
	}

	activeNext := state.ActiveValidatorIndices(nextEpoch)
	state.LatestActiveIndexRoots[uint64(nextEpoch)%params.LatestActiveIndexRootsLength] = types.Hash(hashActiveIndices(activeNext))

	CopyRandaoMixToNextEpoch(state, currentEpoch)

	mix := GetRandaoMix(state, currentEpoch)
	state.PreviousShufflingSeed = state.CurrentShufflingSeed
	state.CurrentShufflingSeed = types.Hash(ComputeEpochSeed(params.DomainAttestation, nextEpoch, [32]byte(mix)))

	state.PreviousEpochAttestations = state.CurrentEpochAttestations
	state.CurrentEpochAttestations = nil

	epochTransitionsTotal.Inc()
	justifiedEpochGauge.Set(float64(state.CurrentJustifiedCheckpoint.Epoch))
	finalizedEpochGauge.Set(float64(state.FinalizedCheckpoint.Epoch))

	return nil
}
