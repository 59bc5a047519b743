// executor.go defines the block-executor contracts external callers (a
// client's import/sync pipeline, a block producer loop) drive the consensus
// engine through: a narrow state-access seam (Externalities) plus the two
// staged contracts built on top of it (Executor, JustifiableExecutor). The
// staging mirrors the teacher's own split between assembling a block
// inherent-by-inherent/extrinsic-by-extrinsic and sealing it, rather than
// a single opaque "apply everything" call.
package consensus

import (
	"errors"

	"github.com/eth2030/beaconcore/core/types"
)

// Executor errors.
var (
	ErrExecNilState      = errors.New("executor: externalities returned a nil state")
	ErrExecNilUnsealed   = errors.New("executor: nil unsealed block")
	ErrExecNilExtrinsic  = errors.New("executor: extrinsic carries no operation")
	ErrExecPersistentTOF = errors.New("executor: persistent state backend is not wired in this build")
)

// Externalities is the narrow read/write seam between the executor and
// wherever a BeaconState actually lives, so InitializeBlock/ApplyExtrinsic/
// etc. never assume an in-process pointer. Two implementations are provided:
// InMemoryState for tests and single-process nodes, and PersistentStateStub,
// an interface-only placeholder since the persisted state layout (a
// state_root-keyed SSZ blob store) is opaque to this package.
type Externalities interface {
	ReadState() (*BeaconState, error)
	WriteState(*BeaconState) error
}

// InMemoryState is the default Externalities backend: a BeaconState held
// directly in process memory.
type InMemoryState struct {
	state *BeaconState
}

// NewInMemoryState wraps state as an Externalities backend.
func NewInMemoryState(state *BeaconState) *InMemoryState {
	return &InMemoryState{state: state}
}

func (m *InMemoryState) ReadState() (*BeaconState, error) {
	if m.state == nil {
		return nil, ErrExecNilState
	}
	return m.state, nil
}

func (m *InMemoryState) WriteState(state *BeaconState) error {
	m.state = state
	return nil
}

// PersistentStateStub is an Externalities backend for a durable
// (state_root -> serialized BeaconState) store. The wire format is SSZ and
// the keys are hash-tree-roots, but no concrete store (rocksdb, badger, flat
// file) is wired in this package; callers needing durability supply their
// own Externalities implementation against that contract instead.
type PersistentStateStub struct{}

func (PersistentStateStub) ReadState() (*BeaconState, error) {
	return nil, ErrExecPersistentTOF
}

func (PersistentStateStub) WriteState(*BeaconState) error {
	return ErrExecPersistentTOF
}

// Inherent carries the per-block data a proposer contributes that isn't a
// pool-sourced extrinsic: the RANDAO reveal and the eth1 vote.
type Inherent struct {
	RandaoReveal [96]byte
	Eth1Vote     Eth1Data
}

// Extrinsic wraps exactly one of the five operation kinds a block carries.
// ApplyExtrinsic rejects an Extrinsic carrying zero or more than one.
type Extrinsic struct {
	ProposerSlashing *ProposerSlashing
	AttesterSlashing *AttesterSlashing
	Attestation      *PoolAttestation
	Deposit          *Deposit
	VoluntaryExit    *VoluntaryExit
}

func (e Extrinsic) count() int {
	n := 0
	if e.ProposerSlashing != nil {
		n++
	}
	if e.AttesterSlashing != nil {
		n++
	}
	if e.Attestation != nil {
		n++
	}
	if e.Deposit != nil {
		n++
	}
	if e.VoluntaryExit != nil {
		n++
	}
	return n
}

// Executor is the staged block-production/execution contract: a proposer
// initializes a target slot, folds in the RANDAO/eth1 inherent, appends
// extrinsics one at a time (each mutating state immediately, same as the
// fixed-order operation loop ExecuteBlock runs for an already-sealed
// block), then finalizes the header. ExecuteBlock is the non-staged path: a
// full, already-signed block arriving from the network or a proposer.
type Executor interface {
	InitializeBlock(state Externalities, targetSlot Slot) error
	ApplyInherent(parent *Block, state Externalities, inherent Inherent) (*Block, error)
	ApplyExtrinsic(unsealed *Block, state Externalities, extrinsic Extrinsic) error
	FinalizeBlock(unsealed *Block, state Externalities) error
	ExecuteBlock(block *Block, state Externalities) error
}

// ExecutorVote is a single validator's LMD-GHOST vote extracted from a
// block's attestations: the validator attested for root as its head.
type ExecutorVote struct {
	ValidatorIndex ValidatorIndex
	Root           types.Hash
}

// JustifiableExecutor exposes the justification-relevant projections of
// state that a fork-choice implementation needs but shouldn't compute
// itself: who counts as active-and-justified, what the justified head is,
// and which validators voted for which root in a given block.
type JustifiableExecutor interface {
	JustifiedActiveValidators(state Externalities) ([]ValidatorIndex, error)
	JustifiedBlockID(state Externalities) (types.Hash, bool, error)
	Votes(block *Block, state Externalities) ([]ExecutorVote, error)
}

// BeaconExecutor is the concrete Executor/JustifiableExecutor implementation
// wrapping ApplyBlock, the consensus engine's state-transition function, and
// HashBeaconBlockHeader's body-root construction for the staged path.
type BeaconExecutor struct {
	cfg *StateTransitionConfig
}

// NewBeaconExecutor builds a BeaconExecutor driving cfg's wiring (header
// validation, rewards, checkpoint persistence, the deposit queue).
func NewBeaconExecutor(cfg *StateTransitionConfig) *BeaconExecutor {
	return &BeaconExecutor{cfg: cfg}
}

var _ Executor = (*BeaconExecutor)(nil)
var _ JustifiableExecutor = (*BeaconExecutor)(nil)

// InitializeBlock advances state's slot clock (running any intervening epoch
// transitions) up to targetSlot without yet applying a block, mirroring
// initialize_block's process_slots-only behavior.
func (e *BeaconExecutor) InitializeBlock(state Externalities, targetSlot Slot) error {
	s, err := state.ReadState()
	if err != nil {
		return err
	}
	if err := advanceSlots(s, targetSlot, e.cfg); err != nil {
		return err
	}
	return state.WriteState(s)
}

// ApplyInherent builds the unsealed block skeleton for the slot state is
// currently sitting at: parent linkage from parent, and the proposer's
// RANDAO reveal and eth1 vote folded into state immediately, same as
// ProcessRandaoReveal/processEth1Vote do inside ExecuteBlock's single-shot
// path. Extrinsics are appended afterward via ApplyExtrinsic.
func (e *BeaconExecutor) ApplyInherent(parent *Block, state Externalities, inherent Inherent) (*Block, error) {
	s, err := state.ReadState()
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrSTNilBlock
	}

	proposerIndex, err := BeaconProposerIndex(s, s.Slot)
	if err != nil {
		return nil, err
	}
	proposer, err := s.Validator(proposerIndex)
	if err != nil {
		return nil, err
	}
	if err := ProcessRandaoReveal(s, e.cfg.BLSBackend, proposer.Pubkey, inherent.RandaoReveal, e.cfg.ForkVersion, e.cfg.GenesisRoot); err != nil {
		return nil, err
	}
	processEth1Vote(s, inherent.Eth1Vote, s.Params())

	parentHeader := s.LatestBlockHeader
	parentRoot := types.Hash(HashBeaconBlockHeader(&parentHeader))

	unsealed := &Block{
		Slot:          s.Slot,
		ProposerIndex: proposerIndex,
		ParentRoot:    parentRoot,
		Body: &BeaconBlockBody{
			RandaoReveal: inherent.RandaoReveal,
			Eth1Data:     inherent.Eth1Vote,
		},
	}
	if err := state.WriteState(s); err != nil {
		return nil, err
	}
	return unsealed, nil
}

// ApplyExtrinsic appends extrinsic's single operation to unsealed's body and
// applies it to state immediately, in the same validation path ExecuteBlock
// runs for a sealed block's operation lists.
func (e *BeaconExecutor) ApplyExtrinsic(unsealed *Block, state Externalities, extrinsic Extrinsic) error {
	if unsealed == nil || unsealed.Body == nil {
		return ErrExecNilUnsealed
	}
	if extrinsic.count() != 1 {
		return ErrExecNilExtrinsic
	}
	s, err := state.ReadState()
	if err != nil {
		return err
	}
	params := s.Params()
	currentEpoch := s.CurrentEpoch()

	switch {
	case extrinsic.ProposerSlashing != nil:
		if err := processProposerSlashing(s, params, *extrinsic.ProposerSlashing, currentEpoch); err != nil {
			return err
		}
		unsealed.Body.ProposerSlashings = append(unsealed.Body.ProposerSlashings, *extrinsic.ProposerSlashing)
	case extrinsic.AttesterSlashing != nil:
		if err := processAttesterSlashing(s, params, *extrinsic.AttesterSlashing, currentEpoch); err != nil {
			return err
		}
		unsealed.Body.AttesterSlashings = append(unsealed.Body.AttesterSlashings, *extrinsic.AttesterSlashing)
	case extrinsic.Attestation != nil:
		if err := processAttestation(s, params, extrinsic.Attestation, unsealed.ProposerIndex); err != nil {
			return err
		}
		unsealed.Body.Attestations = append(unsealed.Body.Attestations, extrinsic.Attestation)
	case extrinsic.Deposit != nil:
		if err := processDeposit(s, params, e.cfg, *extrinsic.Deposit); err != nil {
			return err
		}
		unsealed.Body.Deposits = append(unsealed.Body.Deposits, *extrinsic.Deposit)
	case extrinsic.VoluntaryExit != nil:
		if err := processVoluntaryExit(s, params, *extrinsic.VoluntaryExit, currentEpoch); err != nil {
			return err
		}
		unsealed.Body.VoluntaryExits = append(unsealed.Body.VoluntaryExits, *extrinsic.VoluntaryExit)
	}
	return state.WriteState(s)
}

// FinalizeBlock seals unsealed: it computes the body root and state root and
// writes the resulting header into state, the same bookkeeping ExecuteBlock
// performs through HeaderValidator before checking the proposer signature
// (FinalizeBlock has no signature to check yet; that happens once the
// sealed block is broadcast and later replayed through ExecuteBlock).
func (e *BeaconExecutor) FinalizeBlock(unsealed *Block, state Externalities) error {
	if unsealed == nil || unsealed.Body == nil {
		return ErrExecNilUnsealed
	}
	s, err := state.ReadState()
	if err != nil {
		return err
	}
	bodyRoot, err := unsealed.bodyHashTreeRoot()
	if err != nil {
		return err
	}
	stateRoot, err := s.HashTreeRoot()
	if err != nil {
		return err
	}
	unsealed.StateRoot = types.Hash(stateRoot)

	header := BlockHeader{
		Slot:          unsealed.Slot,
		ParentRoot:    unsealed.ParentRoot,
		StateRoot:     unsealed.StateRoot,
		BodyRoot:      types.Hash(bodyRoot),
		ProposerIndex: unsealed.ProposerIndex,
	}
	s.LatestBlockHeader = header
	return state.WriteState(s)
}

// ExecuteBlock runs the non-staged path: block arrives already sealed and
// signed, and ApplyBlock validates and applies it wholesale, per §4.2. An
// unknown parent surfaces as ErrLMDUnknownParent, the same signal
// fork-choice's OnBlock returns for a block whose parent it has never seen.
func (e *BeaconExecutor) ExecuteBlock(block *Block, state Externalities) error {
	if block == nil {
		return ErrSTNilBlock
	}
	s, err := state.ReadState()
	if err != nil {
		return err
	}
	if block.ParentRoot != types.Hash(HashBeaconBlockHeader(&s.LatestBlockHeader)) {
		return ErrLMDUnknownParent
	}
	next, err := ApplyBlock(s, block, block.Signature, e.cfg)
	if err != nil {
		return err
	}
	return state.WriteState(next)
}

// JustifiedActiveValidators returns the validators active at the current
// justified checkpoint's epoch, the voter set fork choice weighs attestation
// power over.
func (e *BeaconExecutor) JustifiedActiveValidators(state Externalities) ([]ValidatorIndex, error) {
	s, err := state.ReadState()
	if err != nil {
		return nil, err
	}
	return s.ActiveValidatorIndices(s.CurrentJustifiedCheckpoint.Epoch), nil
}

// JustifiedBlockID returns state's current justified checkpoint root, or
// ok=false if no checkpoint has been justified yet (the zero root at
// genesis).
func (e *BeaconExecutor) JustifiedBlockID(state Externalities) (types.Hash, bool, error) {
	s, err := state.ReadState()
	if err != nil {
		return types.Hash{}, false, err
	}
	root := s.CurrentJustifiedCheckpoint.Root
	if root.IsZero() {
		return types.Hash{}, false, nil
	}
	return root, true, nil
}

// Votes extracts each attesting validator's head vote from block's
// attestations: every bit set in an attestation's aggregation bitfield maps,
// through its committee, to a validator that voted for the attestation's
// beacon block root.
func (e *BeaconExecutor) Votes(block *Block, state Externalities) ([]ExecutorVote, error) {
	if block == nil || block.Body == nil {
		return nil, ErrExecNilUnsealed
	}
	s, err := state.ReadState()
	if err != nil {
		return nil, err
	}
	var votes []ExecutorVote
	for _, att := range block.Body.Attestations {
		if att == nil {
			continue
		}
		data := poolAttestationData(att)
		committee, err := BeaconCommittee(s, att.Slot, att.CommitteeIndex)
		if err != nil {
			continue
		}
		for i, idx := range committee {
			if bitAt(att.AggregationBits, i) {
				votes = append(votes, ExecutorVote{ValidatorIndex: idx, Root: data.BeaconBlockRoot})
			}
		}
	}
	return votes, nil
}
