// header_validator.go checks a candidate block header against the parent
// state before the block's operations are processed, the first step of
// SPEC_FULL.md §4.2(b) block application.
package consensus

import (
	"errors"

	"github.com/eth2030/beaconcore/core/types"
	"github.com/eth2030/beaconcore/crypto"
)

// Header validation errors.
var (
	ErrHeaderNilHeader        = errors.New("header: header is nil")
	ErrHeaderNilState         = errors.New("header: state is nil")
	ErrHeaderSlotMismatch     = errors.New("header: slot does not match state slot")
	ErrHeaderParentMismatch   = errors.New("header: parent root does not match state's latest header")
	ErrHeaderProposerSlashed  = errors.New("header: proposer is slashed")
	ErrHeaderProposerBound    = errors.New("header: proposer index out of range")
	ErrHeaderBadSignature     = errors.New("header: proposer signature invalid")
)

// HeaderValidator checks a block header's slot, parent linkage, proposer
// status, and signature against a BeaconState, per SPEC_FULL.md §4.2(b)(1).
type HeaderValidator struct {
	backend crypto.BLSBackend
}

// NewHeaderValidator creates a HeaderValidator using backend for proposer
// signature checks. A nil backend falls back to crypto.DefaultBLSBackend().
func NewHeaderValidator(backend crypto.BLSBackend) *HeaderValidator {
	if backend == nil {
		backend = crypto.DefaultBLSBackend()
	}
	return &HeaderValidator{backend: backend}
}

// ValidateHeader verifies header against state: header.Slot must equal
// state.Slot, header.ParentRoot must equal the signing root of
// state.LatestBlockHeader, the proposer must not be slashed, and the
// proposer's signature over header must verify.
func (hv *HeaderValidator) ValidateHeader(
	header *BlockHeader,
	signature [96]byte,
	state *BeaconState,
	forkVersion [4]byte,
	genesisRoot [32]byte,
) error {
	if header == nil {
		return ErrHeaderNilHeader
	}
	if state == nil {
		return ErrHeaderNilState
	}
	if header.Slot != state.Slot {
		return ErrHeaderSlotMismatch
	}

	parentHeader := state.LatestBlockHeader
	expectedParentRoot := HashBeaconBlockHeader(&parentHeader)
	if header.ParentRoot != types.Hash(expectedParentRoot) {
		return ErrHeaderParentMismatch
	}

	proposer, err := state.Validator(header.ProposerIndex)
	if err != nil {
		return ErrHeaderProposerBound
	}
	if proposer.Slashed {
		return ErrHeaderProposerSlashed
	}

	domain := state.Params().DomainBeaconProposer
	if !VerifyProposerSignature(hv.backend, proposer.Pubkey, header, signature, domain, forkVersion, genesisRoot) {
		return ErrHeaderBadSignature
	}

	return nil
}
