// attestation.go implements phase0-style attestation construction and
// validation: AttestationData carries the committee index directly (no
// EIP-7549 CommitteeBits indirection, which assumes cross-committee
// aggregation this engine's single-committee-per-attestation model does
// not support; see SPEC_FULL.md §4.5).
package consensus

import (
	"errors"
	"fmt"

	"github.com/eth2030/beaconcore/core/types"
)

// MaxCommitteesPerSlot is the maximum number of committees in a single slot.
const MaxCommitteesPerSlot = 64

// Attestation errors.
var (
	ErrAttestationNilData           = errors.New("attestation: nil attestation data")
	ErrAttestationEmptyBits         = errors.New("attestation: empty aggregation bits")
	ErrAttestationEmptySig          = errors.New("attestation: empty signature")
	ErrAttestationSourceAfterTarget = errors.New("attestation: source epoch after target epoch")
	ErrAttestationFutureSlot        = errors.New("attestation: slot is in the future")
	ErrAttestationBadCommitteeIdx   = errors.New("attestation: committee index out of range")
	ErrAttestationDataMismatch      = errors.New("attestation: data mismatch for aggregation")
	ErrAttestationOverlapping       = errors.New("attestation: overlapping aggregation bits")
)

// Attestation is a validator's signed vote over AttestationData, plus the
// bitfield of committee members whose signature contributed to it.
type Attestation struct {
	AggregationBits []byte
	Data            AttestationData
	Signature       [96]byte
}

// IsEqualAttestationData reports whether two attestation data values are
// equal, the criterion under which two attestations' aggregation bitfields
// can be OR'd together.
func IsEqualAttestationData(a, b *AttestationData) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equals(*b)
}

// CreateAttestation builds an unsigned attestation for the given committee
// index, head root, and FFG source/target checkpoints.
func CreateAttestation(
	slot Slot,
	committeeIndex uint64,
	beaconBlockRoot types.Hash,
	source, target Checkpoint,
) *Attestation {
	return &Attestation{
		AggregationBits: make([]byte, 0),
		Data: AttestationData{
			Slot:            slot,
			Index:           committeeIndex,
			BeaconBlockRoot: beaconBlockRoot,
			Source:          source,
			Target:          target,
		},
	}
}

// ValidateAttestation checks that an attestation is well-formed relative
// to the current beacon state.
func ValidateAttestation(att *Attestation, state *BeaconState) error {
	if att == nil {
		return ErrAttestationNilData
	}

	emptySig := [96]byte{}
	if att.Signature == emptySig {
		return ErrAttestationEmptySig
	}

	if len(att.AggregationBits) == 0 {
		return ErrAttestationEmptyBits
	}

	if att.Data.Index >= MaxCommitteesPerSlot {
		return fmt.Errorf("%w: %d exceeds max %d", ErrAttestationBadCommitteeIdx, att.Data.Index, MaxCommitteesPerSlot-1)
	}

	if att.Data.Source.Epoch > att.Data.Target.Epoch {
		return ErrAttestationSourceAfterTarget
	}

	if state != nil && att.Data.Slot > state.Slot {
		return ErrAttestationFutureSlot
	}

	return nil
}

// AggregateAttestations combines multiple attestations that share the same
// AttestationData by OR-ing their aggregation bitfields together. Overlap
// between any two inputs' bitfields means the same validator signed twice
// and the inputs cannot be merged.
func AggregateAttestations(atts []*Attestation) (*Attestation, error) {
	if len(atts) == 0 {
		return nil, errors.New("attestation: no attestations to aggregate")
	}
	if len(atts) == 1 {
		return atts[0], nil
	}

	for i := 1; i < len(atts); i++ {
		if !IsEqualAttestationData(&atts[0].Data, &atts[i].Data) {
			return nil, ErrAttestationDataMismatch
		}
	}

	maxAggLen := 0
	for _, att := range atts {
		if len(att.AggregationBits) > maxAggLen {
			maxAggLen = len(att.AggregationBits)
		}
	}

	aggBits := make([]byte, maxAggLen)
	for _, att := range atts {
		for i, b := range att.AggregationBits {
			if aggBits[i]&b != 0 {
				return nil, ErrAttestationOverlapping
			}
			aggBits[i] |= b
		}
	}

	return &Attestation{
		AggregationBits: aggBits,
		Data:            atts[0].Data,
		Signature:       atts[0].Signature,
	}, nil
}
