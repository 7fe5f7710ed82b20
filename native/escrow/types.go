package escrow

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxMilestones bounds the milestone array so stored records have a fixed
	// worst-case size and every instruction has a bounded cost.
	MaxMilestones = 10
	// MaxDescriptionLen caps the literal milestone description; longer terms
	// belong off-chain behind DescriptionHash.
	MaxDescriptionLen = 100
)

// ContractStatus represents the lifecycle states of an escrow contract.
// Completed and Cancelled are terminal.
type ContractStatus uint8

const (
	ContractActive ContractStatus = iota
	ContractCompleted
	ContractCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractActive, ContractCompleted, ContractCancelled:
		return true
	default:
		return false
	}
}

// String returns the lowercase wire name of the status.
func (s ContractStatus) String() string {
	switch s {
	case ContractActive:
		return "active"
	case ContractCompleted:
		return "completed"
	case ContractCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MilestoneStatus represents the state of an individual milestone. Approved
// and Rejected are milestone-terminal; there is no re-open path for a
// rejected milestone.
type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneSubmitted
	MilestoneApproved
	MilestoneRejected
	MilestoneDisputed
)

// Valid reports whether the status value is within the supported range.
func (s MilestoneStatus) Valid() bool {
	switch s {
	case MilestonePending, MilestoneSubmitted, MilestoneApproved, MilestoneRejected, MilestoneDisputed:
		return true
	default:
		return false
	}
}

// String returns the lowercase wire name of the status.
func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneSubmitted:
		return "submitted"
	case MilestoneApproved:
		return "approved"
	case MilestoneRejected:
		return "rejected"
	case MilestoneDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Milestone is a sub-unit of contract value tied to a discrete deliverable.
// The optional hash fields use the zero value as the unset sentinel.
type Milestone struct {
	Amount               uint64
	Description          string
	DescriptionHash      [32]byte
	Status               MilestoneStatus
	ProofHash            [32]byte
	DisputeReasonHash    [32]byte
	ArbitrationProofHash [32]byte
	SubmittedAt          int64
}

// Contract captures one escrow agreement between a client, a freelancer and
// an arbitrator. The milestone array has a fixed capacity with an explicit
// count; slots past the count carry zero values.
type Contract struct {
	ID              uint64
	Client          [20]byte
	Freelancer      [20]byte
	Arbitrator      [20]byte
	Asset           string
	TotalAmount     uint64
	ReleasedAmount  uint64
	DescriptionHash [32]byte
	Status          ContractStatus
	CreatedAt       int64
	Funded          bool
	MilestoneCount  uint8
	Milestones      [MaxMilestones]Milestone
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored instance. All fields are value types, so a shallow copy is a
// full copy.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Address returns the deterministic storage address of the contract, derived
// from the client (creator) identity and the caller-chosen ID.
func (c *Contract) Address() [32]byte {
	return ContractAddress(c.Client, c.ID)
}

// MilestoneAt returns a pointer into the contract's milestone array after
// bounds-checking against the declared count.
func (c *Contract) MilestoneAt(index uint8) (*Milestone, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil contract", ErrInvalidMilestoneIndex)
	}
	if index >= c.MilestoneCount {
		return nil, fmt.Errorf("%w: index %d, count %d", ErrInvalidMilestoneIndex, index, c.MilestoneCount)
	}
	return &c.Milestones[index], nil
}

// HasOpenDispute reports whether any milestone is currently disputed.
func (c *Contract) HasOpenDispute() bool {
	if c == nil {
		return false
	}
	for i := uint8(0); i < c.MilestoneCount; i++ {
		if c.Milestones[i].Status == MilestoneDisputed {
			return true
		}
	}
	return false
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// NormalizeAsset canonicalises a payment asset symbol: trimmed, uppercase,
// one to eight alphanumerics.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !assetPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid payment asset %q", symbol)
	}
	return trimmed, nil
}

// SanitizeContract validates and normalises a contract definition, returning
// a clone with canonical asset casing. The original value is not mutated.
func SanitizeContract(c *Contract) (*Contract, error) {
	if c == nil {
		return nil, fmt.Errorf("nil contract")
	}
	clone := c.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid contract status: %d", clone.Status)
	}
	if clone.MilestoneCount == 0 || clone.MilestoneCount > MaxMilestones {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidMilestoneSet, clone.MilestoneCount)
	}
	for i := uint8(0); i < clone.MilestoneCount; i++ {
		ms := &clone.Milestones[i]
		if !ms.Status.Valid() {
			return nil, fmt.Errorf("invalid milestone status at %d: %d", i, ms.Status)
		}
		if len(ms.Description) > MaxDescriptionLen {
			return nil, fmt.Errorf("milestone %d description exceeds %d bytes", i, MaxDescriptionLen)
		}
	}
	if clone.ReleasedAmount > clone.TotalAmount {
		return nil, fmt.Errorf("%w: released %d exceeds total %d", ErrInvariantViolation, clone.ReleasedAmount, clone.TotalAmount)
	}
	return clone, nil
}
