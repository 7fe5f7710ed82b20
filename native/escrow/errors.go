package escrow

import "errors"

// Caller-visible business errors. Every operation fails with exactly one of
// these, wrapped with context; none are transient, so callers decide on
// re-submission themselves.
var (
	// ErrUnauthorized marks a signer that fails the operation's role check.
	ErrUnauthorized = errors.New("escrow: unauthorized signer")
	// ErrContractNotActive marks operations on a completed or cancelled
	// contract.
	ErrContractNotActive = errors.New("escrow: contract not active")
	// ErrInvalidMilestoneSet marks a creation payload whose milestone count is
	// outside [1,10] or whose amounts do not sum to the total.
	ErrInvalidMilestoneSet = errors.New("escrow: invalid milestone set")
	// ErrInvalidMilestoneIndex marks an index outside the contract's declared
	// milestone count.
	ErrInvalidMilestoneIndex = errors.New("escrow: invalid milestone index")
	// ErrMilestoneNotPending marks a submit against a non-pending milestone.
	ErrMilestoneNotPending = errors.New("escrow: milestone not pending")
	// ErrMilestoneNotSubmitted marks an approve or dispute against a milestone
	// that is not in the submitted state.
	ErrMilestoneNotSubmitted = errors.New("escrow: milestone not submitted")
	// ErrMilestoneNotDisputed marks a resolve against a milestone that is not
	// disputed.
	ErrMilestoneNotDisputed = errors.New("escrow: milestone not disputed")
	// ErrAlreadyFunded marks a second funding attempt.
	ErrAlreadyFunded = errors.New("escrow: contract already funded")
	// ErrNotFunded marks a fund-dependent operation on an unfunded contract.
	ErrNotFunded = errors.New("escrow: contract not funded")
	// ErrAmountMismatch marks a funding amount that differs from the contract
	// total; partial funding is not modelled.
	ErrAmountMismatch = errors.New("escrow: amount mismatch")
	// ErrArithmeticOverflow marks a computed amount that would wrap a 64-bit
	// counter. Always fatal, never clamped.
	ErrArithmeticOverflow = errors.New("escrow: arithmetic overflow")
	// ErrInvariantViolation marks an amount that would breach the conservation
	// invariants (released exceeding total, custody shortfall).
	ErrInvariantViolation = errors.New("escrow: invariant violation")
	// ErrTransferFailed marks a failed fund movement; the operation is rolled
	// back in full.
	ErrTransferFailed = errors.New("escrow: transfer failed")
	// ErrNotFound marks a contract address with no stored record.
	ErrNotFound = errors.New("escrow: contract not found")
	// ErrAlreadyExists marks a create whose derived address is occupied,
	// i.e. a duplicate ID for the same creator.
	ErrAlreadyExists = errors.New("escrow: contract already exists")
	// ErrInvalidVerdict marks a verdict whose shape fails intake validation.
	ErrInvalidVerdict = errors.New("escrow: invalid verdict")
)
