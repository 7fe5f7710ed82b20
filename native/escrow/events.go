package escrow

import (
	"encoding/hex"
	"strconv"

	"payguard/core/types"
)

const (
	EventTypeContractCreated    = "escrow.contract.created"
	EventTypeContractFunded     = "escrow.contract.funded"
	EventTypeContractCancelled  = "escrow.contract.cancelled"
	EventTypeContractCompleted  = "escrow.contract.completed"
	EventTypeMilestoneSubmitted = "escrow.milestone.submitted"
	EventTypeMilestoneApproved  = "escrow.milestone.approved"
	EventTypeMilestoneDisputed  = "escrow.milestone.disputed"
	EventTypeMilestoneResolved  = "escrow.milestone.resolved"
)

// NewContractCreatedEvent returns the canonical payload for a newly allocated
// contract.
func NewContractCreatedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractCreated, c)
}

// NewContractFundedEvent returns the payload emitted when the full contract
// amount enters custody.
func NewContractFundedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractFunded, c)
}

// NewContractCancelledEvent returns the payload emitted on cancellation,
// including the refunded remainder.
func NewContractCancelledEvent(c *Contract, refund uint64) *types.Event {
	evt := newContractEvent(EventTypeContractCancelled, c)
	evt.Attributes["refund"] = strconv.FormatUint(refund, 10)
	return evt
}

// NewContractCompletedEvent returns the payload emitted when the final
// milestone release completes the contract.
func NewContractCompletedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractCompleted, c)
}

// NewMilestoneSubmittedEvent returns the payload for a completion claim.
func NewMilestoneSubmittedEvent(c *Contract, index uint8) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneSubmitted, c, index)
}

// NewMilestoneApprovedEvent returns the payload for a client approval.
func NewMilestoneApprovedEvent(c *Contract, index uint8) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneApproved, c, index)
}

// NewMilestoneDisputedEvent returns the payload for a raised dispute.
func NewMilestoneDisputedEvent(c *Contract, index uint8) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneDisputed, c, index)
}

// NewMilestoneResolvedEvent returns the payload for an applied verdict,
// including the decision and the amount released to the freelancer.
func NewMilestoneResolvedEvent(c *Contract, index uint8, verdict Verdict, share uint64) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneResolved, c, index)
	evt.Attributes["decision"] = verdict.Decision.String()
	if verdict.Decision == DecisionSplit {
		evt.Attributes["splitPct"] = strconv.FormatUint(uint64(verdict.SplitPct), 10)
	}
	evt.Attributes["freelancerShare"] = strconv.FormatUint(share, 10)
	evt.Attributes["arbitrationProof"] = hex.EncodeToString(verdict.ProofHash[:])
	return evt
}

func newContractEvent(eventType string, c *Contract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	addr := c.Address()
	attrs["address"] = hex.EncodeToString(addr[:])
	attrs["id"] = strconv.FormatUint(c.ID, 10)
	attrs["client"] = hex.EncodeToString(c.Client[:])
	attrs["freelancer"] = hex.EncodeToString(c.Freelancer[:])
	attrs["arbitrator"] = hex.EncodeToString(c.Arbitrator[:])
	attrs["asset"] = c.Asset
	attrs["totalAmount"] = strconv.FormatUint(c.TotalAmount, 10)
	attrs["releasedAmount"] = strconv.FormatUint(c.ReleasedAmount, 10)
	attrs["status"] = c.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newMilestoneEvent(eventType string, c *Contract, index uint8) *types.Event {
	evt := newContractEvent(eventType, c)
	if c == nil || index >= c.MilestoneCount {
		return evt
	}
	ms := c.Milestones[index]
	evt.Attributes["milestoneIndex"] = strconv.FormatUint(uint64(index), 10)
	evt.Attributes["milestoneAmount"] = strconv.FormatUint(ms.Amount, 10)
	evt.Attributes["milestoneStatus"] = ms.Status.String()
	return evt
}
