package escrow

import "fmt"

// Authorization predicates, one per instruction. Each is a pure function of
// the stored contract and the explicit signer identity; the ambient execution
// context is never consulted. A nil return means the signer holds the
// required role.

// CanFund permits only the client to fund the contract.
func CanFund(c *Contract, signer [20]byte) error {
	if c == nil || signer != c.Client {
		return fmt.Errorf("%w: fund requires the client", ErrUnauthorized)
	}
	return nil
}

// CanSubmitMilestone permits only the freelancer to submit work.
func CanSubmitMilestone(c *Contract, signer [20]byte) error {
	if c == nil || signer != c.Freelancer {
		return fmt.Errorf("%w: submit requires the freelancer", ErrUnauthorized)
	}
	return nil
}

// CanApproveMilestone permits only the client to approve a submission.
func CanApproveMilestone(c *Contract, signer [20]byte) error {
	if c == nil || signer != c.Client {
		return fmt.Errorf("%w: approve requires the client", ErrUnauthorized)
	}
	return nil
}

// CanRaiseDispute permits either party to dispute a submitted milestone.
func CanRaiseDispute(c *Contract, signer [20]byte) error {
	if c == nil || (signer != c.Client && signer != c.Freelancer) {
		return fmt.Errorf("%w: dispute requires the client or the freelancer", ErrUnauthorized)
	}
	return nil
}

// CanResolveDispute permits only the arbitrator to rule on a dispute.
func CanResolveDispute(c *Contract, signer [20]byte) error {
	if c == nil || signer != c.Arbitrator {
		return fmt.Errorf("%w: resolve requires the arbitrator", ErrUnauthorized)
	}
	return nil
}

// CanCancelContract permits only the client to cancel.
func CanCancelContract(c *Contract, signer [20]byte) error {
	if c == nil || signer != c.Client {
		return fmt.Errorf("%w: cancel requires the client", ErrUnauthorized)
	}
	return nil
}
