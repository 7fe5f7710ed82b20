package escrow

import (
	"fmt"
	"math/bits"
)

// Decision identifies the arbitrator's ruling on a disputed milestone. The
// closed set makes an unset percentage unrepresentable outside of Split.
type Decision uint8

const (
	DecisionFavorFreelancer Decision = iota + 1
	DecisionFavorClient
	DecisionSplit
)

// String returns the lowercase wire name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionFavorFreelancer:
		return "favor_freelancer"
	case DecisionFavorClient:
		return "favor_client"
	case DecisionSplit:
		return "split"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Verdict is the externally produced arbitration ruling consumed by
// ResolveDispute. The engine validates only its shape, never the reasoning
// behind it; ProofHash anchors the off-chain reasoning record.
type Verdict struct {
	Decision  Decision
	SplitPct  uint8
	ProofHash [32]byte
}

// Validate checks the verdict shape. Split percentages are restricted to
// 1..99: 0 and 100 must arrive as the favor-* decisions, so a malformed
// Split is rejected rather than silently collapsed.
func (v Verdict) Validate() error {
	switch v.Decision {
	case DecisionFavorFreelancer, DecisionFavorClient:
		if v.SplitPct != 0 {
			return fmt.Errorf("%w: percentage set on %s", ErrInvalidVerdict, v.Decision)
		}
	case DecisionSplit:
		if v.SplitPct == 0 || v.SplitPct >= 100 {
			return fmt.Errorf("%w: split percentage %d outside 1..99", ErrInvalidVerdict, v.SplitPct)
		}
	default:
		return fmt.Errorf("%w: unknown decision %d", ErrInvalidVerdict, uint8(v.Decision))
	}
	return nil
}

// FreelancerShare computes the portion of the milestone amount owed to the
// freelancer under this verdict. Split uses floor division; the remainder
// stays with the client so custody accounting remains exact.
func (v Verdict) FreelancerShare(amount uint64) (uint64, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	switch v.Decision {
	case DecisionFavorFreelancer:
		return amount, nil
	case DecisionFavorClient:
		return 0, nil
	default:
		// 128-bit intermediate: amount * pct never truncates before the
		// division, and the quotient is below amount so it fits in 64 bits.
		hi, lo := bits.Mul64(amount, uint64(v.SplitPct))
		share, _ := bits.Div64(hi, lo, 100)
		return share, nil
	}
}
