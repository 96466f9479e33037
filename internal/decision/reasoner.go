package decision

import "fmt"

// Reasoner maps an assessment to a terminal decision.
type Reasoner struct {
	blockThreshold int
	mfaThreshold   int
}

// NewReasoner creates a reasoner with the default thresholds.
func NewReasoner() *Reasoner {
	return &Reasoner{
		blockThreshold: DefaultBlockThreshold,
		mfaThreshold:   DefaultMFAThreshold,
	}
}

// WithThresholds overrides the block and mfa thresholds.
func (r *Reasoner) WithThresholds(block, mfa int) *Reasoner {
	r.blockThreshold = block
	r.mfaThreshold = mfa
	return r
}

// Decide applies the tie-break rules in order. High-risk conditions dominate
// convenience conditions, so a score above the block threshold blocks even a
// trusted device.
func (r *Reasoner) Decide(a RiskAssessment, method string) Decision {
	switch {
	case a.Score > r.blockThreshold:
		return Decision{
			Action:      ActionBlock,
			Explanation: fmt.Sprintf("High risk score (%d).", a.Score),
			Score:       a.Score,
		}
	case !a.DeviceTrusted:
		return Decision{
			Action:      ActionMFA,
			Explanation: "Unrecognized device.",
			Score:       a.Score,
		}
	case !a.MethodProfiled:
		return Decision{
			Action:      ActionMFA,
			Explanation: fmt.Sprintf("Unusual login method: %s", method),
			Score:       a.Score,
		}
	case a.Score > r.mfaThreshold:
		return Decision{
			Action:      ActionMFA,
			Explanation: fmt.Sprintf("Moderate risk score (%d). MFA triggered.", a.Score),
			Score:       a.Score,
		}
	default:
		return Decision{
			Action:      ActionAllow,
			Explanation: fmt.Sprintf("Login allowed. Low risk (%d) with known device and method.", a.Score),
			Score:       a.Score,
		}
	}
}
