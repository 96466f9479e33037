package capability

import "strings"

// tierKeywords maps feature-name fragments to risk tiers. First match wins,
// highest tiers checked first so "large transfer" never falls through to
// medium on the word "transfer".
var tierKeywords = []struct {
	tier     Tier
	keywords []string
}{
	{TierHigh, []string{"kyc", "nominee", "large", "third-party", "third party", "bank detail"}},
	{TierMediumHigh, []string{"recovery", "password reset", "commerce", "checkout"}},
	{TierMedium, []string{"transfer", "payment", "bill", "standing instruction", "imps", "neft"}},
}

// TierFor classifies a feature name into a risk tier. Unmatched features are
// low risk (dashboards, statements, profile views).
func TierFor(feature string) Tier {
	f := strings.ToLower(feature)
	for _, t := range tierKeywords {
		for _, kw := range t.keywords {
			if strings.Contains(f, kw) {
				return t.tier
			}
		}
	}
	return TierLow
}

// RequiredFactors returns the factor kinds a tier needs beyond the passive
// set. Escalation requests these only when the evaluator flags them missing.
func RequiredFactors(tier Tier) []string {
	switch tier {
	case TierHigh:
		return []string{FactorAuthenticatorOTP, FactorFaceBiometric, FactorRiskAnalysis}
	case TierMediumHigh:
		return []string{FactorPushApproval, FactorRiskAnalysis}
	case TierMedium:
		return []string{FactorSMSOTP}
	default:
		return nil
	}
}
