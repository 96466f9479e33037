package capability

import (
	"context"
	"fmt"

	"github.com/gatewarden/gatewarden/internal/escalation"
)

// staticObservations are the canned values the demo collector returns.
// Shaped after what the real factor services report.
var staticObservations = map[string]string{
	FactorGeolocation:       "US, California",
	FactorIP:                "192.168.0.1",
	FactorTypingSpeed:       "45 wpm",
	FactorPersonalQA:        "challenge answered",
	FactorDeviceFingerprint: "FingerprintHash: abc123",
	FactorFaceBiometric:     "match score: 0.96",
	FactorFingerprintBio:    "match score: 0.94",
	FactorVoiceBiometric:    "match score: 0.91",
	FactorSMSOTP:            "OTP verified",
	FactorEmailOTP:          "OTP verified",
	FactorAuthenticatorOTP:  "OTP accepted",
	FactorHardwareToken:     "token accepted",
	FactorPushApproval:      "approved",
	FactorRiskAnalysis:      "score: 0.72",
}

// StaticCollector is an in-process FactorCollector for demo mode and tests.
// Round 1 returns the passive set for the feature's tier; later rounds
// return exactly the outstanding kinds, honoring the minimal-necessary
// contract.
type StaticCollector struct{}

// Compile-time check.
var _ escalation.FactorCollector = (*StaticCollector)(nil)

func (StaticCollector) Collect(_ context.Context, feature string, outstanding []string) (map[string]string, error) {
	kinds := outstanding
	if len(kinds) == 0 {
		kinds = PassiveFactors
	}
	out := make(map[string]string, len(kinds))
	for _, kind := range kinds {
		v, ok := staticObservations[kind]
		if !ok {
			return nil, fmt.Errorf("unknown factor kind %q", kind)
		}
		out[kind] = v
	}
	return out, nil
}

// ThresholdEvaluator is an in-process RiskEvaluator for demo mode and tests.
// It approves once every factor required for the feature's tier has been
// observed, and asks for the missing ones otherwise - the same shape of
// verdict the LLM-backed reasoner returns.
type ThresholdEvaluator struct{}

// Compile-time check.
var _ escalation.RiskEvaluator = (*ThresholdEvaluator)(nil)

func (ThresholdEvaluator) Evaluate(_ context.Context, feature string, observations []escalation.Observation) (escalation.Verdict, error) {
	seen := make(map[string]bool)
	for _, o := range observations {
		if !o.Marker {
			seen[o.Kind] = true
		}
	}

	tier := TierFor(feature)
	var missing []string
	for _, kind := range RequiredFactors(tier) {
		if !seen[kind] {
			missing = append(missing, kind)
		}
	}

	// Passive evidence alone clears low-risk features.
	if tier == TierLow && len(seen) == 0 {
		missing = append(missing, PassiveFactors...)
	}

	if len(missing) > 0 {
		return escalation.Verdict{
			Decision:    escalation.VerdictMoreInfo,
			RiskScore:   0.5,
			MissingInfo: missing,
		}, nil
	}
	return escalation.Verdict{Decision: escalation.VerdictProceed, RiskScore: riskFor(tier)}, nil
}

func riskFor(tier Tier) float64 {
	switch tier {
	case TierHigh:
		return 0.45
	case TierMediumHigh:
		return 0.35
	case TierMedium:
		return 0.25
	default:
		return 0.10
	}
}
