package capability

import (
	"context"
	"testing"

	"github.com/gatewarden/gatewarden/internal/escalation"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		feature string
		want    Tier
	}{
		{"kyc update", TierHigh},
		{"nominee change", TierHigh},
		{"large transfer", TierHigh}, // "large" outranks "transfer"
		{"account recovery", TierMediumHigh},
		{"password reset", TierMediumHigh},
		{"bill payment", TierMedium},
		{"NEFT transfer", TierMedium},
		{"statement view", TierLow},
		{"dashboard", TierLow},
	}

	for _, tc := range cases {
		if got := TierFor(tc.feature); got != tc.want {
			t.Errorf("TierFor(%q) = %q, want %q", tc.feature, got, tc.want)
		}
	}
}

func TestStaticCollector_FirstRoundReturnsPassiveSet(t *testing.T) {
	c := StaticCollector{}

	factors, err := c.Collect(context.Background(), "bill payment", nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(factors) != len(PassiveFactors) {
		t.Fatalf("expected %d passive factors, got %d", len(PassiveFactors), len(factors))
	}
	for _, kind := range PassiveFactors {
		if _, ok := factors[kind]; !ok {
			t.Errorf("missing passive factor %q", kind)
		}
	}
}

func TestStaticCollector_HonorsOutstanding(t *testing.T) {
	c := StaticCollector{}

	factors, err := c.Collect(context.Background(), "bill payment", []string{FactorSMSOTP})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(factors) != 1 {
		t.Fatalf("expected exactly the requested factor, got %v", factors)
	}
	if _, ok := factors[FactorSMSOTP]; !ok {
		t.Error("requested factor missing")
	}
}

func TestStaticCollector_UnknownKind(t *testing.T) {
	c := StaticCollector{}
	if _, err := c.Collect(context.Background(), "bill payment", []string{"palm_vein"}); err == nil {
		t.Error("expected error for unknown factor kind")
	}
}

func TestThresholdEvaluator_AsksForMissingFactors(t *testing.T) {
	e := ThresholdEvaluator{}

	obs := []escalation.Observation{
		{Kind: FactorDeviceFingerprint, Value: "FingerprintHash: abc123", Round: 1},
	}
	verdict, err := e.Evaluate(context.Background(), "bill payment", obs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Decision != escalation.VerdictMoreInfo {
		t.Fatalf("expected more_info, got %q", verdict.Decision)
	}
	if len(verdict.MissingInfo) != 1 || verdict.MissingInfo[0] != FactorSMSOTP {
		t.Errorf("expected missing [%s], got %v", FactorSMSOTP, verdict.MissingInfo)
	}
}

func TestThresholdEvaluator_ProceedsWhenSatisfied(t *testing.T) {
	e := ThresholdEvaluator{}

	obs := []escalation.Observation{
		{Kind: FactorDeviceFingerprint, Value: "FingerprintHash: abc123", Round: 1},
		{Kind: FactorSMSOTP, Value: "OTP verified", Round: 2},
	}
	verdict, err := e.Evaluate(context.Background(), "bill payment", obs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Decision != escalation.VerdictProceed {
		t.Fatalf("expected proceed, got %q", verdict.Decision)
	}
	if verdict.RiskScore <= 0 || verdict.RiskScore >= 1 {
		t.Errorf("risk score %f outside (0,1)", verdict.RiskScore)
	}
}

func TestThresholdEvaluator_IgnoresMarkers(t *testing.T) {
	e := ThresholdEvaluator{}

	// A marker for the required factor is a request, not evidence.
	obs := []escalation.Observation{
		{Kind: FactorSMSOTP, Round: 1, Marker: true},
	}
	verdict, err := e.Evaluate(context.Background(), "bill payment", obs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Decision != escalation.VerdictMoreInfo {
		t.Errorf("marker must not satisfy a requirement, got %q", verdict.Decision)
	}
}

func TestThresholdEvaluator_LowTierNeedsPassiveEvidence(t *testing.T) {
	e := ThresholdEvaluator{}

	verdict, err := e.Evaluate(context.Background(), "statement view", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if verdict.Decision != escalation.VerdictMoreInfo {
		t.Fatalf("expected more_info with no evidence at all, got %q", verdict.Decision)
	}
	if len(verdict.MissingInfo) == 0 {
		t.Error("expected the passive set to be requested")
	}
}
