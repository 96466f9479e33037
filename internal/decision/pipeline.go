package decision

import (
	"hash/fnv"

	"github.com/gatewarden/gatewarden/internal/history"
)

// Pipeline scores logins against baselines. Pure: no side effects, safe to
// call concurrently.
type Pipeline struct {
	baseMin       int
	baseMax       int
	penaltyIP     int
	penaltyDevice int
	penaltyMethod int
}

// NewPipeline creates a pipeline with the default policy weights.
func NewPipeline() *Pipeline {
	return &Pipeline{
		baseMin:       DefaultBaseRiskMin,
		baseMax:       DefaultBaseRiskMax,
		penaltyIP:     PenaltyUnknownIP,
		penaltyDevice: PenaltyUnknownDevice,
		penaltyMethod: PenaltyUnknownMethod,
	}
}

// WithBaseRange overrides the base risk range. min must be <= max.
func (p *Pipeline) WithBaseRange(min, max int) *Pipeline {
	if min >= 0 && max >= min {
		p.baseMin, p.baseMax = min, max
	}
	return p
}

// Score evaluates a login against a baseline. A nil baseline means a
// first-time user: nothing is known, so every familiarity penalty applies.
func (p *Pipeline) Score(login *LoginContext, baseline *history.Baseline) RiskAssessment {
	a := RiskAssessment{
		BaseRisk: p.baseRisk(login),
	}
	score := a.BaseRisk

	a.KnownIP = baseline != nil && baseline.IPs.Contains(login.IPAddress)
	a.DeviceTrusted = baseline != nil && baseline.Devices.Contains(login.DeviceID)
	a.MethodProfiled = baseline != nil && baseline.Methods.Contains(login.LoginMethod)

	if !a.KnownIP {
		score += p.penaltyIP
	}
	if !a.DeviceTrusted {
		score += p.penaltyDevice
	}
	if !a.MethodProfiled {
		score += p.penaltyMethod
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	a.Score = score
	return a
}

// baseRisk derives a deterministic base score in [baseMin, baseMax] from the
// login identity and the UTC day. Identical requests on the same day always
// score identically; the day component keeps the base from being a permanent
// per-user constant.
func (p *Pipeline) baseRisk(login *LoginContext) int {
	span := p.baseMax - p.baseMin + 1
	if span <= 1 {
		return p.baseMin
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(login.Username))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(login.DeviceID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(login.Timestamp.UTC().Format("2006-01-02")))
	return p.baseMin + int(h.Sum64()%uint64(span))
}
