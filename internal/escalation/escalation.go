// Package escalation drives adaptive step-up authentication for sensitive
// actions. For each authorization attempt it runs a bounded loop: ask the
// factor collector for the evidence that is still outstanding, hand the
// accumulated evidence to the risk evaluator, and either stop on a terminal
// verdict or go around once more. The round budget is a hard cap - there is
// no path through the loop that runs more than MaxRounds collect+evaluate
// pairs.
package escalation

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxRounds is the collect+evaluate round budget per attempt.
const DefaultMaxRounds = 3

// DefaultCallTimeout bounds each capability call.
const DefaultCallTimeout = 10 * time.Second

// ErrCancelled is returned when the caller's context ends mid-escalation.
// The session is discarded; nothing is committed.
var ErrCancelled = errors.New("escalation: cancelled")

// State of an in-flight escalation session.
type State int

const (
	StateCollecting State = iota
	StateEvaluating
	StateProceeded // terminal
	StateDenied    // terminal
	StateExhausted // terminal: round budget spent without a verdict
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateEvaluating:
		return "evaluating"
	case StateProceeded:
		return "proceeded"
	case StateDenied:
		return "denied"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateProceeded || s == StateDenied || s == StateExhausted
}

// Outcome is the terminal result exposed to callers. Exhausted is kept
// distinct from denied for audit, though both are unauthorized.
type Outcome string

const (
	OutcomeProceeded Outcome = "proceeded"
	OutcomeDenied    Outcome = "denied"
	OutcomeExhausted Outcome = "exhausted"
)

// Observation is one piece of collected evidence, ordered by round.
// Marker observations record what the evaluator flagged as missing, so the
// next collection round requests only that.
type Observation struct {
	Kind   string `json:"kind"`
	Value  string `json:"value,omitempty"`
	Round  int    `json:"round"`
	Marker bool   `json:"marker,omitempty"`
}

// VerdictDecision is the evaluator's structured decision.
type VerdictDecision string

const (
	VerdictProceed  VerdictDecision = "proceed"
	VerdictMoreInfo VerdictDecision = "more_info"
	VerdictDeny     VerdictDecision = "deny"
)

// Verdict is the evaluator's response for one round.
type Verdict struct {
	Decision    VerdictDecision `json:"decision"`
	RiskScore   float64         `json:"risk_score"` // 0..1
	MissingInfo []string        `json:"missing_info,omitempty"`
}

// Valid reports whether the verdict decision is one of the enumerated
// values. Anything else is handled as a parse failure by the orchestrator.
func (v Verdict) Valid() bool {
	switch v.Decision {
	case VerdictProceed, VerdictMoreInfo, VerdictDeny:
		return true
	}
	return false
}

// FactorCollector gathers authentication evidence. Implementations may call
// out to OTP delivery, biometric capture, or fingerprinting services; the
// orchestrator bounds every call with a timeout.
type FactorCollector interface {
	Collect(ctx context.Context, feature string, outstanding []string) (map[string]string, error)
}

// RiskEvaluator judges accumulated evidence against the risk threshold for
// the feature.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, feature string, observations []Observation) (Verdict, error)
}

// Session is the mutable state of one authorization attempt. Owned by a
// single orchestrator invocation; never shared, never persisted.
type Session struct {
	ID           string
	Username     string
	Feature      string
	Observations []Observation
	Round        int
	// LastEvaluated is the round whose verdict was processed most recently.
	// Zero until the first evaluation completes.
	LastEvaluated int
	State         State
	StartedAt     time.Time
}

// Outstanding returns the marker kinds recorded by the most recent
// evaluation round, in order. A verdict that asked for nothing, including
// a malformed one normalized to more_info, yields an empty set even when
// earlier rounds left markers behind.
func (s *Session) Outstanding() []string {
	var out []string
	for _, o := range s.Observations {
		if o.Marker && o.Round == s.LastEvaluated {
			out = append(out, o.Kind)
		}
	}
	return out
}

// Result is the terminal outcome of one escalation attempt. Observations
// holds the evidence trail (markers excluded) for audit.
type Result struct {
	SessionID    string        `json:"sessionId"`
	Username     string        `json:"username"`
	Feature      string        `json:"feature"`
	Authorized   bool          `json:"authorized"`
	Outcome      Outcome       `json:"outcome"`
	RiskScore    float64       `json:"risk_score"`
	RoundsUsed   int           `json:"rounds_used"`
	Observations []Observation `json:"observations,omitempty"`
}

// OutcomeStore persists terminal escalation results for audit. Sessions
// themselves are never persisted.
type OutcomeStore interface {
	Record(ctx context.Context, res *Result) error
	ListByUser(ctx context.Context, username string, limit int) ([]*Result, error)
}
