// Package decision implements the synchronous login decision pipeline.
//
// Every login event is scored against the user's learned baseline (unknown
// IP, device, or method each add a fixed penalty on top of a deterministic
// base risk), mapped to a terminal action (allow, mfa, block), and the
// resulting context is committed back into the baseline unless the login was
// blocked. The whole read-score-commit sequence runs under a per-username
// lock so concurrent logins cannot drop learned behavior.
package decision

import (
	"context"
	"time"
)

// Action is the terminal outcome of one login decision.
type Action string

const (
	ActionAllow Action = "allow"
	ActionMFA   Action = "mfa"
	ActionBlock Action = "block"
)

// Login methods accepted by the platform.
const (
	MethodWeb    = "web"
	MethodMobile = "mobile"
	MethodVoice  = "voice"
	MethodATM    = "atm"
)

// Policy thresholds and penalties. The block threshold dominates all
// convenience rules; see Reasoner for the tie-break order.
const (
	DefaultBlockThreshold = 85
	DefaultMFAThreshold   = 60

	PenaltyUnknownIP     = 10
	PenaltyUnknownDevice = 15
	PenaltyUnknownMethod = 10

	DefaultBaseRiskMin = 10
	DefaultBaseRiskMax = 80
)

// LoginContext is one inbound login event. Immutable once constructed.
type LoginContext struct {
	Username    string    `json:"username"`
	IPAddress   string    `json:"ipAddress"`
	DeviceID    string    `json:"deviceId"`
	LoginMethod string    `json:"loginMethod"` // web, mobile, voice, atm
	Timestamp   time.Time `json:"timestamp"`
}

// RiskAssessment is the scored view of a login. DeviceTrusted and
// MethodProfiled are computed directly from baseline membership, not derived
// from the score.
type RiskAssessment struct {
	Score          int  `json:"score"` // 0..100
	BaseRisk       int  `json:"baseRisk"`
	DeviceTrusted  bool `json:"deviceTrusted"`
	MethodProfiled bool `json:"methodProfiled"`
	KnownIP        bool `json:"knownIp"`
}

// Decision is the terminal value produced exactly once per login.
type Decision struct {
	Action      Action `json:"action"`
	Explanation string `json:"explanation"`
	Score       int    `json:"score"`
}

// Record is one audited decision, persisted asynchronously after each login.
type Record struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ipAddress"`
	DeviceID  string    `json:"deviceId"`
	Method    string    `json:"method"`
	Action    Action    `json:"action"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decidedAt"`
}

// AuditStore persists decision records for audit trail.
type AuditStore interface {
	Record(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, username string, limit int) ([]*Record, error)
}

// ValidMethod reports whether m is a supported login method.
func ValidMethod(m string) bool {
	switch m {
	case MethodWeb, MethodMobile, MethodVoice, MethodATM:
		return true
	}
	return false
}
