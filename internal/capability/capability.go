// Package capability provides clients for the two consumed authentication
// capabilities: factor collection and risk evaluation. The real
// implementations sit behind HTTP (an LLM-backed policy reasoner, OTP and
// biometric services); this package also ships deterministic in-process
// versions for demo mode and tests.
package capability

// Factor kinds the platform knows how to request. These mirror the
// capability provider's tool surface: passive signals first, then challenge
// and biometric factors, then OTP delivery channels.
const (
	FactorGeolocation       = "geolocation"
	FactorIP                = "ip"
	FactorTypingSpeed       = "typing_speed"
	FactorPersonalQA        = "personal_qa"
	FactorDeviceFingerprint = "device_fingerprint"
	FactorFaceBiometric     = "face_biometric"
	FactorFingerprintBio    = "fingerprint_biometric"
	FactorVoiceBiometric    = "voice_biometric"
	FactorSMSOTP            = "sms_otp"
	FactorEmailOTP          = "email_otp"
	FactorAuthenticatorOTP  = "authenticator_otp"
	FactorHardwareToken     = "hardware_token"
	FactorPushApproval      = "push_approval"
	FactorRiskAnalysis      = "risk_analysis"
)

// Tier is the coarse risk bucket of a feature, deciding which factors the
// first collection round starts with.
type Tier string

const (
	TierLow        Tier = "low"
	TierMedium     Tier = "medium"
	TierMediumHigh Tier = "medium_high"
	TierHigh       Tier = "high"
)

// PassiveFactors are collected first for every tier; user convenience before
// active challenges.
var PassiveFactors = []string{
	FactorDeviceFingerprint,
	FactorIP,
	FactorGeolocation,
	FactorTypingSpeed,
}
