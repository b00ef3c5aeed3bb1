package domain

// Reason tags why a lifecycle operation did not succeed. These are expected
// business outcomes, not errors.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonInvalidRequest  Reason = "invalid_request"  // missing user id or similar
	ReasonAlreadyEnabled  Reason = "already_enabled"  // setup attempted while enabled
	ReasonNotEnabled      Reason = "not_enabled"      // no active record
	ReasonSetupNotFound   Reason = "setup_not_found"  // nothing pending, or a racing confirm won
	ReasonSetupExpired    Reason = "setup_expired"    // pending setup older than the TTL
	ReasonInvalidCode     Reason = "invalid_code"     // neither a TOTP nor a recovery code matched
	ReasonCodeAlreadyUsed Reason = "code_already_used" // TOTP step already accepted (replay protection)
)

// SetupResult carries the one and only copy of the plaintext material.
// Nothing else in the API returns a secret or a recovery code again.
type SetupResult struct {
	Success       bool     `json:"success"`
	Reason        Reason   `json:"reason,omitempty"`
	Secret        string   `json:"secret,omitempty"`
	OTPAuthURI    string   `json:"otpauth_uri,omitempty"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// Outcome is the result of confirm and disable.
type Outcome struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
}

// VerifyResult is returned by verification. IsRecoveryCode lets the caller
// nudge the user to regenerate codes.
type VerifyResult struct {
	Valid                  bool   `json:"valid"`
	IsRecoveryCode         bool   `json:"is_recovery_code,omitempty"`
	RemainingRecoveryCodes int    `json:"remaining_recovery_codes,omitempty"`
	Reason                 Reason `json:"reason,omitempty"`
}

// RegenerateResult carries the fresh plaintext recovery codes exactly once.
type RegenerateResult struct {
	Success       bool     `json:"success"`
	Reason        Reason   `json:"reason,omitempty"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}
