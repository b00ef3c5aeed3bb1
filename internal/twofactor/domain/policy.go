package domain

// StepUpReason tells the caller which flow to route a blocked user to.
type StepUpReason string

const (
	StepUpNone           StepUpReason = ""
	StepUpSetupRequired  StepUpReason = "setup_required"  // role needs 2FA, user has none
	StepUpVerifyRequired StepUpReason = "verify_required" // 2FA enabled but not verified this session
)

type StepUpDecision struct {
	Blocked bool         `json:"blocked"`
	Reason  StepUpReason `json:"reason,omitempty"`
}
