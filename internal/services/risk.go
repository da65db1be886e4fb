package services

import "github.com/Wikid82/warden/internal/models"

// Outcome classifies what happened on a request so the ledger risk level is
// chosen in one place instead of at every call site.
type Outcome int

const (
	OutcomeRoutine Outcome = iota
	OutcomeAuthFailure
	OutcomeAdminRevoke
	OutcomeAdminChange
	OutcomeAttackDetected
	OutcomeRepeatedAttack
)

// RiskFor maps an outcome to the risk level recorded with its event.
func RiskFor(o Outcome) models.RiskLevel {
	switch o {
	case OutcomeAuthFailure, OutcomeAdminRevoke:
		return models.RiskMedium
	case OutcomeAdminChange, OutcomeAttackDetected:
		return models.RiskHigh
	case OutcomeRepeatedAttack:
		return models.RiskCritical
	default:
		return models.RiskLow
	}
}
