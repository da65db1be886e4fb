package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrEventImmutable is returned when anything tries to update or delete a
// stored SecurityEvent.
var ErrEventImmutable = errors.New("security events are append-only")

// RiskLevel is the coarse severity attached to a security event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the four known levels.
func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

// Rank orders risk levels from LOW (1) to CRITICAL (4); unknown levels rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// EventAction enumerates the kinds of security event the ledger records.
type EventAction string

const (
	ActionLoginAttempt       EventAction = "login_attempt"
	ActionLoginFailed        EventAction = "login_failed"
	ActionDataAccess         EventAction = "data_access"
	ActionRegistrationFailed EventAction = "registration_failed"
	ActionIPBlocked          EventAction = "ip_blocked"
	ActionIPUnblocked        EventAction = "ip_unblocked"
	ActionIPUnblockNoop      EventAction = "ip_unblock_noop"
	ActionPageView           EventAction = "page_view"
	ActionAttackDetected     EventAction = "attack_detected"
	ActionAutoBlock          EventAction = "auto_block"
	ActionManualEntry        EventAction = "manual_entry"
)

var knownActions = map[EventAction]struct{}{
	ActionLoginAttempt:       {},
	ActionLoginFailed:        {},
	ActionDataAccess:         {},
	ActionRegistrationFailed: {},
	ActionIPBlocked:          {},
	ActionIPUnblocked:        {},
	ActionIPUnblockNoop:      {},
	ActionPageView:           {},
	ActionAttackDetected:     {},
	ActionAutoBlock:          {},
	ActionManualEntry:        {},
}

// Valid reports whether a is a known action.
func (a EventAction) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// SecurityEvent is one row of the append-only audit trail. Rows are written
// once by the ledger and never updated or deleted.
type SecurityEvent struct {
	ID        uint           `json:"-" gorm:"primaryKey"`
	UUID      string         `json:"id" gorm:"uniqueIndex"`
	ActorID   *string        `json:"actor_id,omitempty" gorm:"index"`
	Action    EventAction    `json:"action" gorm:"size:64;index"`
	Resource  string         `json:"resource"`
	IPAddress string         `json:"ip_address" gorm:"size:64;index"`
	UserAgent string         `json:"user_agent" gorm:"size:512"`
	Success   bool           `json:"success"`
	RiskLevel RiskLevel      `json:"risk_level" gorm:"size:16;index"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// BeforeUpdate rejects any attempt to modify a stored event.
func (e *SecurityEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrEventImmutable
}

// BeforeDelete rejects any attempt to remove a stored event.
func (e *SecurityEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrEventImmutable
}

// AttackDetails is the payload of an attack_detected event.
type AttackDetails struct {
	Field    string   `json:"field"`
	Patterns []string `json:"patterns"`
	Kinds    []string `json:"kinds"`
}

// BlockDetails is the payload of ip_blocked, ip_unblocked and auto_block events.
type BlockDetails struct {
	Target          string     `json:"target"`
	Reason          string     `json:"reason,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	BlockedBy       string     `json:"blocked_by,omitempty"`
	CacheSynced     *bool      `json:"cache_synced,omitempty"`
	Attempts        int64      `json:"attempts,omitempty"`
}

// QueryDetails is the payload of data_access events recorded for reporting reads.
type QueryDetails struct {
	Filters map[string]string `json:"filters"`
	Results int               `json:"results"`
}
