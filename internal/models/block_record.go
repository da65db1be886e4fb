package models

import (
	"time"
)

// BlockRecord is the durable statement that an address is, or was, denied
// access. Unblocking flips IsActive; rows are never deleted so the history of
// who blocked what, and when, survives.
type BlockRecord struct {
	ID          uint       `json:"-" gorm:"primaryKey"`
	UUID        string     `json:"uuid" gorm:"uniqueIndex"`
	IPAddress   string     `json:"ip_address" gorm:"size:64;index"`
	Reason      string     `json:"reason" gorm:"type:text"`
	BlockedAt   time.Time  `json:"blocked_at"`
	BlockedBy   string     `json:"blocked_by"` // actor id or "system"
	ExpiresAt   *time.Time `json:"expires_at"` // nil = permanent
	IsActive    bool       `json:"is_active" gorm:"index"`
	UnblockedAt *time.Time `json:"unblocked_at,omitempty"`
	UnblockedBy string     `json:"unblocked_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsPermanent reports whether the block has no expiry.
func (b *BlockRecord) IsPermanent() bool {
	return b.ExpiresAt == nil
}

// IsExpired reports whether a timed block has run out at now.
func (b *BlockRecord) IsExpired(now time.Time) bool {
	if b.ExpiresAt == nil {
		return false
	}
	return !now.Before(*b.ExpiresAt)
}

// IsEnforced reports whether readers should treat the address as blocked.
// An expired record that still carries IsActive is not enforced.
func (b *BlockRecord) IsEnforced(now time.Time) bool {
	return b.IsActive && !b.IsExpired(now)
}

// ExpiresAtEpoch returns the expiry as unix seconds, or nil for permanent
// blocks. A fractional second rounds up so a cached copy is never lifted
// before the record itself expires.
func (b *BlockRecord) ExpiresAtEpoch() *int64 {
	if b.ExpiresAt == nil {
		return nil
	}
	v := b.ExpiresAt.Unix()
	if b.ExpiresAt.Nanosecond() != 0 {
		v++
	}
	return &v
}
