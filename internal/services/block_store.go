package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

var (
	ErrBlockNotFound    = errors.New("block record not found")
	ErrInvalidIPAddress = errors.New("invalid IP address")
	ErrStoreUnavailable = errors.New("block store unavailable")
)

// BlockStore is the durable table of IP block records. It keeps at most one
// active record per address and never deletes rows.
type BlockStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewBlockStore returns a BlockStore using the provided DB
func NewBlockStore(db *gorm.DB) *BlockStore {
	return &BlockStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertActive makes ip actively blocked. An existing active record is
// updated in place (last write wins) rather than duplicated.
func (s *BlockStore) UpsertActive(ctx context.Context, ip, reason string, expiresAt *time.Time, blockedBy string) (*models.BlockRecord, error) {
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return nil, ErrInvalidIPAddress
	}
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	var rec models.BlockRecord
	var err error
	// A second attempt covers losing a create race against another process:
	// the unique active index rejects our insert and the retry updates the
	// winner's row instead.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.now()
			findErr := tx.Where("ip_address = ? AND is_active = ?", key, true).Order("id desc").First(&rec).Error
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				rec = models.BlockRecord{
					UUID:      uuid.NewString(),
					IPAddress: key,
					Reason:    reason,
					BlockedAt: now,
					BlockedBy: blockedBy,
					ExpiresAt: expiresAt,
					IsActive:  true,
				}
				return tx.Create(&rec).Error
			}
			if findErr != nil {
				return findErr
			}
			rec.Reason = reason
			rec.BlockedAt = now
			rec.BlockedBy = blockedBy
			rec.ExpiresAt = expiresAt
			return tx.Save(&rec).Error
		})
		if err == nil {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%w: upsert %s: %w", ErrStoreUnavailable, key, err)
}

// Deactivate revokes the active record for ip. It returns false, and no
// error, when nothing was active.
func (s *BlockStore) Deactivate(ctx context.Context, ip, actor string) (bool, error) {
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return false, ErrInvalidIPAddress
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.BlockRecord{}).
		Where("ip_address = ? AND is_active = ?", key, true).
		Updates(map[string]interface{}{
			"is_active":    false,
			"unblocked_at": now,
			"unblocked_by": actor,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: deactivate %s: %w", ErrStoreUnavailable, key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListActive returns active, unexpired records, newest first. Expired rows
// that still carry is_active are left out; expiry is a condition, not a write.
func (s *BlockStore) ListActive(ctx context.Context) ([]models.BlockRecord, error) {
	var rows []models.BlockRecord
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("blocked_at desc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list active: %w", ErrStoreUnavailable, err)
	}

	now := s.now()
	out := rows[:0]
	for _, r := range rows {
		if r.IsEnforced(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Find returns the active record for ip, or failing that the most recent
// one, or ErrBlockNotFound.
func (s *BlockStore) Find(ctx context.Context, ip string) (*models.BlockRecord, error) {
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return nil, ErrInvalidIPAddress
	}

	var rec models.BlockRecord
	err := s.db.WithContext(ctx).
		Where("ip_address = ?", key).
		Order("is_active desc").
		Order("id desc").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("%w: find %s: %w", ErrStoreUnavailable, key, err)
	}
	return &rec, nil
}

// History returns every record ever written for ip, newest first.
func (s *BlockStore) History(ctx context.Context, ip string) ([]models.BlockRecord, error) {
	key, ok := util.NormalizeIP(ip)
	if !ok {
		return nil, ErrInvalidIPAddress
	}
	var rows []models.BlockRecord
	if err := s.db.WithContext(ctx).Where("ip_address = ?", key).Order("id desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: history %s: %w", ErrStoreUnavailable, key, err)
	}
	return rows, nil
}
