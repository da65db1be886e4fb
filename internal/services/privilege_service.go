package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/warden/internal/models"
)

var (
	ErrActorNotFound = errors.New("privileged actor not found")
	ErrAPIKeyInvalid = errors.New("API key invalid")
)

// PrivilegeService decides who may use the security management surface.
type PrivilegeService struct {
	db *gorm.DB
}

// NewPrivilegeService returns a PrivilegeService using the provided DB
func NewPrivilegeService(db *gorm.DB) *PrivilegeService {
	return &PrivilegeService{db: db}
}

// IsPrivileged reports whether actorID is on the privileged list.
func (s *PrivilegeService) IsPrivileged(ctx context.Context, actorID string) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.PrivilegedActor{}).Where("actor_id = ?", actorID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Seed adds actorIDs that are not already present. Existing rows, and their
// API keys, are left alone.
func (s *PrivilegeService) Seed(ctx context.Context, actorIDs []string) error {
	for _, id := range actorIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		row := models.PrivilegedActor{ActorID: id, Role: "admin"}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// List returns every privileged actor.
func (s *PrivilegeService) List(ctx context.Context) ([]models.PrivilegedActor, error) {
	var actors []models.PrivilegedActor
	if err := s.db.WithContext(ctx).Order("actor_id").Find(&actors).Error; err != nil {
		return nil, err
	}
	return actors, nil
}

// IssueAPIKey generates a key for actorID, stores its bcrypt hash, and
// returns the plaintext key. Any previous key stops working.
func (s *PrivilegeService) IssueAPIKey(ctx context.Context, actorID string) (string, error) {
	var actor models.PrivilegedActor
	if err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrActorNotFound
		}
		return "", err
	}

	keyBytes := make([]byte, 24)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	key := hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	actor.APIKeyHash = string(hash)
	if err := s.db.WithContext(ctx).Save(&actor).Error; err != nil {
		return "", err
	}
	return key, nil
}

// VerifyAPIKey checks key against the stored hash for actorID.
func (s *PrivilegeService) VerifyAPIKey(ctx context.Context, actorID, key string) (bool, error) {
	var actor models.PrivilegedActor
	if err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrActorNotFound
		}
		return false, err
	}
	if actor.APIKeyHash == "" || key == "" {
		return false, ErrAPIKeyInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(actor.APIKeyHash), []byte(key)); err != nil {
		return false, ErrAPIKeyInvalid
	}
	return true, nil
}
