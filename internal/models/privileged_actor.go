package models

import "time"

// PrivilegedActor lists the actors allowed to use the security management
// surface. The set lives in the database so it can change without a deploy.
type PrivilegedActor struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ActorID    string    `json:"actor_id" gorm:"uniqueIndex"`
	Role       string    `json:"role" gorm:"default:'admin'"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
