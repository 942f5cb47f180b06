// models/saved_wallet.go
package models

import (
	"time"
)

// SavedWallet is an external address bookmarked by a user for sends.
// Capped at 4 per user — the cap is enforced in the wallet service before insert.
type SavedWallet struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Label     string    `gorm:"type:varchar(64);not null" json:"label"`
	Address   string    `gorm:"type:varchar(64);not null" json:"address"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
