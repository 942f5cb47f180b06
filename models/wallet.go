// models/wallet.go
package models

import (
	"time"
)

// Wallet is the custodial wallet record for a user. Key material is generated
// and held by this service; the record is created once per user and only the
// IsActivated flag is ever mutated afterwards (flipped after confirmed funding).
type Wallet struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"uniqueIndex;not null" json:"user_id"`
	PublicKey   string    `gorm:"uniqueIndex;not null;type:varchar(64)" json:"public_key"`
	PrivateKey  string    `gorm:"not null" json:"-"` // base64-encoded raw secret key bytes
	Mnemonic    string    `gorm:"not null" json:"-"` // 12-word recovery phrase
	IsActivated bool      `gorm:"not null;default:false" json:"is_activated"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
