package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Seller owns a wallet. WalletBalanceCents is a cached projection of the ledger.
type Seller struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name               string    `gorm:"column:name;not null"`
	WalletBalanceCents int64     `gorm:"column:wallet_balance_cents;not null;default:0"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (s *Seller) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
