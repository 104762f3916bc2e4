package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Benefit is a catalog entry redeemable for a fixed number of coins.
type Benefit struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	CoinCost    int64     `gorm:"not null;check:chk_benefits_coin_cost,coin_cost >= 0" json:"coin_cost"`
	Active      bool      `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate assigns a random id when the caller did not choose one.
func (b *Benefit) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
