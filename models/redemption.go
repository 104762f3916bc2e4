package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BenefitRedemption is the append-only evidence that a user exchanged coins
// for a benefit. The benefit fields are a snapshot taken at redemption time.
type BenefitRedemption struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	UserID             uint      `gorm:"not null;index;uniqueIndex:idx_redemptions_user_idem,priority:1" json:"user_id"`
	BenefitID          string    `gorm:"size:36;not null;index" json:"benefit_id"`
	BenefitTitle       string    `gorm:"size:255;not null" json:"benefit_title"`
	BenefitDescription string    `gorm:"type:text" json:"benefit_description"`
	CoinCost           int64     `gorm:"not null" json:"coin_cost"`
	Comment            string    `gorm:"type:text" json:"comment,omitempty"`
	IdempotencyKey     *string   `gorm:"size:128;uniqueIndex:idx_redemptions_user_idem,priority:2" json:"-"`
	RedeemedAt         time.Time `gorm:"not null;index" json:"redeemed_at"`
}

// BeforeCreate assigns the id and the redemption timestamp.
func (r *BenefitRedemption) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = time.Now()
	}
	return nil
}

// RedemptionView is a redemption joined with the redeeming user's identity,
// used by the administrator listing.
type RedemptionView struct {
	BenefitRedemption
	Username string `json:"username"`
	Email    string `json:"email"`
}

// All returns the models managed by AutoMigrate, in dependency order.
func All() []interface{} {
	return []interface{}{&User{}, &UserDetails{}, &Benefit{}, &BenefitRedemption{}}
}
