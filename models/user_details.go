package models

import "time"

// UserDetails holds the profile data owned by this service, most importantly
// the redeemable coin balance. There is exactly one row per user.
type UserDetails struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Coins     int64     `gorm:"not null;default:0;check:chk_user_details_coins,coins >= 0" json:"coins"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name singular-plural neutral across dialects.
func (UserDetails) TableName() string {
	return "user_details"
}
