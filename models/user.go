package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles recognised by the admin guard.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string         `gorm:"size:255" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	Role         string         `gorm:"size:16;not null;default:'user'" json:"role"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	Details      *UserDetails   `gorm:"foreignKey:UserID" json:"details,omitempty"`
}

// BeforeCreate hook ensures timestamps and role are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
