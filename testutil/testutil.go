// Package testutil provides a throwaway SQLite database and seed helpers for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/utils"
)

// TestSecret signs tokens in tests.
const TestSecret = "test-secret-0123456789abcdef"

// NewDB returns a migrated SQLite database in a temp dir. The pool holds a single
// connection, so concurrent transactions run one after another.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "benefits.db")
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: path + "?_foreign_keys=on&_busy_timeout=5000",
		LogLevel:    "silent",
	}, models.All()...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// UseConfig installs a test configuration with a temp access log and returns it.
func UseConfig(t *testing.T, mutate ...func(*config.AppConfig)) config.AppConfig {
	t.Helper()
	cfg := config.AppConfig{
		JWTSecret:          TestSecret,
		GinMode:            "test",
		GinPath:            filepath.Join(t.TempDir(), "gin.log"),
		LogLevel:           "silent",
		RateLimitPerMinute: 1000,
		AdminUsernames:     []string{"root"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	config.Set(cfg)
	return config.Get()
}

// CreateUser inserts a user with the given role and coin balance.
func CreateUser(t *testing.T, db *gorm.DB, username, role string, coins int64) models.User {
	t.Helper()
	user := models.User{Username: username, Email: username + "@example.com", Role: role}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.UserDetails{UserID: user.ID, Coins: coins}).Error)
	return user
}

// CreateBenefit inserts a benefit.
func CreateBenefit(t *testing.T, db *gorm.DB, title string, cost int64, active bool) models.Benefit {
	t.Helper()
	benefit := models.Benefit{Title: title, Description: title + " description", CoinCost: cost, Active: active}
	require.NoError(t, db.Create(&benefit).Error)
	return benefit
}

// Balance reads the stored balance directly.
func Balance(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var details models.UserDetails
	require.NoError(t, db.Where("user_id = ?", userID).First(&details).Error)
	return details.Coins
}

// CountRedemptions counts redemption records for the user.
func CountRedemptions(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.BenefitRedemption{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// Token issues a bearer token for user.
func Token(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, time.Hour)
	require.NoError(t, err)
	return token
}
