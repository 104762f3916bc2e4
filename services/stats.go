package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/benefits/models"
)

// BenefitCount is a benefit title with its redemption count.
type BenefitCount struct {
	BenefitID    string `json:"benefit_id"`
	BenefitTitle string `json:"benefit_title"`
	Redemptions  int64  `json:"redemptions"`
}

// DashboardStats aggregates catalog and redemption counters for administrators.
type DashboardStats struct {
	BenefitCount      int64          `json:"benefit_count"`
	ActiveBenefits    int64          `json:"active_benefit_count"`
	RedemptionCount   int64          `json:"redemption_count"`
	CoinsRedeemed     int64          `json:"coins_redeemed"`
	RedemptionsLast24 int64          `json:"redemptions_last_24h"`
	CoinsOutstanding  int64          `json:"coins_outstanding"`
	TopBenefits       []BenefitCount `json:"top_benefits"`
}

// StatsService computes dashboard statistics.
type StatsService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStatsService creates a StatsService.
func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{db: db, now: time.Now}
}

// Dashboard returns the current counters. Individual counters fall back to zero on failure.
func (s *StatsService) Dashboard(ctx context.Context) DashboardStats {
	db := s.db.WithContext(ctx)
	var st DashboardStats

	if err := db.Model(&models.Benefit{}).Count(&st.BenefitCount).Error; err != nil {
		st.BenefitCount = 0
	}
	if err := db.Model(&models.Benefit{}).Where("active = ?", true).Count(&st.ActiveBenefits).Error; err != nil {
		st.ActiveBenefits = 0
	}
	if err := db.Model(&models.BenefitRedemption{}).Count(&st.RedemptionCount).Error; err != nil {
		st.RedemptionCount = 0
	}
	if err := db.Model(&models.BenefitRedemption{}).
		Select("COALESCE(SUM(coin_cost),0)").
		Scan(&st.CoinsRedeemed).Error; err != nil {
		st.CoinsRedeemed = 0
	}
	if err := db.Model(&models.BenefitRedemption{}).
		Where("redeemed_at >= ?", s.now().Add(-24*time.Hour)).
		Count(&st.RedemptionsLast24).Error; err != nil {
		st.RedemptionsLast24 = 0
	}
	if err := db.Model(&models.UserDetails{}).
		Select("COALESCE(SUM(coins),0)").
		Scan(&st.CoinsOutstanding).Error; err != nil {
		st.CoinsOutstanding = 0
	}

	st.TopBenefits = []BenefitCount{}
	if err := db.Model(&models.BenefitRedemption{}).
		Select("benefit_id, MAX(benefit_title) AS benefit_title, COUNT(*) AS redemptions").
		Group("benefit_id").
		Order("redemptions DESC").Order("benefit_id").
		Limit(5).
		Scan(&st.TopBenefits).Error; err != nil {
		st.TopBenefits = []BenefitCount{}
	}
	return st
}
