package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// StatsController provides dashboard statistics for administrators.
type StatsController struct {
	stats *services.StatsService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(stats *services.StatsService) *StatsController {
	return &StatsController{stats: stats}
}

// GetStats returns aggregate catalog and redemption counters.
func (s *StatsController) GetStats(ctx *gin.Context) {
	utils.Success(ctx, s.stats.Dashboard(ctx.Request.Context()))
}
