package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/controllers"
	"github.com/cppla/benefits/middleware"
	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// SetupRouter wires routes, middlewares, and controllers. rc may be nil, which disables the listing cache.
func SetupRouter(db *gorm.DB, rc *redis.Client) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	// Access log goes to its own rolling file; app logs stay on utils.Logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, true))
	} else {
		utils.Sugar.Warnf("gin access log disabled: %v", err)
		r.Use(utils.RecoveryWithZap(utils.Logger, true))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", controllers.IdempotencyKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	var cache services.ListingCache
	if rc != nil {
		cache = utils.NewRedisCache(rc)
	}
	logger := utils.Logger
	catalog := services.NewCatalogStore(db, cache, time.Duration(cfg.CacheTTLSeconds)*time.Second, logger.Named("catalog"))
	ledger := services.NewCoinLedger(db, logger.Named("ledger"))
	engineOpts := []services.EngineOption{services.WithCommentMax(cfg.RedemptionCommentMax)}
	if n := services.NewMailNotifier(cfg.NotifyEmail, utils.SendMail); n != nil {
		engineOpts = append(engineOpts, services.WithNotifier(n))
	}
	engine := services.NewRedemptionEngine(db, ledger, logger.Named("redemption"), engineOpts...)

	authController := controllers.NewAuthController(db, ledger)
	benefitController := controllers.NewBenefitController(catalog)
	redemptionController := controllers.NewRedemptionController(engine, ledger)
	coinsController := controllers.NewCoinsController(ledger)
	statsController := controllers.NewStatsController(services.NewStatsService(db))

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	userGroup := api.Group("/benefits/user", middleware.AuthRequired())
	userGroup.GET("/available", benefitController.ListAvailable)
	userGroup.GET("/balance", redemptionController.Balance)
	userGroup.GET("/redeemed", redemptionController.ListMine)
	userGroup.POST("/redeem", middleware.RateLimit(cfg.RedeemRateLimitPerMinute), redemptionController.Redeem)

	adminGroup := api.Group("", middleware.AuthRequired(), middleware.AdminRequired())
	adminGroup.GET("/benefits", benefitController.ListAll)
	adminGroup.POST("/benefits", benefitController.Create)
	adminGroup.GET("/benefits/stats", statsController.GetStats)
	adminGroup.PUT("/benefits/:id", benefitController.Update)
	adminGroup.DELETE("/benefits/:id", benefitController.Delete)
	adminGroup.PATCH("/benefits/:id/toggle", benefitController.Toggle)
	adminGroup.GET("/benefits-redeemed", redemptionController.ListAll)
	adminGroup.POST("/users/:id/coins", coinsController.Credit)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
