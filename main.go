package main

import (
	"github.com/cppla/benefits/config"
	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/routes"
	"github.com/cppla/benefits/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	r := routes.SetupRouter(db, utils.GetRedis())

	utils.Sugar.Infof("Starting server on port %s (driver=%s, graceful)", cfg.AppPort, cfg.DBDriver)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
