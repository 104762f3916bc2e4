package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// InitDatabase opens the configured database once, migrates modelDefs and exits the process on failure.
func InitDatabase(modelDefs ...interface{}) *gorm.DB {
	if db != nil {
		return db
	}
	opened, err := OpenDatabase(Get(), modelDefs...)
	if err != nil {
		log.Fatalf("failed to initialise database: %v", err)
	}
	db = opened
	return db
}

// OpenDatabase connects to the driver selected by cfg.DBDriver, tunes the pool and runs AutoMigrate.
func OpenDatabase(cfg AppConfig, modelDefs ...interface{}) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	// Derive SQL log level from app LogLevel; slow-sql threshold kept high to reduce noise
	gLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  toGormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gormCfg := &gorm.Config{
		Logger:         gLogger,
		TranslateError: true,
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		// One writer at a time; concurrent transactions queue on the pool instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	// Ping at boot to surface network/auth problems before the first query
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if len(modelDefs) > 0 {
		if err := conn.AutoMigrate(modelDefs...); err != nil {
			return nil, fmt.Errorf("auto migration failed: %w", err)
		}
	}
	return conn, nil
}

func dialectorFor(cfg AppConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.DBDriver) {
	case "", "mysql":
		dsn := cfg.DatabaseURI
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.DBUser,
				cfg.DBPassword,
				cfg.DBHost,
				cfg.DBPort,
				cfg.DBName,
			)
		}
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		dsn := cfg.DatabaseURI
		if dsn == "" {
			port := cfg.DBPort
			if port == "3306" {
				port = "5432"
			}
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				cfg.DBHost, port, cfg.DBUser, cfg.DBPassword, cfg.DBName)
		}
		return postgres.Open(dsn), nil
	case "sqlite", "sqlite3":
		dsn := cfg.DatabaseURI
		if dsn == "" {
			dsn = cfg.DBName + ".db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// toGormLogLevel maps application LogLevel to GORM's logger level.
func toGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		// GORM 'Info' shows SQL; use with caution
		return logger.Info
	case "info", "", "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Warn
	}
}
