package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/openguardrails/openguardrails-sub000/store"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 初始化数据库表结构并为指定租户植入内置扫描器
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	tenantID := fs.String("tenant", "default", "Tenant to seed builtin scanners for")
	appID := fs.String("app", "", "Application scope for seeded scanners (empty for tenant level)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}

	st := store.NewStore(db, logger)
	if err := st.AutoMigrate(); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
	logger.Info("Database schema migrated")

	if err := store.SeedBuiltinScanners(db, *tenantID, *appID); err != nil {
		logger.Fatal("Failed to seed builtin scanners", zap.Error(err))
	}
	logger.Info("Builtin scanners seeded",
		zap.String("tenant_id", *tenantID),
		zap.String("application_id", *appID),
	)

	fmt.Println("Migration completed")
}
