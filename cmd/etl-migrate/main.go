package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"reporting-etl/internal/app"
	"reporting-etl/internal/storage"
)

func main() {
	// init logger
	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	logger := zapLogger.Sugar()

	code := run(logger)

	_ = zapLogger.Sync()
	os.Exit(code)
}

func run(logger *zap.SugaredLogger) int {
	c, err := app.NewConfig()
	if err != nil {
		logger.Errorf("error to parsing config: %v", err)
		return 1
	}
	// миграции содержат несколько statements в одном файле
	c.CfgDB.MultiStatements = true

	db, dialect, err := storage.Open(context.Background(), c.CfgDB, logger)
	if err != nil {
		logger.Errorf("error to database start: %v", err)
		return 1
	}
	defer db.Close()

	if err := storage.MigrateUp(db, dialect, logger); err != nil {
		logger.Errorf("migration failed: %v", err)
		return 1
	}

	return 0
}
