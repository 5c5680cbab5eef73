package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"reporting-etl/internal/app"
	"reporting-etl/internal/etl"
	"reporting-etl/internal/metrics"
	"reporting-etl/internal/storage"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
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

// run - очищает факт-таблицу и заново загружает год по сегодня.
// Перезагрузка пишет только напрямую: relay-джобы тоже идут в БД.
func run(logger *zap.SugaredLogger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewConfig()
	if err != nil {
		logger.Errorf("error to parsing config: %v", err)
		return 1
	}

	if !c.CfgETL.TruncateConfirmed() {
		logger.Error(myErr.ErrTruncateNotConfirmed)
		return 1
	}

	jobs, err := etl.NewJobsConfig(c.CfgETL.JobsFile)
	if err != nil {
		logger.Errorf("error to parsing jobs: %v", err)
		return 1
	}
	if jobs.Currency != "" {
		c.CfgETL.Currency = jobs.Currency
	}

	rng, err := c.CfgETL.DateRange(metric.YearToDate(metric.Today()))
	if err != nil {
		logger.Errorf("invalid date range: %v", err)
		return 1
	}
	interval, err := metric.ParseInterval(c.CfgETL.Interval)
	if err != nil {
		logger.Errorf("invalid interval: %v", err)
		return 1
	}

	db, dialect, err := storage.Open(ctx, c.CfgDB, logger)
	if err != nil {
		logger.Errorf("error to database start: %v", err)
		return 1
	}
	defer db.Close()

	defer pushMetrics(c.PushgatewayURL, logger)

	if err := storage.TruncateFacts(ctx, db, logger); err != nil {
		return 1
	}

	runner := etl.NewRunnerFromConfig(c, db, dialect, nil, nil, logger)

	if err := runner.Backfill(ctx, jobs.Jobs, rng, interval); err != nil {
		logger.Errorf("reload failed: %v", err)
		return 1
	}

	logger.Infof("Reload completed for %s", rng)

	return 0
}

func pushMetrics(url string, logger *zap.SugaredLogger) {
	if err := metrics.Push(url, "etl-reload"); err != nil {
		logger.Warnf("metrics push failed: %v", err)
	}
}
