package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"reporting-etl/internal/app"
	"reporting-etl/internal/dimension"
	"reporting-etl/internal/etl"
	"reporting-etl/internal/kafka"
	"reporting-etl/internal/metrics"
	"reporting-etl/internal/storage"
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

func run(logger *zap.SugaredLogger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewConfig()
	if err != nil {
		logger.Errorf("error to parsing config: %v", err)
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

	// по умолчанию с начала года по сегодня
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

	var shared dimension.SharedCache
	if c.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		defer redisClient.Close()
		shared = dimension.NewRedisCache(redisClient, logger, 24*time.Hour)
	}

	var publisher etl.EventPublisher
	if len(c.CfgKafka.Brokers) > 0 {
		producer := kafka.NewProducer(kafka.NewFactory(c.CfgKafka), logger)
		defer producer.Close()
		publisher = producer
	}

	defer pushMetrics(c.PushgatewayURL, logger)

	runner := etl.NewRunnerFromConfig(c, db, dialect, shared, publisher, logger)

	if err := runner.Backfill(ctx, jobs.Jobs, rng, interval); err != nil {
		logger.Errorf("historical ETL failed: %v", err)
		return 1
	}

	logger.Infof("Historical ETL completed for %s", rng)

	return 0
}

func pushMetrics(url string, logger *zap.SugaredLogger) {
	if err := metrics.Push(url, "etl-historical"); err != nil {
		logger.Warnf("metrics push failed: %v", err)
	}
}
