package main

import (
	"context"
	"errors"
	"net/http"
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

	// init db
	db, dialect, err := storage.Open(ctx, c.CfgDB, logger)
	if err != nil {
		logger.Errorf("error to database start: %v", err)
		return 1
	}
	defer db.Close()

	// общий кэш измерений, если задан REDIS_ADDR
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

	runner := etl.NewRunnerFromConfig(c, db, dialect, shared, publisher, logger)

	if c.CfgETL.Every > 0 {
		// долгоживущий режим: метрики забирает Prometheus с /metrics
		srv := metrics.NewServer(c.HTTPAddr, metrics.NewRouter())
		go func() {
			logger.Infof("Serving metrics on %s", c.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Failed to start metrics server: %v", err)
			}
		}()

		runner.Loop(ctx, jobs.Jobs, c.CfgETL.Every)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("server shutdown: %v", err)
		}
		return 0
	}

	defer pushMetrics(c.PushgatewayURL, logger)

	rng, err := c.CfgETL.DateRange(metric.SingleDay(metric.Today()))
	if err != nil {
		logger.Errorf("invalid date range: %v", err)
		return 1
	}

	if err := runner.RunAll(ctx, jobs.Jobs, rng); err != nil {
		logger.Errorf("daily ETL failed: %v", err)
		return 1
	}

	logger.Info("Daily ETL completed")

	return 0
}

func pushMetrics(url string, logger *zap.SugaredLogger) {
	if err := metrics.Push(url, "etl-daily"); err != nil {
		logger.Warnf("metrics push failed: %v", err)
	}
}
