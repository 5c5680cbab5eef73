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
	"reporting-etl/internal/ingest"
	"reporting-etl/internal/kafka"
	"reporting-etl/internal/metrics"
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewConfig()
	if err != nil {
		logger.Errorf("error to parsing config: %v", err)
		return 1
	}

	// init db
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

	// init ingest repository и service
	resolver := dimension.NewResolver(dialect, shared, logger)
	repo := ingest.NewRepository(db, etl.NewBatchLoader(resolver, dialect, logger), logger)
	service := ingest.NewService(repo, logger)

	// Init Kafka Consumer
	consumer := kafka.NewConsumer(kafka.NewFactory(c.CfgKafka), logger)
	defer consumer.Close()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consumer.Consume(ctx, service.ProcessEvent)
	}()

	// Init HTTP server
	handler := ingest.NewHandler(consumer, logger)
	r := metrics.NewRouter()
	r.HandleFunc("/health", handler.Health).Methods("GET")

	srv := metrics.NewServer(c.HTTPAddr, r)

	go func() {
		logger.Infof("Starting metric consumer on %s", c.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start server: %v", err)
			stop()
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		<-consumeErr
	case err := <-consumeErr:
		// потеря соединения: процесс завершается, перезапуск делает супервизор
		if err != nil {
			logger.Errorf("consumer stopped: %v", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server shutdown: %v", err)
	}

	return code
}
