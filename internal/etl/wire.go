package etl

import (
	"go.uber.org/zap"

	"reporting-etl/internal/app"
	"reporting-etl/internal/dimension"
	"reporting-etl/internal/storage"
)

// NewRunnerFromConfig - собирает пайплайн целиком; shared и publisher могут быть nil
func NewRunnerFromConfig(
	cfg *app.Config,
	db TxBeginner,
	dialect storage.Dialect,
	shared dimension.SharedCache,
	publisher EventPublisher,
	logger *zap.SugaredLogger,
) *Runner {
	resolver := dimension.NewResolver(dialect, shared, logger)

	return NewRunner(
		db,
		NewAPIExtractor(cfg.CfgAPI.BaseURL, cfg.CfgAPI.Timeout, logger),
		NewTransformer(logger),
		NewExecutor(logger),
		NewBatchLoader(resolver, dialect, logger),
		NewSnapshotLoader(dialect, logger),
		resolver,
		publisher,
		logger,
		RunnerConfig{
			MaxConcurrency: cfg.CfgETL.MaxConcurrency,
			BatchSize:      cfg.CfgETL.BatchSize,
			Throttle:       cfg.CfgETL.Throttle,
			Currency:       cfg.CfgETL.Currency,
		},
	)
}
