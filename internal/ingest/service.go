package ingest

import (
	"context"

	"go.uber.org/zap"

	"reporting-etl/internal/types/metric"
)

type Service struct {
	repo   IngestRepo
	logger *zap.SugaredLogger
}

func NewService(repo IngestRepo, logger *zap.SugaredLogger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// ProcessEvent - проверяет событие и пишет его; невалидное событие возвращает ErrInvalidEvent
func (s *Service) ProcessEvent(ctx context.Context, event metric.Event) error {
	event.Currency = event.CurrencyOrDefault()

	if err := event.Validate(); err != nil {
		return err
	}

	if err := s.repo.SaveEvent(ctx, event); err != nil {
		return err
	}

	s.logger.Debugw("metric event stored", "key", event.Key(), "value", event.MetricValue)

	return nil
}
