package ingest

import (
	"context"

	"reporting-etl/internal/kafka"
	"reporting-etl/internal/types/metric"
)

// IngestRepo - запись одного события метрики в факт-таблицу.
type IngestRepo interface {
	SaveEvent(ctx context.Context, event metric.Event) error
}

// IngestService - обработка событий из топика метрик.
type IngestService interface {
	ProcessEvent(ctx context.Context, event metric.Event) error
}

// StateReporter - состояние консьюмера для /health.
type StateReporter interface {
	State() kafka.State
}
