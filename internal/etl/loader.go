package etl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"reporting-etl/internal/dimension"
	"reporting-etl/internal/metrics"
	"reporting-etl/internal/storage"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// BatchLoader - пишет события в факт-таблицу пачками upsert
type BatchLoader struct {
	Resolver *dimension.Resolver
	Dialect  storage.Dialect
	Logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewBatchLoader(resolver *dimension.Resolver, dialect storage.Dialect, logger *zap.SugaredLogger) *BatchLoader {
	return &BatchLoader{
		Resolver: resolver,
		Dialect:  dialect,
		Logger:   logger,
		now:      time.Now,
	}
}

type dimKeys map[metric.Dimension]map[string]int64

// WriteBatch - один upsert на каждые chunkSize событий, всё в рамках q (обычно транзакции джоба).
// Ошибка любого чанка возвращается сразу; откат делает владелец транзакции.
func (l *BatchLoader) WriteBatch(ctx context.Context, q dimension.Querier, events []metric.Event, chunkSize int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: %d", myErr.ErrInvalidChunkSize, chunkSize)
	}
	if len(events) == 0 {
		l.Logger.Info("Nothing to write")
		return nil
	}

	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
	}

	keys, err := l.resolveAll(ctx, q, events)
	if err != nil {
		return err
	}

	written := 0
	for start := 0; start < len(events); start += chunkSize {
		end := min(start+chunkSize, len(events))
		chunk := events[start:end]

		query := l.Dialect.Upsert(storage.FactTable, storage.FactColumns, storage.FactKeyColumns, storage.FactUpdateColumns, len(chunk))
		args := make([]any, 0, len(chunk)*len(storage.FactColumns))
		for _, evt := range chunk {
			args = append(args, l.factRow(evt, keys)...)
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			l.Logger.Errorw("Failed to upsert facts", "offset", start, "rows", len(chunk), zap.Error(err))
			return fmt.Errorf("upsert %s rows %d-%d: %w", storage.FactTable, start, end, err)
		}

		written += len(chunk)
		metrics.AddRowsWritten(storage.FactTable, len(chunk))
		l.Logger.Infow("upsert progress", "written", written, "total", len(events))
	}

	return nil
}

// resolveAll - разрешает все различные значения заранее, в фиксированном порядке:
// сначала метрика, затем измерения, значения по алфавиту
func (l *BatchLoader) resolveAll(ctx context.Context, q dimension.Querier, events []metric.Event) (dimKeys, error) {
	dims := append([]metric.Dimension{metric.DimMetric}, metric.FilterDimensions...)
	keys := make(dimKeys, len(dims))

	for _, d := range dims {
		distinct := make(map[string]struct{})
		for _, evt := range events {
			if v := evt.Filter(d); v != "" {
				distinct[v] = struct{}{}
			}
		}

		values := make([]string, 0, len(distinct))
		for v := range distinct {
			values = append(values, v)
		}
		sort.Strings(values)

		keys[d] = make(map[string]int64, len(values))
		for _, v := range values {
			key, err := l.Resolver.Resolve(ctx, q, d, v)
			if err != nil {
				return nil, err
			}
			keys[d][v] = key.Int64
		}
	}

	return keys, nil
}

// factRow - аргументы в порядке storage.FactColumns; измерение без фильтра хранится как 0
func (l *BatchLoader) factRow(evt metric.Event, keys dimKeys) []any {
	row := make([]any, 0, len(storage.FactColumns))
	row = append(row, evt.MetricDate.String(), keys[metric.DimMetric][evt.MetricName])
	for _, d := range metric.FilterDimensions {
		row = append(row, keys[d][evt.Filter(d)])
	}

	var target any
	if evt.TargetValue != nil {
		target = *evt.TargetValue
	}

	created := evt.CreatedAt
	if created.IsZero() {
		created = l.now()
	}

	return append(row, evt.MetricValue, target, evt.CurrencyOrDefault(), created.UTC())
}
