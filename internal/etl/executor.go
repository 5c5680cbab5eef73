package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// ProgressFunc - вызывается после каждой группы задач
type ProgressFunc func(processed, total int)

// Executor - выполняет задачи группами не больше maxConcurrency одновременно
type Executor struct {
	Logger   *zap.SugaredLogger
	Progress ProgressFunc
}

func NewExecutor(logger *zap.SugaredLogger) *Executor {
	return &Executor{Logger: logger}
}

// RunTasks - группы идут последовательно, задачи внутри группы параллельно.
// Упавшая задача не даёт строки и не останавливает пакет; останавливают только
// ошибки целостности измерений. Порядок результата не гарантируется.
func (e *Executor) RunTasks(ctx context.Context, tasks []FetchTask, maxConcurrency int) ([]metric.Event, error) {
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("%w: %d", myErr.ErrInvalidConcurrency, maxConcurrency)
	}

	total := len(tasks)
	events := make([]metric.Event, 0, total)
	failed := 0

	for start := 0; start < total; start += maxConcurrency {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		end := min(start+maxConcurrency, total)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range tasks[start:end] {
			task := task
			g.Go(func() error {
				evt, err := task.Run(gctx)
				if err != nil {
					if isFatal(err) {
						return err
					}
					e.Logger.Warnw("fetch task failed", "task", task.Query.String(), zap.Error(err))
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}
				if evt == nil {
					return nil
				}

				mu.Lock()
				events = append(events, *evt)
				mu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			e.Logger.Errorw("Fetch batch aborted", zap.Error(err))
			return events, err
		}

		e.report(end, total)
	}

	if failed > 0 {
		e.Logger.Warnf("%d of %d fetch tasks failed", failed, total)
	}

	return events, nil
}

func (e *Executor) report(processed, total int) {
	percent := 100.0
	if total > 0 {
		percent = float64(processed) * 100 / float64(total)
	}
	e.Logger.Infow("fetch progress", "processed", processed, "total", total, "percent", fmt.Sprintf("%.1f", percent))

	if e.Progress != nil {
		e.Progress(processed, total)
	}
}

func isFatal(err error) bool {
	return errors.Is(err, myErr.ErrDimensionInconsistent) || errors.Is(err, myErr.ErrUnknownDimension)
}
