package etl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"reporting-etl/internal/dimension"
	"reporting-etl/internal/metrics"
	"reporting-etl/internal/types/metric"
)

// TxBeginner - *sql.DB
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// EventPublisher - продюсер Event Relay; ошибки публикации он логирует сам
type EventPublisher interface {
	PublishBatch(ctx context.Context, events []metric.Event)
}

type RunnerConfig struct {
	MaxConcurrency int
	BatchSize      int
	Throttle       time.Duration
	Currency       string
}

// Runner - выполняет джобы: задачи -> executor -> загрузчик или relay.
// Каждый джоб (и каждый поддиапазон бэкфилла) пишет в своей транзакции.
type Runner struct {
	db          TxBeginner
	extractor   *APIExtractor
	transformer *Transformer
	executor    *Executor
	loader      *BatchLoader
	snapshots   *SnapshotLoader
	resolver    *dimension.Resolver
	publisher   EventPublisher
	logger      *zap.SugaredLogger
	cfg         RunnerConfig

	sleep func(ctx context.Context, d time.Duration) error
	today func() metric.Date
}

func NewRunner(
	db TxBeginner,
	extractor *APIExtractor,
	transformer *Transformer,
	executor *Executor,
	loader *BatchLoader,
	snapshots *SnapshotLoader,
	resolver *dimension.Resolver,
	publisher EventPublisher,
	logger *zap.SugaredLogger,
	cfg RunnerConfig,
) *Runner {
	return &Runner{
		db:          db,
		extractor:   extractor,
		transformer: transformer,
		executor:    executor,
		loader:      loader,
		snapshots:   snapshots,
		resolver:    resolver,
		publisher:   publisher,
		logger:      logger,
		cfg:         cfg,
		sleep:       sleepCtx,
		today:       metric.Today,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchEvent - FetchFunc для output=total
func (r *Runner) fetchEvent(ctx context.Context, q Query) (*metric.Event, error) {
	resp, err := r.extractor.FetchTotal(ctx, q)
	if err != nil {
		return nil, err
	}

	evt, err := r.transformer.ToEvent(q, resp)
	if err != nil {
		return nil, err
	}

	return &evt, nil
}

// RunJob - один джоб на диапазоне; снапшоты диапазон игнорируют
func (r *Runner) RunJob(ctx context.Context, job Job, rng metric.DateRange) error {
	return r.runJob(ctx, uuid.NewString(), job, rng)
}

func (r *Runner) runJob(ctx context.Context, runID string, job Job, rng metric.DateRange) (err error) {
	start := time.Now()
	log := r.logger.With("run_id", runID, "job", job.Name, "metric", job.Metric)
	if job.Dated() {
		log = log.With("range", rng.String())
	}

	defer func() {
		metrics.ObserveJobRun(job.Name, err)
		if err != nil {
			log.Errorw("Job failed", "duration", time.Since(start), zap.Error(err))
			return
		}
		log.Infow("job finished", "duration", time.Since(start))
	}()

	switch job.Kind {
	case KindSnapshotRows:
		return r.runRows(ctx, job)
	case KindSnapshotTotal:
		return r.runTotals(ctx, job, []metric.Date{{}}, log)
	default:
		return r.runTotals(ctx, job, rng.Dates(), log)
	}
}

func (r *Runner) runTotals(ctx context.Context, job Job, dates []metric.Date, log *zap.SugaredLogger) error {
	tmpl := TaskTemplate{
		Metric:      job.Metric,
		Currency:    r.cfg.Currency,
		Output:      OutputTotal,
		IncludeBase: job.IncludeBase,
	}
	tasks := BuildTasks(r.fetchEvent, tmpl, dates, job.Dimensions)
	log.Infof("Built %d fetch tasks", len(tasks))

	events, err := r.executor.RunTasks(ctx, tasks, r.cfg.MaxConcurrency)
	if err != nil {
		return err
	}
	log.Infof("Fetched %d of %d events", len(events), len(tasks))

	if job.Sink == SinkRelay {
		if r.publisher != nil {
			r.publisher.PublishBatch(ctx, events)
			return nil
		}
		log.Warn("relay is not configured, writing directly")
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.loader.WriteBatch(ctx, tx, events, r.cfg.BatchSize)
	})
}

func (r *Runner) runRows(ctx context.Context, job Job) error {
	q := Query{
		Metric:   job.Metric,
		Currency: r.cfg.Currency,
		Output:   OutputRows,
	}

	raw, err := r.extractor.FetchRows(ctx, q)
	if err != nil {
		return err
	}
	rows := r.transformer.ToCandidateRows(raw)

	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.snapshots.Write(ctx, tx, rows, r.today(), r.cfg.BatchSize)
	})
}

// withTx - откат при любой ошибке; после отката кэш измерений сбрасывается,
// так как в нём могут быть ключи откатившихся вставок
func (r *Runner) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		r.resolver.Reset()
		return err
	}

	if err := tx.Commit(); err != nil {
		r.resolver.Reset()
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// RunAll - джобы по очереди; ошибка одного не останавливает остальные
func (r *Runner) RunAll(ctx context.Context, jobs []Job, rng metric.DateRange) error {
	r.resolver.Reset()

	runID := uuid.NewString()
	r.logger.Infow("ETL run started", "run_id", runID, "jobs", len(jobs), "range", rng.String())

	var result *multierror.Error
	for _, job := range jobs {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}
		if err := r.runJob(ctx, runID, job, rng); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", job.Name, err))
		}
	}

	r.logger.Infow("ETL run finished", "run_id", runID, "failed", failedCount(result))

	return result.ErrorOrNil()
}

// Backfill - датированные джобы по поддиапазонам interval с паузой между ними,
// затем снапшоты один раз. Закоммиченные поддиапазоны при падении не теряются.
func (r *Runner) Backfill(ctx context.Context, jobs []Job, rng metric.DateRange, interval metric.Interval) error {
	ranges, err := metric.SplitRange(rng, interval)
	if err != nil {
		return err
	}

	r.resolver.Reset()

	runID := uuid.NewString()
	r.logger.Infow("Backfill started", "run_id", runID, "range", rng.String(), "interval", interval, "subranges", len(ranges))

	var result *multierror.Error
	for i, sub := range ranges {
		r.logger.Infow("backfill subrange", "run_id", runID, "index", i+1, "of", len(ranges), "range", sub.String())

		for _, job := range jobs {
			if !job.Dated() {
				continue
			}
			if err := r.runJob(ctx, runID, job, sub); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s %s: %w", job.Name, sub, err))
			}
		}

		if i < len(ranges)-1 {
			if err := r.sleep(ctx, r.cfg.Throttle); err != nil {
				return multierror.Append(result, err).ErrorOrNil()
			}
		}
	}

	for _, job := range jobs {
		if job.Dated() {
			continue
		}
		if err := r.runJob(ctx, runID, job, rng); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", job.Name, err))
		}
	}

	r.logger.Infow("Backfill finished", "run_id", runID, "failed", failedCount(result))

	return result.ErrorOrNil()
}

// Loop - RunAll за сегодняшний день сразу и затем каждые every, до отмены ctx
func (r *Runner) Loop(ctx context.Context, jobs []Job, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	r.logger.Infow("ETL loop started", "every", every)

	for {
		if err := r.RunAll(ctx, jobs, metric.SingleDay(r.today())); err != nil {
			r.logger.Errorw("ETL iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func failedCount(err *multierror.Error) int {
	if err == nil {
		return 0
	}

	return len(err.Errors)
}
