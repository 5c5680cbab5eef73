package dimension

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"reporting-etl/internal/metrics"
	"reporting-etl/internal/storage"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// Querier - *sql.DB, *sql.Tx и *sql.Conn
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SharedCache - кэш ключей, общий для процессов (например Redis)
type SharedCache interface {
	Get(ctx context.Context, dim metric.Dimension, value string) (int64, bool, error)
	Set(ctx context.Context, dim metric.Dimension, value string, id int64) error
}

// Outcome - как был получен ключ
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCached
	OutcomeShared
	OutcomeFound
	OutcomeInserted
	OutcomeInconsistent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCached:
		return "cached"
	case OutcomeShared:
		return "shared"
	case OutcomeFound:
		return "found"
	case OutcomeInserted:
		return "inserted"
	case OutcomeInconsistent:
		return "inconsistent"
	}

	return "unknown"
}

type cacheKey struct {
	dim   metric.Dimension
	value string
}

// Resolver - отображает значение измерения в стабильный суррогатный ключ.
// Кэш живёт в рамках запуска пайплайна и сбрасывается через Reset.
type Resolver struct {
	dialect storage.Dialect
	cache   *ttlcache.Cache[cacheKey, int64]
	shared  SharedCache
	Logger  *zap.SugaredLogger
}

func NewResolver(dialect storage.Dialect, shared SharedCache, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{
		dialect: dialect,
		cache:   ttlcache.New[cacheKey, int64](),
		shared:  shared,
		Logger:  logger,
	}
}

// Resolve - возвращает ключ значения; для пустого значения невалидный NullInt64 ("без фильтра")
func (r *Resolver) Resolve(ctx context.Context, q Querier, dim metric.Dimension, value string) (sql.NullInt64, error) {
	id, outcome, err := r.resolve(ctx, q, dim, value)
	metrics.ObserveDimensionLookup(outcome.String())
	if err != nil {
		return sql.NullInt64{}, err
	}
	if outcome == OutcomeSkipped {
		return sql.NullInt64{}, nil
	}

	return sql.NullInt64{Int64: id, Valid: true}, nil
}

func (r *Resolver) resolve(ctx context.Context, q Querier, dim metric.Dimension, value string) (int64, Outcome, error) {
	if value == "" {
		return 0, OutcomeSkipped, nil
	}
	if !dim.Valid() {
		return 0, OutcomeInconsistent, fmt.Errorf("%w: %q", myErr.ErrUnknownDimension, dim)
	}

	key := cacheKey{dim: dim, value: value}
	if item := r.cache.Get(key); item != nil {
		return item.Value(), OutcomeCached, nil
	}

	if r.shared != nil {
		id, ok, err := r.shared.Get(ctx, dim, value)
		if err != nil {
			r.Logger.Warnw("shared dimension cache read failed", "dimension", dim, zap.Error(err))
		} else if ok {
			r.cache.Set(key, id, ttlcache.DefaultTTL)
			return id, OutcomeShared, nil
		}
	}

	id, outcome, err := r.lookup(ctx, q, dim, value)
	switch outcome {
	case OutcomeFound, OutcomeInserted:
		r.cache.Set(key, id, ttlcache.DefaultTTL)
		// только что вставленный ключ ещё не закоммичен, в общий кэш он попадёт при следующем поиске
		if r.shared != nil && outcome == OutcomeFound {
			if err := r.shared.Set(ctx, dim, value, id); err != nil {
				r.Logger.Warnw("shared dimension cache write failed", "dimension", dim, zap.Error(err))
			}
		}
		if outcome == OutcomeInserted {
			r.Logger.Debugw("dimension value added", "dimension", dim, "value", value, "id", id)
		}

		return id, outcome, nil
	default:
		if err == nil {
			err = fmt.Errorf("%w: %s=%q", myErr.ErrDimensionInconsistent, dim, value)
		}
		r.Logger.Errorw("Failed to resolve dimension", "dimension", dim, "value", value, zap.Error(err))

		return 0, OutcomeInconsistent, err
	}
}

// lookup - SELECT; при отсутствии INSERT IGNORE и повторный SELECT.
// Повторный SELECT берёт ключ, вставленный конкурентом, если он успел первым.
func (r *Resolver) lookup(ctx context.Context, q Querier, dim metric.Dimension, value string) (int64, Outcome, error) {
	selectQuery := storage.SelectDimension(r.dialect, dim.Table(), dim.NameColumn())

	id, found, err := selectID(ctx, q, selectQuery, value)
	if err != nil {
		return 0, OutcomeInconsistent, err
	}
	if found {
		return id, OutcomeFound, nil
	}

	if _, err := q.ExecContext(ctx, r.dialect.InsertIgnore(dim.Table(), dim.NameColumn()), value); err != nil {
		return 0, OutcomeInconsistent, fmt.Errorf("insert %s: %w", dim.Table(), err)
	}

	id, found, err = selectID(ctx, q, selectQuery, value)
	if err != nil {
		return 0, OutcomeInconsistent, err
	}
	if !found {
		return 0, OutcomeInconsistent, nil
	}

	return id, OutcomeInserted, nil
}

func selectID(ctx context.Context, q Querier, query, value string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, query, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select dimension: %w", err)
	}

	return id, true, nil
}

// Reset - сбрасывает кэш процесса в начале нового запуска
func (r *Resolver) Reset() {
	r.cache.DeleteAll()
}

func (r *Resolver) Len() int {
	return r.cache.Len()
}
