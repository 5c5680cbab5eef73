package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reporting-etl/internal/etl"
	"reporting-etl/internal/types/metric"
)

type Repository struct {
	db     etl.TxBeginner
	loader *etl.BatchLoader
	logger *zap.SugaredLogger
}

func NewRepository(db etl.TxBeginner, loader *etl.BatchLoader, logger *zap.SugaredLogger) *Repository {
	return &Repository{
		db:     db,
		loader: loader,
		logger: logger,
	}
}

// SaveEvent - upsert одного события в своей транзакции
func (r *Repository) SaveEvent(ctx context.Context, event metric.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.loader.WriteBatch(ctx, tx, []metric.Event{event}, 1); err != nil {
		// ключи измерений из откатившейся транзакции не должны остаться в кэше
		r.loader.Resolver.Reset()
		return err
	}

	if err := tx.Commit(); err != nil {
		r.loader.Resolver.Reset()
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}
