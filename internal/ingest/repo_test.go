package ingest

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reporting-etl/internal/dimension"
	"reporting-etl/internal/etl"
	"reporting-etl/internal/storage"
	"reporting-etl/internal/types/metric"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock, *dimension.Resolver) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t).Sugar()
	resolver := dimension.NewResolver(storage.MySQL{}, nil, logger)
	loader := etl.NewBatchLoader(resolver, storage.MySQL{}, logger)

	return NewRepository(db, loader, logger), mock, resolver
}

func storedEvent() metric.Event {
	target := 20.0
	return metric.Event{
		MetricName:  "jobsadded",
		MetricDate:  metric.MustParseDate("2025-02-10"),
		Office:      "London",
		MetricValue: 10,
		TargetValue: &target,
		Currency:    "MYR",
		CreatedAt:   time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC),
	}
}

// Тест SaveEvent: ключи измерений разрешаются и событие пишется одним upsert в транзакции.
func TestRepository_SaveEvent(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	upsert := storage.MySQL{}.Upsert(storage.FactTable, storage.FactColumns, storage.FactKeyColumns, storage.FactUpdateColumns, 1)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_metric WHERE metric_name = ?")).
		WithArgs("jobsadded").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_office WHERE office_name = ?")).
		WithArgs("London").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO dim_office (office_name) VALUES (?)")).
		WithArgs("London").
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_office WHERE office_name = ?")).
		WithArgs("London").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta(upsert)).
		WithArgs("2025-02-10", int64(2), int64(0), int64(5), int64(0), int64(0), int64(0), int64(0), int64(0),
			10.0, 20.0, "MYR", time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveEvent(context.Background(), storedEvent()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// При ошибке записи транзакция откатывается, а кэш ключей сбрасывается.
func TestRepository_SaveEvent_Rollback(t *testing.T) {
	repo, mock, resolver := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_metric WHERE metric_name = ?")).
		WithArgs("jobsadded").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_office WHERE office_name = ?")).
		WithArgs("London").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec("INSERT INTO fact_daily_metrics").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	assert.Error(t, repo.SaveEvent(context.Background(), storedEvent()))
	assert.Equal(t, 0, resolver.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SaveEvent_BeginError(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	assert.Error(t, repo.SaveEvent(context.Background(), storedEvent()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
