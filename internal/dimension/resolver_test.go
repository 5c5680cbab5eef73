package dimension

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reporting-etl/internal/storage"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

const (
	selectRegion = "SELECT id FROM dim_region WHERE region_name = ?"
	insertRegion = "INSERT IGNORE INTO dim_region (region_name) VALUES (?)"
)

func newTestResolver(t *testing.T, shared SharedCache) *Resolver {
	t.Helper()
	return NewResolver(storage.MySQL{}, shared, zaptest.NewLogger(t).Sugar())
}

func TestResolver_EmptyValueSkipsLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := newTestResolver(t, nil)

	key, err := r.Resolve(context.Background(), db, metric.DimRegion, "")
	require.NoError(t, err)
	assert.False(t, key.Valid)
	assert.Equal(t, 0, r.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		mockQuery func(mock sqlmock.Sqlmock)
		wantID    int64
		wantErr   error
	}{
		{
			name: "found immediately",
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
			},
			wantID: 3,
		},
		{
			name: "found after insert",
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectExec(regexp.QuoteMeta(insertRegion)).WithArgs("EMEA").
					WillReturnResult(sqlmock.NewResult(7, 1))
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
			wantID: 7,
		},
		{
			name: "concurrent insert won the race",
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectExec(regexp.QuoteMeta(insertRegion)).WithArgs("EMEA").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
			},
			wantID: 5,
		},
		{
			name: "missing after insert is inconsistent",
			mockQuery: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectExec(regexp.QuoteMeta(insertRegion)).WithArgs("EMEA").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: myErr.ErrDimensionInconsistent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mockQuery(mock)
			r := newTestResolver(t, nil)

			key, err := r.Resolve(context.Background(), db, metric.DimRegion, "EMEA")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, key.Valid)
				assert.Equal(t, 0, r.Len())
			} else {
				require.NoError(t, err)
				assert.True(t, key.Valid)
				assert.Equal(t, tt.wantID, key.Int64)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestResolver_KeyStableAcrossInterleavedValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// каждое значение ищется в БД ровно один раз, дальше работает кэш
	mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("APAC").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	r := newTestResolver(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		emea, err := r.Resolve(ctx, db, metric.DimRegion, "EMEA")
		require.NoError(t, err)
		apac, err := r.Resolve(ctx, db, metric.DimRegion, "APAC")
		require.NoError(t, err)

		assert.Equal(t, int64(1), emea.Int64)
		assert.Equal(t, int64(2), apac.Int64)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_ResetForcesLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM dim_office WHERE office_name = ?")).WithArgs("London").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	}

	r := newTestResolver(t, nil)
	ctx := context.Background()

	_, err = r.Resolve(ctx, db, metric.DimOffice, "London")
	require.NoError(t, err)
	r.Reset()
	assert.Equal(t, 0, r.Len())

	key, err := r.Resolve(ctx, db, metric.DimOffice, "London")
	require.NoError(t, err)
	assert.Equal(t, int64(9), key.Int64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_UnknownDimension(t *testing.T) {
	r := newTestResolver(t, nil)

	_, err := r.Resolve(context.Background(), nil, metric.Dimension("planet"), "Mars")
	assert.ErrorIs(t, err, myErr.ErrUnknownDimension)
}

func TestResolver_SelectErrorIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
		WillReturnError(errors.New("connection reset"))

	r := newTestResolver(t, nil)
	_, err = r.Resolve(context.Background(), db, metric.DimRegion, "EMEA")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(rdb, zaptest.NewLogger(t).Sugar(), time.Hour), mr
}

func TestResolver_SharedCache(t *testing.T) {
	shared, mr := setupRedisCache(t)
	defer mr.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(selectRegion)).WithArgs("EMEA").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	ctx := context.Background()

	// первый процесс идёт в БД и публикует ключ в Redis
	first := newTestResolver(t, shared)
	key, err := first.Resolve(ctx, db, metric.DimRegion, "EMEA")
	require.NoError(t, err)
	assert.Equal(t, int64(11), key.Int64)
	assert.Equal(t, "11", mr.HGet("etl:dim:region", "EMEA"))

	// второй процесс берёт ключ из Redis без запросов к БД
	second := newTestResolver(t, shared)
	key, err = second.Resolve(ctx, db, metric.DimRegion, "EMEA")
	require.NoError(t, err)
	assert.Equal(t, int64(11), key.Int64)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_GetSet(t *testing.T) {
	c, mr := setupRedisCache(t)
	defer mr.Close()

	ctx := context.Background()

	_, ok, err := c.Get(ctx, metric.DimSector, "Power")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, metric.DimSector, "Power", 4))
	id, ok, err := c.Get(ctx, metric.DimSector, "Power")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), id)
	assert.True(t, mr.TTL("etl:dim:sector") > 0)

	mr.HSet("etl:dim:sector", "Oil & Gas", "not-a-number")
	_, ok, err = c.Get(ctx, metric.DimSector, "Oil & Gas")
	require.NoError(t, err)
	assert.False(t, ok)
}
