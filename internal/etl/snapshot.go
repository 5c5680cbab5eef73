package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reporting-etl/internal/dimension"
	"reporting-etl/internal/metrics"
	"reporting-etl/internal/storage"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// API отдаёт время то в RFC3339, то без зоны, то датой
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	metric.DateLayout,
}

// SnapshotLoader - пишет построчный снапшот кандидатов
type SnapshotLoader struct {
	Dialect storage.Dialect
	Logger  *zap.SugaredLogger
}

func NewSnapshotLoader(dialect storage.Dialect, logger *zap.SugaredLogger) *SnapshotLoader {
	return &SnapshotLoader{Dialect: dialect, Logger: logger}
}

// Write - upsert строк по (placement_id, candidate_id, snapshot_date)
func (l *SnapshotLoader) Write(ctx context.Context, q dimension.Querier, rows []CandidateRow, snapshot metric.Date, chunkSize int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: %d", myErr.ErrInvalidChunkSize, chunkSize)
	}
	if len(rows) == 0 {
		l.Logger.Info("Snapshot is empty")
		return nil
	}

	if unique := dedupeRows(rows); len(unique) < len(rows) {
		l.Logger.Warnf("Snapshot %s: %d duplicate rows dropped", snapshot, len(rows)-len(unique))
		rows = unique
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		chunk := rows[start:end]

		query := l.Dialect.Upsert(storage.SnapshotTable, storage.SnapshotColumns, storage.SnapshotKeyColumns, storage.SnapshotUpdateColumns, len(chunk))
		args := make([]any, 0, len(chunk)*len(storage.SnapshotColumns))
		for _, r := range chunk {
			args = append(args, snapshotRow(r, snapshot)...)
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			l.Logger.Errorw("Failed to upsert snapshot rows", "offset", start, zap.Error(err))
			return fmt.Errorf("upsert %s rows %d-%d: %w", storage.SnapshotTable, start, end, err)
		}

		metrics.AddRowsWritten(storage.SnapshotTable, len(chunk))
	}

	l.Logger.Infof("Snapshot %s: %d rows upserted", snapshot, len(rows))

	return nil
}

type rowKey struct {
	placementID string
	candidateID string
}

// dedupeRows - одна строка на (placement_id, candidate_id), побеждает последняя.
// Postgres не даёт одному INSERT ... ON CONFLICT обновить строку дважды.
func dedupeRows(rows []CandidateRow) []CandidateRow {
	index := make(map[rowKey]int, len(rows))
	unique := make([]CandidateRow, 0, len(rows))

	for _, r := range rows {
		key := rowKey{placementID: string(r.PlacementID), candidateID: string(r.CandidateID)}
		if i, ok := index[key]; ok {
			unique[i] = r
			continue
		}
		index[key] = len(unique)
		unique = append(unique, r)
	}

	return unique
}

// snapshotRow - аргументы в порядке storage.SnapshotColumns
func snapshotRow(r CandidateRow, snapshot metric.Date) []any {
	return []any{
		string(r.PlacementID),
		timestamp(r.LastCalled),
		timestamp(r.StartDate),
		timestamp(r.EndDate),
		nullable(r.OwnerName),
		string(r.CandidateID),
		nullable(r.CandidateName),
		nullable(r.Region),
		nullable(r.Office),
		nullable(r.Team),
		nullable(r.Dealboard),
		nullable(r.SOSector),
		nullable(r.JobID),
		nullable(r.JobTitle),
		snapshot.String(),
	}
}

func nullable(s FlexString) any {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return nil
	}

	return v
}

// timestamp - нормализует время в UTC; нераспознанное значение пишется как NULL
func timestamp(s FlexString) any {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}

	return nil
}
