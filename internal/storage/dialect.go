package storage

import (
	"fmt"
	"strings"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

const (
	FactTable     = "fact_daily_metrics"
	SnapshotTable = "candidates_not_contacted_rows"
)

// FactColumns - колонки факт-таблицы в порядке аргументов вставки
var FactColumns = factColumns()

// FactKeyColumns - натуральный ключ факт-таблицы (уникальный индекс)
var FactKeyColumns = factKeyColumns()

// FactUpdateColumns - при конфликте перезаписываются только меры
var FactUpdateColumns = []string{"metric_value", "target_value"}

var SnapshotColumns = []string{
	"placement_id", "last_called", "start_date", "end_date", "owner_name",
	"candidate_id", "candidate_name", "region", "office", "team",
	"dealboard", "so_sector", "job_id", "job_title", "snapshot_date",
}

var SnapshotKeyColumns = []string{"placement_id", "candidate_id", "snapshot_date"}

var SnapshotUpdateColumns = []string{
	"last_called", "end_date", "owner_name", "team", "dealboard", "so_sector", "job_title",
}

func factKeyColumns() []string {
	cols := []string{"metric_date", metric.DimMetric.KeyColumn()}
	for _, d := range metric.FilterDimensions {
		cols = append(cols, d.KeyColumn())
	}

	return cols
}

func factColumns() []string {
	return append(factKeyColumns(), "metric_value", "target_value", "currency", "created_at")
}

// Dialect - различия SQL между MySQL и PostgreSQL
type Dialect interface {
	Name() string
	DriverName() string
	// Placeholder - плейсхолдер n-го аргумента, n с единицы
	Placeholder(n int) string
	// InsertIgnore - вставка значения измерения без ошибки при дубликате
	InsertIgnore(table, column string) string
	// Upsert - многострочная вставка rows строк с обновлением updateCols при конфликте по keyCols
	Upsert(table string, cols, keyCols, updateCols []string, rows int) string
}

func NewDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "mysql":
		return MySQL{}, nil
	case "postgres", "postgresql":
		return Postgres{}, nil
	}

	return nil, fmt.Errorf("%w: %q", myErr.ErrUnknownDialect, name)
}

// SelectDimension - поиск суррогатного ключа значения измерения
func SelectDimension(d Dialect, table, column string) string {
	return fmt.Sprintf("SELECT id FROM %s WHERE %s = %s", table, column, d.Placeholder(1))
}

func Truncate(table string) string {
	return "TRUNCATE TABLE " + table
}

// valuesList - "(?, ?), (?, ?)" с плейсхолдерами диалекта
func valuesList(d Dialect, cols, rows int) string {
	tuples := make([]string, rows)
	placeholders := make([]string, cols)
	n := 1
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			placeholders[c] = d.Placeholder(n)
			n++
		}
		tuples[r] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	return strings.Join(tuples, ", ")
}

type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) DriverName() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (d MySQL) InsertIgnore(table, column string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, column, d.Placeholder(1))
}

func (d MySQL) Upsert(table string, cols, _ []string, updateCols []string, rows int) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(cols, ", "), valuesList(d, len(cols), rows), strings.Join(sets, ", "),
	)
}

type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) DriverName() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d Postgres) InsertIgnore(table, column string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, column, d.Placeholder(1), column,
	)
}

func (d Postgres) Upsert(table string, cols, keyCols, updateCols []string, rows int) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), valuesList(d, len(cols), rows),
		strings.Join(keyCols, ", "), strings.Join(sets, ", "),
	)
}
