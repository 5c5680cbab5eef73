package etl

import (
	"context"

	"reporting-etl/internal/types/metric"
)

// FetchFunc - один вызов API и преобразование ответа в событие
type FetchFunc func(ctx context.Context, q Query) (*metric.Event, error)

// FetchTask - отложенный вызов API для одной комбинации параметров.
// Создание задачи не выполняет I/O.
type FetchTask struct {
	Query Query
	fetch FetchFunc
}

func NewFetchTask(q Query, fetch FetchFunc) FetchTask {
	return FetchTask{Query: q, fetch: fetch}
}

func (t FetchTask) Run(ctx context.Context) (*metric.Event, error) {
	return t.fetch(ctx, t.Query)
}

// DimensionValues - значения одного измерения для перебора.
// IncludeUnfiltered добавляет к значениям вариант "без фильтра".
type DimensionValues struct {
	Dimension         metric.Dimension `yaml:"name"`
	Values            []string         `yaml:"values"`
	IncludeUnfiltered bool             `yaml:"include_unfiltered"`
}

func (dv DimensionValues) candidates() []string {
	seen := make(map[string]struct{}, len(dv.Values))
	out := make([]string, 0, len(dv.Values)+1)
	for _, v := range dv.Values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if dv.IncludeUnfiltered || len(out) == 0 {
		out = append(out, "")
	}

	return out
}

// TaskTemplate - общие для всех задач джоба параметры запроса
type TaskTemplate struct {
	Metric   string
	Currency string
	Output   Output
	// IncludeBase - отдельная задача без фильтров на каждую дату;
	// комбинация, где все измерения "без фильтра", тогда не дублируется
	IncludeBase bool
}

// BuildTasks - декартово произведение дат и значений измерений, по задаче на комбинацию.
// Порядок: по датам, внутри даты - базовая задача, затем комбинации.
func BuildTasks(fetch FetchFunc, tmpl TaskTemplate, dates []metric.Date, dims []DimensionValues) []FetchTask {
	combos := Combinations(dims)

	tasks := make([]FetchTask, 0, len(dates)*(len(combos)+1))
	for _, date := range dates {
		base := Query{
			Metric:   tmpl.Metric,
			From:     date,
			To:       date,
			Currency: tmpl.Currency,
			Output:   tmpl.Output,
		}

		if tmpl.IncludeBase {
			tasks = append(tasks, NewFetchTask(base, fetch))
		}

		for _, combo := range combos {
			if len(combo) == 0 && tmpl.IncludeBase {
				continue
			}
			q := base
			q.Filters = combo
			tasks = append(tasks, NewFetchTask(q, fetch))
		}
	}

	return tasks
}

// Combinations - все комбинации значений измерений; значение "" в комбинацию не попадает,
// так что комбинация "все без фильтра" - пустая map
func Combinations(dims []DimensionValues) []map[metric.Dimension]string {
	combos := []map[metric.Dimension]string{{}}
	for _, dv := range dims {
		candidates := dv.candidates()
		next := make([]map[metric.Dimension]string, 0, len(combos)*len(candidates))
		for _, combo := range combos {
			for _, v := range candidates {
				c := make(map[metric.Dimension]string, len(combo)+1)
				for k, val := range combo {
					c[k] = val
				}
				if v != "" {
					c[dv.Dimension] = v
				}
				next = append(next, c)
			}
		}
		combos = next
	}

	return combos
}
