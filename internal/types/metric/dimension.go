package metric

import (
	"fmt"

	myErr "reporting-etl/internal/types/errors"
)

// Dimension - категориальный атрибут метрики, нормализованный в отдельную таблицу dim_<name>
type Dimension string

const (
	DimMetric        Dimension = "metric"
	DimRegion        Dimension = "region"
	DimOffice        Dimension = "office"
	DimFunction      Dimension = "function"
	DimDealboard     Dimension = "dealboard"
	DimSector        Dimension = "sector"
	DimRevenueStream Dimension = "revenue_stream"
	DimConsultant    Dimension = "consultant"
)

// FilterDimensions - измерения, которые можно передать фильтром во внешний API.
// Порядок фиксирован: по нему строятся колонки факт-таблицы и комбинации задач.
var FilterDimensions = []Dimension{
	DimRegion,
	DimOffice,
	DimFunction,
	DimDealboard,
	DimSector,
	DimRevenueStream,
	DimConsultant,
}

func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", myErr.ErrUnknownDimension, s)
	}

	return d, nil
}

func (d Dimension) Valid() bool {
	if d == DimMetric {
		return true
	}
	for _, f := range FilterDimensions {
		if d == f {
			return true
		}
	}

	return false
}

func (d Dimension) Table() string { return "dim_" + string(d) }

func (d Dimension) NameColumn() string { return string(d) + "_name" }

// KeyColumn - колонка суррогатного ключа в fact_daily_metrics
func (d Dimension) KeyColumn() string { return string(d) + "_id" }

// QueryParam - имя параметра внешнего API
func (d Dimension) QueryParam() string {
	if d == DimRevenueStream {
		return "revenuestream"
	}

	return string(d)
}
