package metric

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	myErr "reporting-etl/internal/types/errors"
)

const DefaultCurrency = "MYR"

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Event - единица данных, проходящая через весь пайплайн.
// Натуральный ключ: (metric_name, metric_date, заполненные измерения).
type Event struct {
	MetricName    string    `json:"metric_name"`
	MetricDate    Date      `json:"metric_date"`
	Region        string    `json:"region,omitempty"`
	Office        string    `json:"office,omitempty"`
	Function      string    `json:"function,omitempty"`
	Dealboard     string    `json:"dealboard,omitempty"`
	Sector        string    `json:"sector,omitempty"`
	RevenueStream string    `json:"revenue_stream,omitempty"`
	Consultant    string    `json:"consultant,omitempty"`
	MetricValue   float64   `json:"metric_value"`
	TargetValue   *float64  `json:"target_value"`
	Currency      string    `json:"currency,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter - значение измерения; пустая строка означает "без фильтра"
func (e Event) Filter(d Dimension) string {
	switch d {
	case DimMetric:
		return e.MetricName
	case DimRegion:
		return e.Region
	case DimOffice:
		return e.Office
	case DimFunction:
		return e.Function
	case DimDealboard:
		return e.Dealboard
	case DimSector:
		return e.Sector
	case DimRevenueStream:
		return e.RevenueStream
	case DimConsultant:
		return e.Consultant
	}

	return ""
}

// WithFilters - копия события с проставленными значениями измерений
func (e Event) WithFilters(filters map[Dimension]string) Event {
	for d, v := range filters {
		switch d {
		case DimRegion:
			e.Region = v
		case DimOffice:
			e.Office = v
		case DimFunction:
			e.Function = v
		case DimDealboard:
			e.Dealboard = v
		case DimSector:
			e.Sector = v
		case DimRevenueStream:
			e.RevenueStream = v
		case DimConsultant:
			e.Consultant = v
		}
	}

	return e
}

func (e Event) CurrencyOrDefault() string {
	if e.Currency == "" {
		return DefaultCurrency
	}

	return e.Currency
}

// Key - натуральный ключ события в виде строки; им же ключуются сообщения в Kafka,
// чтобы исправления одного ключа попадали в одну партицию
func (e Event) Key() string {
	var sb strings.Builder
	sb.WriteString(e.MetricName)
	sb.WriteByte('|')
	sb.WriteString(e.MetricDate.String())
	for _, d := range FilterDimensions {
		if v := e.Filter(d); v != "" {
			sb.WriteByte('|')
			sb.WriteString(string(d))
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}

	return sb.String()
}

func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.MetricName) == "":
		return fmt.Errorf("%w: empty metric_name", myErr.ErrInvalidEvent)
	case e.MetricDate.IsZero():
		return fmt.Errorf("%w: empty metric_date", myErr.ErrInvalidEvent)
	case e.MetricValue < 0 || math.IsNaN(e.MetricValue) || math.IsInf(e.MetricValue, 0):
		return fmt.Errorf("%w: metric_value=%v", myErr.ErrInvalidEvent, e.MetricValue)
	case e.TargetValue != nil && (math.IsNaN(*e.TargetValue) || math.IsInf(*e.TargetValue, 0)):
		return fmt.Errorf("%w: target_value=%v", myErr.ErrInvalidEvent, *e.TargetValue)
	case e.Currency != "" && !currencyRe.MatchString(e.Currency):
		return fmt.Errorf("%w: currency=%q", myErr.ErrInvalidEvent, e.Currency)
	}

	return nil
}
