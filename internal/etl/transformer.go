package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

type Transformer struct {
	Logger *zap.SugaredLogger
	now    func() time.Time
}

func NewTransformer(logger *zap.SugaredLogger) *Transformer {
	return &Transformer{
		Logger: logger,
		now:    time.Now,
	}
}

// ToEvent - переводит ответ output=total в MetricEvent.
// Нет total -> 0; нет target -> nil (цель не задана, это не ноль).
// Для запроса без даты metric_date = сегодня.
func (t *Transformer) ToEvent(q Query, resp TotalResponse) (metric.Event, error) {
	now := t.now()

	value := 0.0
	if resp.Total != nil {
		value = *resp.Total
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return metric.Event{}, fmt.Errorf("%w: %s total=%v", myErr.ErrNegativeValue, q, value)
	}

	var target *float64
	if resp.Target != nil {
		v := *resp.Target
		target = &v
	}

	date := q.From
	if date.IsZero() {
		date = metric.DateOf(now)
	}

	currency := q.Currency
	if currency == "" {
		currency = metric.DefaultCurrency
	}

	evt := metric.Event{
		MetricName:  q.Metric,
		MetricDate:  date,
		MetricValue: value,
		TargetValue: target,
		Currency:    currency,
		CreatedAt:   now.UTC(),
	}.WithFilters(q.Filters)

	return evt, nil
}

// CandidateRow - строка снапшота candidatesNotContacted30Days (output=rows)
type CandidateRow struct {
	PlacementID   FlexString `json:"PlacementID"`
	LastCalled    FlexString `json:"lastCalled"`
	StartDate     FlexString `json:"StartDate"`
	EndDate       FlexString `json:"EndDate"`
	OwnerName     FlexString `json:"OwnerName"`
	CandidateID   FlexString `json:"CandidateID"`
	CandidateName FlexString `json:"Candidate"`
	Region        FlexString `json:"Region"`
	Office        FlexString `json:"Office"`
	Team          FlexString `json:"Team"`
	Dealboard     FlexString `json:"Dealboard"`
	SOSector      FlexString `json:"SOSector"`
	JobID         FlexString `json:"JobID"`
	JobTitle      FlexString `json:"JobTitle"`
}

// FlexString - строка, которую API присылает то строкой, то числом
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	*f = FlexString(b)

	return nil
}

// ToCandidateRows - разбирает сырые строки; битые строки пропускаются с логом
func (t *Transformer) ToCandidateRows(raw []json.RawMessage) []CandidateRow {
	rows := make([]CandidateRow, 0, len(raw))
	for i, r := range raw {
		var row CandidateRow
		if err := json.Unmarshal(r, &row); err != nil {
			t.Logger.Warnw("skipping malformed candidate row", "index", i, zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}

	t.Logger.Infof("Transformed %d of %d candidate rows", len(rows), len(raw))

	return rows
}
