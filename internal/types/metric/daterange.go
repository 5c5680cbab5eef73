package metric

import (
	"fmt"
	"strings"
	"time"

	myErr "reporting-etl/internal/types/errors"
)

// Interval - шаг разбиения исторической выгрузки
type Interval string

const (
	Monthly   Interval = "monthly"
	Quarterly Interval = "quarterly"
)

func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case "", Monthly:
		return Monthly, nil
	case Quarterly:
		return Quarterly, nil
	}

	return "", fmt.Errorf("%w: %q", myErr.ErrUnknownInterval, s)
}

// DateRange - включительный диапазон дат
type DateRange struct {
	Start Date
	End   Date
}

func NewDateRange(start, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, fmt.Errorf("%w: empty bound", myErr.ErrInvalidDateRange)
	}
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", myErr.ErrInvalidDateRange, start, end)
	}

	return DateRange{Start: start, End: end}, nil
}

// YearToDate - с 1 января года today по today
func YearToDate(today Date) DateRange {
	return DateRange{Start: NewDate(today.Year(), time.January, 1), End: today}
}

// SingleDay - диапазон из одного дня
func SingleDay(d Date) DateRange {
	return DateRange{Start: d, End: d}
}

// Dates - все даты диапазона по порядку
func (r DateRange) Dates() []Date {
	if r.Start.IsZero() || r.Start.After(r.End) {
		return nil
	}

	days := int(r.End.Time().Sub(r.Start.Time()).Hours()/24) + 1
	dates := make([]Date, 0, days)
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		dates = append(dates, d)
	}

	return dates
}

func (r DateRange) Len() int {
	return len(r.Dates())
}

func (r DateRange) String() string {
	return r.Start.String() + " → " + r.End.String()
}

// SplitRange - разбивает диапазон на календарные месяцы или кварталы.
// Последний поддиапазон обрезается по r.End.
func SplitRange(r DateRange, interval Interval) ([]DateRange, error) {
	if _, err := NewDateRange(r.Start, r.End); err != nil {
		return nil, err
	}

	var months int
	switch interval {
	case Monthly:
		months = 1
	case Quarterly:
		months = 3
	default:
		return nil, fmt.Errorf("%w: %q", myErr.ErrUnknownInterval, interval)
	}

	var ranges []DateRange
	for cur := r.Start; !cur.After(r.End); {
		// первый месяц следующего периода, затем день 0 = последний день текущего
		firstMonth := int(cur.Month()) - (int(cur.Month())-1)%months
		end := NewDate(cur.Year(), time.Month(firstMonth+months), 0)
		if end.After(r.End) {
			end = r.End
		}

		ranges = append(ranges, DateRange{Start: cur, End: end})
		cur = end.AddDays(1)
	}

	return ranges, nil
}
