package etl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

type Kind string

const (
	// KindDailyTotal - output=total на каждую дату диапазона
	KindDailyTotal Kind = "daily_total"
	// KindSnapshotTotal - один вызов без дат, metric_date = сегодня
	KindSnapshotTotal Kind = "snapshot_total"
	// KindSnapshotRows - построчный снапшот в candidates_not_contacted_rows
	KindSnapshotRows Kind = "snapshot_rows"
)

type Sink string

const (
	SinkDirect Sink = "direct"
	SinkRelay  Sink = "relay"
)

// AllValues - в списке значений означает все известные значения измерения
const AllValues = "*"

// DefaultCatalogue - известные значения измерений
var DefaultCatalogue = map[metric.Dimension][]string{
	metric.DimRegion:   {"EMEA", "APAC", "Americas"},
	metric.DimOffice:   {"London", "Singapore", "New York", "Kuala Lumpur"},
	metric.DimFunction: {"Contract", "Permanent"},
	metric.DimDealboard: {
		"Accounts Assembled (LON)", "Atomic Written (LON)", "Big Fees Big PVs", "Billy Big Timers (GLA)",
		"Brogram", "Downstream Cowboys", "Earth, Wind & Hire (LON)", "Eurovision (DUS)",
	},
	metric.DimSector:        {"Renewables", "Oil & Gas", "Power", "Infrastructure"},
	metric.DimRevenueStream: {"Perm", "Contract"},
	metric.DimConsultant:    {"John Doe", "Jane Smith"},
}

// Job - описание одной метрики для общего пайплайна
type Job struct {
	Name        string            `yaml:"name"`
	Metric      string            `yaml:"metric"`
	Kind        Kind              `yaml:"kind"`
	Sink        Sink              `yaml:"sink"`
	IncludeBase bool              `yaml:"include_base"`
	Dimensions  []DimensionValues `yaml:"dimensions"`
}

// Dated - джоб перебирает даты диапазона (в отличие от снапшотов)
func (j Job) Dated() bool {
	return j.Kind == KindDailyTotal
}

func (j Job) Output() Output {
	if j.Kind == KindSnapshotRows {
		return OutputRows
	}

	return OutputTotal
}

type JobsConfig struct {
	Currency  string                        `yaml:"currency"`
	Catalogue map[metric.Dimension][]string `yaml:"catalogue"`
	Jobs      []Job                         `yaml:"jobs"`
}

func NewJobsConfig(path string) (*JobsConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg JobsConfig
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate - проверяет джобы, проставляет значения по умолчанию и раскрывает "*"
func (c *JobsConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Jobs))

	for i := range c.Jobs {
		job := &c.Jobs[i]

		if job.Name == "" {
			job.Name = job.Metric
		}
		if job.Metric == "" {
			return fmt.Errorf("%w: job #%d has no metric", myErr.ErrInvalidJob, i)
		}
		if _, ok := seen[job.Name]; ok {
			return fmt.Errorf("%w: duplicate job %q", myErr.ErrInvalidJob, job.Name)
		}
		seen[job.Name] = struct{}{}

		switch job.Kind {
		case "":
			job.Kind = KindDailyTotal
		case KindDailyTotal, KindSnapshotTotal, KindSnapshotRows:
		default:
			return fmt.Errorf("%w: job %q has unknown kind %q", myErr.ErrInvalidJob, job.Name, job.Kind)
		}

		switch job.Sink {
		case "":
			job.Sink = SinkDirect
		case SinkDirect, SinkRelay:
		default:
			return fmt.Errorf("%w: job %q has unknown sink %q", myErr.ErrInvalidJob, job.Name, job.Sink)
		}

		if job.Kind == KindSnapshotRows && job.Sink == SinkRelay {
			return fmt.Errorf("%w: job %q: row snapshots cannot be relayed", myErr.ErrInvalidJob, job.Name)
		}

		for j := range job.Dimensions {
			dv := &job.Dimensions[j]
			if dv.Dimension == metric.DimMetric || !dv.Dimension.Valid() {
				return fmt.Errorf("%w: job %q: %w %q", myErr.ErrInvalidJob, job.Name, myErr.ErrUnknownDimension, dv.Dimension)
			}
			dv.Values = c.expand(dv.Dimension, dv.Values)
		}
	}

	return nil
}

func (c *JobsConfig) expand(d metric.Dimension, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != AllValues {
			out = append(out, v)
			continue
		}
		if known, ok := c.Catalogue[d]; ok {
			out = append(out, known...)
		} else {
			out = append(out, DefaultCatalogue[d]...)
		}
	}

	return out
}
