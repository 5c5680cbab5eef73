package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

type Config struct {
	CfgDB          ConfigDB    `koanf:"db"`
	CfgKafka       ConfigKafka `koanf:"kafka"`
	CfgAPI         ConfigAPI   `koanf:"api"`
	CfgETL         ConfigETL   `koanf:"etl"`
	RedisAddr      string      `koanf:"redis_addr"`
	HTTPAddr       string      `koanf:"http_addr"`
	// PushgatewayURL - куда одноразовые запуски отправляют метрики при выходе; пусто - не отправляют
	PushgatewayURL string      `koanf:"pushgateway_url"`
}

type ConfigDB struct {
	Driver          string `koanf:"driver"`
	Login           string `koanf:"login"`
	Password        string `koanf:"password"`
	Port            uint   `koanf:"port"`
	Database        string `koanf:"database"`
	Host            string `koanf:"host"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	TLS             bool   `koanf:"tls"`
	TLSSkipVerify   bool   `koanf:"tls_skip_verify"`
	MultiStatements bool   `koanf:"-"`
}

type ConfigKafka struct {
	Brokers       []string      `koanf:"brokers"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	SASLMechanism string        `koanf:"sasl_mechanism"`
	TLS           bool          `koanf:"tls"`
	Topic         string        `koanf:"topic"`
	GroupID       string        `koanf:"group_id"`
	ClientID      string        `koanf:"client_id"`
	// BatchTimeout - сколько writer ждёт неполный батч перед отправкой
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

func (c ConfigKafka) SASLEnabled() bool {
	return c.Username != ""
}

type ConfigAPI struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type ConfigETL struct {
	StartDate       string        `koanf:"start_date"`
	EndDate         string        `koanf:"end_date"`
	Interval        string        `koanf:"interval"`
	MaxConcurrency  int           `koanf:"max_concurrency"`
	BatchSize       int           `koanf:"batch_size"`
	Throttle        time.Duration `koanf:"throttle"`
	JobsFile        string        `koanf:"jobs_file"`
	Currency        string        `koanf:"currency"`
	TruncateConfirm string        `koanf:"truncate_confirm"`
	// Every - период повторного запуска etl-daily; 0 - один запуск
	Every           time.Duration `koanf:"every"`
}

// envKeys - переменные окружения и соответствующие им ключи конфига
var envKeys = map[string]string{
	"DB_DRIVER":            "db.driver",
	"DB_HOST":              "db.host",
	"DB_PORT":              "db.port",
	"DB_USER":              "db.login",
	"DB_PASS":              "db.password",
	"DB_PASSWORD":          "db.password",
	"DB_NAME":              "db.database",
	"DB_MAX_OPEN_CONNS":    "db.max_open_conns",
	"DB_TLS":               "db.tls",
	"DB_TLS_SKIP_VERIFY":   "db.tls_skip_verify",
	"KAFKA_BROKER":         "kafka.brokers",
	"KAFKA_USERNAME":       "kafka.username",
	"KAFKA_PASSWORD":       "kafka.password",
	"KAFKA_SASL_MECHANISM": "kafka.sasl_mechanism",
	"KAFKA_TLS":            "kafka.tls",
	"KAFKA_TOPIC":          "kafka.topic",
	"KAFKA_GROUP_ID":       "kafka.group_id",
	"KAFKA_CLIENT_ID":      "kafka.client_id",
	"KAFKA_BATCH_TIMEOUT":  "kafka.batch_timeout",
	"API_BASE_URL":         "api.base_url",
	"API_TIMEOUT":          "api.timeout",
	"ETL_START_DATE":       "etl.start_date",
	"ETL_END_DATE":         "etl.end_date",
	"ETL_INTERVAL":         "etl.interval",
	"ETL_MAX_CONCURRENCY":  "etl.max_concurrency",
	"ETL_BATCH_SIZE":       "etl.batch_size",
	"ETL_THROTTLE":         "etl.throttle",
	"ETL_JOBS_FILE":        "etl.jobs_file",
	"ETL_CURRENCY":         "etl.currency",
	"ETL_TRUNCATE_CONFIRM": "etl.truncate_confirm",
	"ETL_EVERY":            "etl.every",
	"REDIS_ADDR":           "redis_addr",
	"HTTP_ADDR":            "http_addr",
	"PUSHGATEWAY_URL":      "pushgateway_url",
}

// listKeys - ключи-списки, значения в env перечисляются через запятую
var listKeys = map[string]struct{}{
	"kafka.brokers": {},
}

func Default() *Config {
	return &Config{
		CfgDB: ConfigDB{
			Driver:       "mysql",
			Host:         "localhost",
			Port:         3306,
			Login:        "root",
			Database:     "reporting_db",
			MaxOpenConns: 10,
		},
		CfgKafka: ConfigKafka{
			SASLMechanism: "PLAIN",
			TLS:           true,
			Topic:         "etl.daily_metrics",
			GroupID:       "etl-mysql-writer-group",
			ClientID:      "reporting-etl",
			BatchTimeout:  50 * time.Millisecond,
		},
		CfgAPI: ConfigAPI{
			BaseURL: "https://so-api.azurewebsites.net/ingress/ajax/api",
			Timeout: 30 * time.Second,
		},
		CfgETL: ConfigETL{
			Interval:       string(metric.Monthly),
			MaxConcurrency: 10,
			BatchSize:      500,
			Throttle:       500 * time.Millisecond,
			JobsFile:       "config/jobs.yaml",
			Currency:       metric.DefaultCurrency,
		},
		HTTPAddr: ":8082",
	}
}

// NewConfig - собирает конфиг: значения по умолчанию -> YAML файл из ETL_CONFIG (если задан) -> env
func NewConfig() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("ETL_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		// неизвестные переменные пропускаются
		path := envKeys[key]
		if _, ok := listKeys[path]; ok {
			return path, strings.Split(value, ",")
		}
		return path, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.CfgETL.MaxConcurrency <= 0 {
		return myErr.ErrInvalidConcurrency
	}
	if c.CfgETL.BatchSize <= 0 {
		return myErr.ErrInvalidChunkSize
	}
	if _, err := metric.ParseInterval(c.CfgETL.Interval); err != nil {
		return err
	}
	if c.CfgAPI.BaseURL == "" {
		return fmt.Errorf("api base url must not be empty")
	}

	brokers := c.CfgKafka.Brokers[:0]
	for _, b := range c.CfgKafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.CfgKafka.Brokers = brokers

	return nil
}

// DateRange - диапазон из ETL_START_DATE/ETL_END_DATE; незаданные границы берутся из fallback
func (c ConfigETL) DateRange(fallback metric.DateRange) (metric.DateRange, error) {
	start, end := fallback.Start, fallback.End

	if c.StartDate != "" {
		d, err := metric.ParseDate(c.StartDate)
		if err != nil {
			return metric.DateRange{}, err
		}
		start = d
	}
	if c.EndDate != "" {
		d, err := metric.ParseDate(c.EndDate)
		if err != nil {
			return metric.DateRange{}, err
		}
		end = d
	}

	return metric.NewDateRange(start, end)
}

func (c ConfigETL) TruncateConfirmed() bool {
	return strings.EqualFold(strings.TrimSpace(c.TruncateConfirm), "yes")
}
