package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"reporting-etl/internal/metrics"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

const maxResponseBytes = 32 << 20

// Output - формат ответа внешнего API
type Output string

const (
	OutputTotal       Output = "total"
	OutputRows        Output = "rows"
	OutputLeaderboard Output = "leaderboard"
)

// Query - параметры одного вызова внешнего API
type Query struct {
	Metric   string
	From     metric.Date
	To       metric.Date
	Currency string
	Output   Output
	Filters  map[metric.Dimension]string
}

func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("metric", q.Metric)
	if !q.From.IsZero() {
		v.Set("datefrom", q.From.String())
	}
	if !q.To.IsZero() {
		v.Set("dateto", q.To.String())
	}
	if q.Currency != "" {
		v.Set("currency", q.Currency)
	}
	output := q.Output
	if output == "" {
		output = OutputTotal
	}
	v.Set("output", string(output))
	for d, value := range q.Filters {
		if value != "" {
			v.Set(d.QueryParam(), value)
		}
	}

	return v
}

func (q Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.Metric)
	if !q.From.IsZero() {
		sb.WriteString("@" + q.From.String())
		if !q.To.Equal(q.From) {
			sb.WriteString(".." + q.To.String())
		}
	}

	keys := make([]string, 0, len(q.Filters))
	for d, v := range q.Filters {
		if v != "" {
			keys = append(keys, string(d)+"="+v)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString("[" + strings.Join(keys, ",") + "]")
	}

	return sb.String()
}

// TotalResponse - ответ output=total; отсутствие поля отличается от нуля
type TotalResponse struct {
	Total  *float64 `json:"total"`
	Target *float64 `json:"target"`
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIExtractor - клиент внешнего API метрик
type APIExtractor struct {
	Client  HTTPDoer
	BaseURL string
	Logger  *zap.SugaredLogger
}

func NewAPIExtractor(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *APIExtractor {
	return &APIExtractor{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: baseURL,
		Logger:  logger,
	}
}

// FetchTotal - один GET с output=total.
// Ошибки статуса, сети и разбора JSON считаются временными для вызывающего.
func (e *APIExtractor) FetchTotal(ctx context.Context, q Query) (TotalResponse, error) {
	q.Output = OutputTotal

	start := time.Now()
	body, err := e.get(ctx, q)
	if err != nil {
		metrics.ObserveFetch(q.Metric, "failure", time.Since(start))
		return TotalResponse{}, err
	}

	var resp TotalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.ObserveFetch(q.Metric, "malformed", time.Since(start))
		return TotalResponse{}, fmt.Errorf("%w: %s: %v", myErr.ErrMalformedResponse, q, err)
	}

	metrics.ObserveFetch(q.Metric, "success", time.Since(start))

	return resp, nil
}

// FetchRows - GET с output=rows (или leaderboard); строки лежат либо в корневом массиве,
// либо в массиве под ключом ""
func (e *APIExtractor) FetchRows(ctx context.Context, q Query) ([]json.RawMessage, error) {
	if q.Output == "" || q.Output == OutputTotal {
		q.Output = OutputRows
	}

	start := time.Now()
	body, err := e.get(ctx, q)
	if err != nil {
		metrics.ObserveFetch(q.Metric, "failure", time.Since(start))
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		metrics.ObserveFetch(q.Metric, "malformed", time.Since(start))
		return nil, fmt.Errorf("%w: %s: %v", myErr.ErrMalformedResponse, q, err)
	}

	metrics.ObserveFetch(q.Metric, "success", time.Since(start))

	return rows, nil
}

func decodeRows(body []byte) ([]json.RawMessage, error) {
	var rows []json.RawMessage

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	raw, ok := obj[""]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	return rows, nil
}

func (e *APIExtractor) get(ctx context.Context, q Query) ([]byte, error) {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.RawQuery = q.Values().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", q, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: %d for %s: %s", myErr.ErrFetchStatus, resp.StatusCode, q, snippet)
	}

	return body, nil
}
