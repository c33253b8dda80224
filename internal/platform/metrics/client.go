// Package metrics adapts a Prometheus-compatible HTTP query API to the
// platform.MetricsProvider capability interface. No PromQL client library
// appears anywhere in the reference pack outside of vendored, unrelated
// code, so this talks to the HTTP API directly with the same outbound-REST
// idiom used for the GitLab adapter.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/resilience"
)

// Config controls connection behavior.
type Config struct {
	BaseURL   string // e.g. http://prometheus.monitoring:9090
	Timeout   time.Duration
	RateLimit float64 // requests per minute against the "datadog_api" bucket
	Logger    *slog.Logger

	// Limiters is the shared rate-limiter registry other platform clients
	// also use. A nil value gets a private registry, scoped to this
	// client alone.
	Limiters *resilience.RateLimiterRegistry
}

func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, RateLimit: 300, Logger: slog.Default()}
}

// Client implements platform.MetricsProvider over the Prometheus HTTP API
// (/api/v1/query, /api/v1/query_range).
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiters   *resilience.RateLimiterRegistry
	rateLimit  float64
	logger     *slog.Logger
}

var _ platform.MetricsProvider = (*Client)(nil)

func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 300
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limiters == nil {
		config.Limiters = resilience.NewRateLimiterRegistry()
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		limiters:   config.Limiters,
		rateLimit:  config.RateLimit,
		logger:     config.Logger,
	}
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]interface{}     `json:"value,omitempty"`
			Values [][2]interface{}   `json:"values,omitempty"`
		} `json:"result"`
	} `json:"data"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
}

func tagsToPromQLSelector(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (c *Client) query(ctx context.Context, promql string, at time.Time) (*queryResponse, error) {
	if err := c.limiters.Wait(ctx, "datadog_api", c.rateLimit, 20); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	values := url.Values{}
	values.Set("query", promql)
	if !at.IsZero() {
		values.Set("time", strconv.FormatInt(at.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/query?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("prometheus query error: %s: %s", qr.ErrorType, qr.Error)
	}
	return &qr, nil
}

func (c *Client) queryRange(ctx context.Context, promql string, start, end time.Time, step time.Duration) (*queryResponse, error) {
	if err := c.limiters.Wait(ctx, "datadog_api", c.rateLimit, 20); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	values := url.Values{}
	values.Set("query", promql)
	values.Set("start", strconv.FormatInt(start.Unix(), 10))
	values.Set("end", strconv.FormatInt(end.Unix(), 10))
	values.Set("step", step.String())

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/query_range?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build query_range request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query_range failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query_range response: %w", err)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode query_range response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("prometheus query_range error: %s: %s", qr.ErrorType, qr.Error)
	}
	return &qr, nil
}

func (c *Client) QueryScalar(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*float64, error) {
	promql := metricName + tagsToPromQLSelector(tags)
	qr, err := c.query(ctx, promql, end)
	if err != nil {
		return nil, err
	}
	if len(qr.Data.Result) == 0 {
		return nil, nil
	}
	v, err := parseSampleValue(qr.Data.Result[0].Value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) QueryTimeseries(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) ([]platform.TimeseriesPoint, error) {
	promql := metricName + tagsToPromQLSelector(tags)
	step := 30 * time.Second
	if d := end.Sub(start); d > 0 && d/200 > step {
		step = d / 200
	}

	qr, err := c.queryRange(ctx, promql, start, end, step)
	if err != nil {
		return nil, err
	}
	if len(qr.Data.Result) == 0 {
		return nil, nil
	}

	points := make([]platform.TimeseriesPoint, 0, len(qr.Data.Result[0].Values))
	for _, sample := range qr.Data.Result[0].Values {
		v, err := parseSampleValue(sample)
		if err != nil {
			continue
		}
		ts, ok := sample[0].(float64)
		if !ok {
			continue
		}
		points = append(points, platform.TimeseriesPoint{Timestamp: time.Unix(int64(ts), 0).UTC(), Value: v})
	}
	return points, nil
}

func (c *Client) QueryStatistics(ctx context.Context, metricName string, tags map[string]string, start, end time.Time) (*platform.Statistics, error) {
	points, err := c.QueryTimeseries(ctx, metricName, tags, start, end)
	if err != nil {
		return nil, err
	}
	return computeStatistics(points), nil
}

// CheckActiveAlerts returns the names of currently firing alerts matching
// tags, via /api/v1/alerts.
func (c *Client) CheckActiveAlerts(ctx context.Context, tags map[string]string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/alerts", nil)
	if err != nil {
		return nil, fmt.Errorf("build alerts request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alerts request failed: %w", err)
	}
	defer resp.Body.Close()

	var alertsResp struct {
		Status string `json:"status"`
		Data   struct {
			Alerts []struct {
				Labels map[string]string `json:"labels"`
				State  string             `json:"state"`
			} `json:"alerts"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&alertsResp); err != nil {
		return nil, fmt.Errorf("decode alerts response: %w", err)
	}

	var firing []string
	for _, a := range alertsResp.Data.Alerts {
		if a.State != "firing" {
			continue
		}
		if !labelsMatch(a.Labels, tags) {
			continue
		}
		firing = append(firing, a.Labels["alertname"])
	}
	return firing, nil
}

func labelsMatch(labels, tags map[string]string) bool {
	for k, v := range tags {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// GetMonitorStatus reports "firing" if any alert for the named monitor
// (matched by its "alertname" label) is firing, and "ok" otherwise;
// pending alerts are reported as "ok".
func (c *Client) GetMonitorStatus(ctx context.Context, monitorID string) (string, error) {
	alerts, err := c.CheckActiveAlerts(ctx, map[string]string{"alertname": monitorID})
	if err != nil {
		return "", err
	}
	if len(alerts) > 0 {
		return "firing", nil
	}
	return "ok", nil
}

func (c *Client) QueryRaw(ctx context.Context, promql string) ([]byte, error) {
	values := url.Values{}
	values.Set("query", promql)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/query?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build raw query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("raw query failed: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func parseSampleValue(sample [2]interface{}) (float64, error) {
	s, ok := sample[1].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected sample value type %T", sample[1])
	}
	return strconv.ParseFloat(s, 64)
}
