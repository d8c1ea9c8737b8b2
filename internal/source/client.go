// internal/source/client.go
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/strategy"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 16 << 20
)

// Client is a stateless request layer over the farm backend's IoT endpoints.
// Every response is normalized by the data package before it is returned.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the transport, e.g. to inject auth headers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{baseURL: u, http: http.DefaultClient, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReadingsQuery bounds a raw readings request. Zero values are omitted.
type ReadingsQuery struct {
	Limit int
	From  time.Time
	To    time.Time
}

type BulkQuery struct {
	From     time.Time
	To       time.Time
	Interval strategy.Granularity
}

type AlertsQuery struct {
	LotID    null.Int
	SensorID null.Int
	From     time.Time
	To       time.Time
}

// ListSensors lists sensors, narrowed server-side by lot and sub-lot.
func (c *Client) ListSensors(ctx context.Context, f data.Filter) ([]data.Sensor, error) {
	q := url.Values{}
	setInt(q, "loteId", f.LotID)
	setInt(q, "subLoteId", f.SubLotID)
	body, err := c.do(ctx, "list sensors", http.MethodGet, "/iot/sensors", q, nil)
	if err != nil {
		return nil, err
	}
	sensors, err := data.ParseSensors(body)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	return sensors, nil
}

// GetReadings returns raw readings in server order.
func (c *Client) GetReadings(ctx context.Context, sensorID int64, rq ReadingsQuery) ([]data.Reading, error) {
	q := url.Values{}
	if rq.Limit > 0 {
		q.Set("limit", strconv.Itoa(rq.Limit))
	}
	setTime(q, "from", rq.From)
	setTime(q, "to", rq.To)
	path := "/iot/sensors/" + strconv.FormatInt(sensorID, 10) + "/readings"
	body, err := c.do(ctx, "get readings", http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	readings, err := data.ParseReadings(body)
	if err != nil {
		return nil, fmt.Errorf("get readings: %w", err)
	}
	return readings, nil
}

type bulkRequest struct {
	SensorIDs []int64 `json:"sensorIds"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Interval  string  `json:"interval"`
}

// GetBulkAggregated fetches bucketed averages for many sensors in one call.
func (c *Client) GetBulkAggregated(ctx context.Context, sensorIDs []int64, bq BulkQuery) (map[int64][]data.AggregatedBucket, error) {
	if !bq.Interval.Bulk() {
		return nil, fmt.Errorf("bulk aggregated: unsupported interval %q", bq.Interval)
	}
	req := bulkRequest{
		SensorIDs: sensorIDs,
		From:      bq.From.UTC().Format(time.RFC3339),
		To:        bq.To.UTC().Format(time.RFC3339),
		Interval:  string(bq.Interval),
	}
	body, err := c.do(ctx, "bulk aggregated", http.MethodPost, "/iot/readings/bulk", nil, req)
	if err != nil {
		return nil, err
	}
	out, err := data.ParseBulk(body)
	if err != nil {
		return nil, fmt.Errorf("bulk aggregated: %w", err)
	}
	return out, nil
}

func (c *Client) GetAlerts(ctx context.Context, aq AlertsQuery) ([]data.Alert, error) {
	q := url.Values{}
	setInt(q, "loteId", aq.LotID)
	setInt(q, "sensorId", aq.SensorID)
	setTime(q, "from", aq.From)
	setTime(q, "to", aq.To)
	body, err := c.do(ctx, "get alerts", http.MethodGet, "/iot/alerts", q, nil)
	if err != nil {
		return nil, err
	}
	alerts, err := data.ParseAlerts(body)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	return alerts, nil
}

// GetSummary fetches the server-side statistics for a sensor type. Missing
// fields are reported as nulls, not as an error.
func (c *Client) GetSummary(ctx context.Context, sensorTypeID int64, from, to time.Time) (data.SensorSummary, error) {
	q := url.Values{}
	q.Set("tipoSensorId", strconv.FormatInt(sensorTypeID, 10))
	setTime(q, "from", from)
	setTime(q, "to", to)
	body, err := c.do(ctx, "get summary", http.MethodGet, "/reports/iot/summary", q, nil)
	if err != nil {
		return data.SensorSummary{}, err
	}
	summary, err := data.ParseSummary(body)
	if err != nil {
		return data.SensorSummary{}, fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.baseURL
	u.Path = u.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response %q", snippet(body))}
	}
	return body, nil
}

func setInt(q url.Values, key string, v null.Int) {
	if v.Valid {
		q.Set(key, strconv.FormatInt(v.Int64, 10))
	}
}

func setTime(q url.Values, key string, t time.Time) {
	if !t.IsZero() {
		q.Set(key, t.UTC().Format(time.RFC3339))
	}
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
