package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/aifactory/internal/apperror"
)

const subsystem = "monitoring"

// MetricStoreClient talks to the external metric-storage engine (spec
// §6 "Metric store (external, consumed)"): readiness checks, hot
// reload, and range queries. Grounded on
// `original_source/.../managers/prometheus_manager.py`'s
// `PrometheusManager` (is_ready/reload_config/query_range), translated
// from a `requests.Session` onto a plain `*http.Client`.
type MetricStoreClient struct {
	baseURL string
	client  *http.Client
}

// NewMetricStoreClient constructs a client against baseURL.
func NewMetricStoreClient(baseURL string, client *http.Client) *MetricStoreClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MetricStoreClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// IsReady reports whether the metric store is ready to serve queries.
func (m *MetricStoreClient) IsReady(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.baseURL+"/-/ready", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Reload triggers a hot-reload of the metric store's scrape config.
// Reload failure is a hard error to the caller that mutated the
// TargetSet (spec §4.5 "Config renderer").
func (m *MetricStoreClient) Reload(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.baseURL+"/-/reload", nil)
	if err != nil {
		return apperror.Internal(subsystem, err, "building reload request")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return apperror.TransportUnavailable(err, "reloading metric store config")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return apperror.Upstream(resp.StatusCode, string(body))
	}
	return nil
}

// RangeSample is one (timestamp, value) pair from a query_range result.
type RangeSample struct {
	Timestamp float64
	Value     float64
}

type rangeQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Values [][2]interface{} `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange runs a PromQL range query and flattens every returned
// series into one (timestamp, value) list, matching
// `CollectorAgg._series_values`'s flattening behavior (the aggregation
// step averages across series as well as across time).
func (m *MetricStoreClient) QueryRange(ctx context.Context, query, start, end, step string) ([]RangeSample, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("query", query)
	q.Set("start", start)
	q.Set("end", end)
	q.Set("step", step)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.baseURL+"/api/v1/query_range?"+q.Encode(), nil)
	if err != nil {
		return nil, apperror.Internal(subsystem, err, "building range query request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// A failed range query degrades to an empty series rather than an
		// error, matching the Python collector's URLError-to-[] fallback.
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var parsed rangeQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Status != "success" {
		return nil, nil
	}

	var samples []RangeSample
	for _, series := range parsed.Data.Result {
		for _, pair := range series.Values {
			if len(pair) != 2 {
				continue
			}
			ts, ok1 := pair[0].(float64)
			valStr, ok2 := pair[1].(string)
			if !ok1 || !ok2 {
				continue
			}
			var val float64
			if _, err := fmt.Sscanf(valStr, "%g", &val); err != nil {
				continue
			}
			samples = append(samples, RangeSample{Timestamp: ts, Value: val})
		}
	}
	return samples, nil
}
