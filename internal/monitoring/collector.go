package monitoring

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/aifactory/internal/apperror"
)

// Summary is the single-row aggregate a collection window produces
// (spec §4.5 "Collection"). Fields are pointers so an unavailable
// metric (the underlying PromQL series returned nothing) renders as an
// empty cell in metrics_summary.csv, and as null when JSON-encoded,
// instead of a misleading zero.
type Summary struct {
	ThroughputQPS  *float64 `json:"throughput_qps"`
	CPUUtilPct     *float64 `json:"cpu_util_avg_pct"`
	GPUUtilPct     *float64 `json:"gpu_util_avg_pct"`
	LatencyP50Ms   *float64 `json:"latency_p50_ms"`
	LatencyP95Ms   *float64 `json:"latency_p95_ms"`
	LatencyP99Ms   *float64 `json:"latency_p99_ms"`
}

// Artifacts names the files a collection run wrote.
type Artifacts struct {
	TableCSV     string `json:"tables"`
	ManifestJSON string `json:"manifest"`
}

type manifest struct {
	RunID           string            `json:"run_id"`
	SessionID       string            `json:"session_id"`
	GeneratedAtUTC  string            `json:"generated_at_utc"`
	Window          manifestWindow    `json:"window"`
	Files           map[string]string `json:"files"`
}

type manifestWindow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Collector issues the range-query battery (throughput, CPU
// utilization, GPU utilization, latency percentiles via
// histogram-quantile) and writes the averaged result to disk. Grounded
// on `original_source/.../metrics/collector_agg.py`'s `CollectorAgg`
// (`collect_window`/`save`), translated from a hand-rolled CSV
// DictWriter onto Go's stdlib `encoding/csv`.
type Collector struct {
	store *MetricStoreClient
}

// NewCollector constructs a Collector against store.
func NewCollector(store *MetricStoreClient) *Collector {
	return &Collector{store: store}
}

// CollectWindow runs the metric battery over [start, end] and
// averages each series' values, leaving a metric nil if its query
// returned no samples.
func (c *Collector) CollectWindow(ctx context.Context, start, end string) (Summary, error) {
	const step = "15s"

	var throughput, cpu, gpu, p50, p95, p99 []RangeSample

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range []struct {
		query string
		dest  *[]RangeSample
	}{
		{`sum(rate(http_requests_total[1m]))`, &throughput},
		{`1 - avg(rate(node_cpu_seconds_total{mode="idle"}[1m]))`, &cpu},
		{`avg(DCGM_FI_DEV_GPU_UTIL)`, &gpu},
		{`histogram_quantile(0.50, sum by (le) (rate(http_server_request_duration_seconds_bucket[1m])))`, &p50},
		{`histogram_quantile(0.95, sum by (le) (rate(http_server_request_duration_seconds_bucket[1m])))`, &p95},
		{`histogram_quantile(0.99, sum by (le) (rate(http_server_request_duration_seconds_bucket[1m])))`, &p99},
	} {
		q := q
		g.Go(func() error {
			samples, err := c.store.QueryRange(gctx, q.query, start, end, step)
			if err != nil {
				return err
			}
			*q.dest = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	var summary Summary
	summary.ThroughputQPS = average(throughput, 1)
	summary.CPUUtilPct = average(cpu, 100)
	summary.GPUUtilPct = average(gpu, 1)
	summary.LatencyP50Ms = average(p50, 1000)
	summary.LatencyP95Ms = average(p95, 1000)
	summary.LatencyP99Ms = average(p99, 1000)

	return summary, nil
}

// average returns the mean of samples' values scaled by factor, or nil
// if samples is empty.
func average(samples []RangeSample, factor float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	mean := (sum / float64(len(samples))) * factor
	return &mean
}

// Save writes summary as a single-row CSV plus a MANIFEST.json to
// outDir, mirroring CollectorAgg.save's two-file output.
func (c *Collector) Save(summary Summary, outDir, runID, sessionID, startISO, endISO string, now time.Time) (Artifacts, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Artifacts{}, apperror.Internal(subsystem, err, "creating collection output directory")
	}

	csvPath := filepath.Join(outDir, "metrics_summary.csv")
	if err := writeSummaryCSV(csvPath, summary, runID, sessionID, startISO, endISO); err != nil {
		return Artifacts{}, err
	}

	manifestPath := filepath.Join(outDir, "MANIFEST.json")
	m := manifest{
		RunID:          runID,
		SessionID:      sessionID,
		GeneratedAtUTC: now.UTC().Format(time.RFC3339),
		Window:         manifestWindow{From: startISO, To: endISO},
		Files:          map[string]string{"summary_csv": csvPath},
	}
	buf, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return Artifacts{}, apperror.Internal(subsystem, err, "marshaling collection manifest")
	}
	if err := os.WriteFile(manifestPath, buf, 0o644); err != nil {
		return Artifacts{}, apperror.Internal(subsystem, err, "writing collection manifest")
	}

	return Artifacts{TableCSV: csvPath, ManifestJSON: manifestPath}, nil
}

func writeSummaryCSV(path string, s Summary, runID, sessionID, startISO, endISO string) error {
	f, err := os.Create(path)
	if err != nil {
		return apperror.Internal(subsystem, err, "creating metrics summary csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"run_id", "session_id", "from", "to",
		"throughput_qps", "cpu_util_avg_pct", "gpu_util_avg_pct",
		"latency_p50_ms", "latency_p95_ms", "latency_p99_ms",
	}
	if err := w.Write(header); err != nil {
		return apperror.Internal(subsystem, err, "writing metrics summary csv header")
	}

	row := []string{
		runID, sessionID, startISO, endISO,
		formatMetric(s.ThroughputQPS), formatMetric(s.CPUUtilPct), formatMetric(s.GPUUtilPct),
		formatMetric(s.LatencyP50Ms), formatMetric(s.LatencyP95Ms), formatMetric(s.LatencyP99Ms),
	}
	if err := w.Write(row); err != nil {
		return apperror.Internal(subsystem, err, "writing metrics summary csv row")
	}
	w.Flush()
	return w.Error()
}

func formatMetric(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}
