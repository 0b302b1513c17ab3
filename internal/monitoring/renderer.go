package monitoring

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// scrapeConfigDoc mirrors the metric store's scrape-config file format
// (spec §6): one global.scrape_interval key and a scrape_configs list.
type scrapeConfigDoc struct {
	Global struct {
		ScrapeInterval string `yaml:"scrape_interval"`
	} `yaml:"global"`
	ScrapeConfigs []scrapeJob `yaml:"scrape_configs"`
}

type scrapeJob struct {
	JobName      string         `yaml:"job_name"`
	Scheme       string         `yaml:"scheme,omitempty"`
	MetricsPath  string         `yaml:"metrics_path,omitempty"`
	StaticConfigs []staticConfig `yaml:"static_configs"`
}

type staticConfig struct {
	Targets []string `yaml:"targets"`
}

// Renderer emits a scrape-config document and writes it atomically —
// render to a temporary file in the same directory, then rename into
// place — so a concurrent reader (the metric store reloading) never
// observes a partially-written file. Grounded on
// `original_source/.../config/renderer.py`'s `ConfigRenderer`, which
// writes in place; the temp-file-then-rename step is this module's
// own addition per spec §4.5's explicit atomicity requirement.
type Renderer struct {
	configPath string
}

// NewRenderer constructs a Renderer that writes to configPath.
func NewRenderer(configPath string) *Renderer {
	return &Renderer{configPath: configPath}
}

// Render writes targets as a scrape-config document: aggregated
// static_configs for exporter jobs ("node", "gpu"), one job per
// service target so per-job labels stay stable across URL changes
// (spec §4.5 "Config renderer").
func (r *Renderer) Render(clients []ExporterEndpoints, services []ServiceTarget, scrapeInterval string) error {
	var doc scrapeConfigDoc
	doc.Global.ScrapeInterval = scrapeInterval

	nodeTargets := make([]string, 0, len(clients))
	gpuTargets := make([]string, 0, len(clients))
	for _, c := range clients {
		if c.Node != "" {
			nodeTargets = append(nodeTargets, c.Node)
		}
		if c.GPU != "" {
			gpuTargets = append(gpuTargets, c.GPU)
		}
	}
	doc.ScrapeConfigs = append(doc.ScrapeConfigs,
		scrapeJob{JobName: "node", StaticConfigs: []staticConfig{{Targets: nodeTargets}}},
		scrapeJob{JobName: "gpu", StaticConfigs: []staticConfig{{Targets: gpuTargets}}},
	)

	for _, svc := range services {
		scheme, host, path := splitMetricsURL(svc.URL)
		doc.ScrapeConfigs = append(doc.ScrapeConfigs, scrapeJob{
			JobName:       svc.ServiceID,
			Scheme:        scheme,
			MetricsPath:   path,
			StaticConfigs: []staticConfig{{Targets: []string{host}}},
		})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("rendering scrape config: %w", err)
	}

	return writeAtomic(r.configPath, out)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".scrape-config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp scrape config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp scrape config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp scrape config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming scrape config into place: %w", err)
	}
	return nil
}

// splitMetricsURL pulls scheme, host:port, and path out of a metrics
// URL like "http://10.0.0.5:8001/api/v1/services/job-1/metrics",
// mirroring the Python renderer's use of urllib.parse.urlparse.
func splitMetricsURL(raw string) (scheme, host, path string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "http", raw, "/metrics"
	}
	scheme = u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path = u.Path
	if path == "" {
		path = "/metrics"
	}
	return scheme, u.Host, path
}
