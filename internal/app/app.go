// Package app wires every component together and owns the process
// lifecycle, following the teacher's cmd/serve.go + internal/app split:
// cmd/serve.go builds a Config from flags and the environment, then
// hands off to Application.Run for the long-running process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/giantswarm/aifactory/internal/batchclient"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/internal/gateway"
	"github.com/giantswarm/aifactory/internal/monitoring"
	"github.com/giantswarm/aifactory/internal/orchestrator"
	"github.com/giantswarm/aifactory/internal/recipe"
	"github.com/giantswarm/aifactory/internal/transport"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "app"

// targetSyncInterval is how often the monitoring sync loop refreshes
// the active session's service targets from the Orchestrator's
// resolved endpoints (spec §4.5 "Service targets... discovered by
// asking the Orchestrator"). Not tied to ReadinessTickInterval since
// it's a concern of monitoring, not of the readiness loop.
const targetSyncInterval = 15 * time.Second

// Config bundles the CLI-level flags cmd/serve.go collects on top of
// the environment-derived config.Config.
type Config struct {
	Debug bool
}

// NewConfig constructs a Config from the serve command's flags.
func NewConfig(debug bool) *Config {
	return &Config{Debug: debug}
}

// Application owns every long-lived component and the background
// goroutines tying them together.
type Application struct {
	cfg *config.Config

	transport *transport.Transport
	batch     *batchclient.Client
	recipes   *recipe.Store
	orch      *orchestrator.Orchestrator
	monitor   *monitoring.Manager
	collector *monitoring.Collector
	gw        *gateway.Gateway
}

// NewApplication reads the process environment into a config.Config
// and constructs every component, wiring each one's dependencies by
// hand (no DI framework anywhere in the corpus).
func NewApplication(appCfg *Config) (*Application, error) {
	if appCfg.Debug {
		logging.Init(logging.LevelDebug, os.Stderr)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	tr := transport.New(cfg)

	// The batch API is reached through the transport's dynamic forward,
	// which Run brings up via tr.Start before any batch call is made.
	forwardProxy := &url.URL{Scheme: "socks5h", Host: fmt.Sprintf("127.0.0.1:%d", cfg.DynamicForwardPort)}
	batchHTTP := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(forwardProxy)}}
	batch := batchclient.New(cfg, tr.AcquireBatchToken, batchHTTP)

	recipes := recipe.NewStore(cfg.RecipesDir)

	orch := orchestrator.New(cfg, recipes, batch, tr)

	renderer := monitoring.NewRenderer(scrapeConfigPath(cfg))
	store := monitoring.NewMetricStoreClient(cfg.MetricStoreBaseURL, &http.Client{Timeout: 30 * time.Second})
	monitor := monitoring.NewManager(renderer, store)
	collector := monitoring.NewCollector(store)

	gw := gateway.New(gateway.Config{
		Addr:              cfg.GatewayAddr,
		RemoteBasePath:    cfg.RemoteBasePath,
		MonitoringWorkdir: cfg.MonitoringWorkdir,
	}, orch, recipes, monitor, collector, tr)

	return &Application{
		cfg:       cfg,
		transport: tr,
		batch:     batch,
		recipes:   recipes,
		orch:      orch,
		monitor:   monitor,
		collector: collector,
		gw:        gw,
	}, nil
}

func scrapeConfigPath(cfg *config.Config) string {
	return cfg.MonitoringWorkdir + "/scrape-config.yaml"
}

// Run brings up every background process and blocks until ctx is
// cancelled, then shuts each down in roughly reverse order.
func (a *Application) Run(ctx context.Context) error {
	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer a.transport.Stop()

	if err := a.recipes.Load(); err != nil {
		return fmt.Errorf("loading recipes: %w", err)
	}
	if err := a.recipes.Watch(ctx); err != nil {
		logging.Warn(subsystem, "recipe directory watch not started: %v", err)
	}

	a.orch.Start(ctx)
	defer a.orch.Stop()

	go a.syncMonitoringTargets(ctx)

	logging.Info(subsystem, "application started")
	return a.gw.Run(ctx)
}

// syncMonitoringTargets periodically mirrors the Orchestrator's
// resolved service endpoints into the active monitoring session's
// TargetSet, implementing spec §4.5's "service targets... discovered
// by asking the Orchestrator" without requiring an explicit
// registration call per service.
func (a *Application) syncMonitoringTargets(ctx context.Context) {
	ticker := time.NewTicker(targetSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.syncOnce(ctx)
		}
	}
}

func (a *Application) syncOnce(ctx context.Context) {
	sessions := a.monitor.ListSessions()
	var active *monitoring.Session
	for _, s := range sessions {
		if s.Status() == monitoring.StatusRunning {
			active = s
			break
		}
	}
	if active == nil {
		return
	}

	for id, ep := range a.orch.Endpoints() {
		if err := a.monitor.RegisterService(ctx, active.ID, id, ep.URL()+"/metrics"); err != nil {
			logging.Warn(subsystem, "registering monitoring target for %s: %v", id, err)
		}
	}
}
