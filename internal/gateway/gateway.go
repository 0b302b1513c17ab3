// Package gateway is the public HTTP surface (spec §6): a thin,
// stdlib-only REST layer translating requests into Orchestrator and
// MonitoringSession manager calls and rendering their typed errors as
// the canonical {"detail": "..."} body. Grounded on the teacher's
// internal/server (http.Server lifecycle, timeouts) generalized from
// an OAuth-protected MCP proxy onto a plain method+path ServeMux.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/giantswarm/aifactory/internal/monitoring"
	"github.com/giantswarm/aifactory/internal/orchestrator"
	"github.com/giantswarm/aifactory/internal/recipe"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "gateway"

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 120 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// CommandRunner is the subset of transport.Transport the Gateway needs
// directly, for tailing a service's remote log file (spec §6 "GET
// /services/{id}/logs") — the only Gateway operation that doesn't go
// through the Orchestrator, since log tailing isn't part of its
// lifecycle or routing responsibilities.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// RecipeStore is the subset of recipe.Store the Gateway lists recipes
// from directly (the Orchestrator only ever fetches one recipe by name
// to submit a job, so listing lives here instead).
type RecipeStore interface {
	Get(name string) (*recipe.Recipe, error)
	List(category recipe.Category) []*recipe.Recipe
}

// Config bundles the Gateway's non-dependency settings.
type Config struct {
	Addr              string
	RemoteBasePath    string
	MonitoringWorkdir string
}

// Gateway is the versioned /api/v1 HTTP surface. It owns no state of
// its own beyond an http.Server; every request is answered by asking
// the Orchestrator, the RecipeStore, or the monitoring Manager.
type Gateway struct {
	cfg       Config
	orch      *orchestrator.Orchestrator
	recs      RecipeStore
	mon       *monitoring.Manager
	collector *monitoring.Collector
	runner    CommandRunner

	server *http.Server
}

// New constructs a Gateway and registers its routes.
func New(cfg Config, orch *orchestrator.Orchestrator, recs RecipeStore, mon *monitoring.Manager, collector *monitoring.Collector, runner CommandRunner) *Gateway {
	g := &Gateway{cfg: cfg, orch: orch, recs: recs, mon: mon, collector: collector, runner: runner}

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	return g
}

// Run starts the Gateway's HTTP server and blocks until ctx is
// cancelled, at which point it shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info(subsystem, "gateway listening on %s", g.cfg.Addr)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn(subsystem, "gateway shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/services", g.handleCreateService)
	mux.HandleFunc("GET /api/v1/services", g.handleListServices)
	mux.HandleFunc("GET /api/v1/services/targets", g.handleServiceTargets)
	mux.HandleFunc("GET /api/v1/services/{id}", g.handleGetService)
	mux.HandleFunc("DELETE /api/v1/services/{id}", g.handleStopService)
	mux.HandleFunc("POST /api/v1/services/{id}/status", g.handleServiceStatusAction)
	mux.HandleFunc("GET /api/v1/services/{id}/status", g.handleGetServiceStatus)
	mux.HandleFunc("GET /api/v1/services/{id}/logs", g.handleServiceLogs)
	mux.HandleFunc("GET /api/v1/services/{id}/metrics", g.handleServiceMetrics)

	mux.HandleFunc("POST /api/v1/service-groups", g.handleCreateGroup)
	mux.HandleFunc("GET /api/v1/service-groups", g.handleListGroups)
	mux.HandleFunc("GET /api/v1/service-groups/{id}", g.handleGetGroup)
	mux.HandleFunc("DELETE /api/v1/service-groups/{id}", g.handleStopGroup)
	mux.HandleFunc("GET /api/v1/service-groups/{id}/status", g.handleGetGroupStatus)

	mux.HandleFunc("GET /api/v1/recipes", g.handleListRecipes)

	mux.HandleFunc("GET /api/v1/vllm/services", g.handleVLLMServices)
	mux.HandleFunc("GET /api/v1/vllm/{id}/models", g.handleVLLMModels)
	mux.HandleFunc("POST /api/v1/vllm/{id}/prompt", g.handleVLLMPrompt)

	mux.HandleFunc("GET /api/v1/vector-db/{id}/collections", g.handleVectorDB)
	mux.HandleFunc("PUT /api/v1/vector-db/{id}/collections", g.handleVectorDB)
	mux.HandleFunc("DELETE /api/v1/vector-db/{id}/collections", g.handleVectorDB)
	mux.HandleFunc("GET /api/v1/vector-db/{id}/collections/{name}", g.handleVectorDB)
	mux.HandleFunc("PUT /api/v1/vector-db/{id}/collections/{name}", g.handleVectorDB)
	mux.HandleFunc("DELETE /api/v1/vector-db/{id}/collections/{name}", g.handleVectorDB)
	mux.HandleFunc("GET /api/v1/vector-db/{id}/collections/{name}/points", g.handleVectorDB)
	mux.HandleFunc("PUT /api/v1/vector-db/{id}/collections/{name}/points", g.handleVectorDB)
	mux.HandleFunc("POST /api/v1/vector-db/{id}/collections/{name}/points/search", g.handleVectorDB)

	mux.HandleFunc("POST /api/v1/sessions", g.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", g.handleListSessions)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", g.handleStopSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", g.handleSessionStatus)
	mux.HandleFunc("POST /api/v1/sessions/{id}/collect", g.handleSessionCollect)
}
