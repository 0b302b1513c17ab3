package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aifactory/internal/batchclient"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/internal/monitoring"
	"github.com/giantswarm/aifactory/internal/orchestrator"
	"github.com/giantswarm/aifactory/internal/recipe"
)

// fakeBatchClient is a minimal scheduler double, mirroring
// internal/orchestrator's own (unexported, so not reusable from here).
type fakeBatchClient struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBatchClient) Submit(ctx context.Context, job batchclient.JobSubmission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "job-1", nil
}

func (f *fakeBatchClient) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeBatchClient) Status(ctx context.Context, jobID string) (string, error) {
	return "running", nil
}

func (f *fakeBatchClient) Details(ctx context.Context, jobID string) (*batchclient.JobDetails, error) {
	return &batchclient.JobDetails{JobID: jobID, Nodes: []string{"node1"}}, nil
}

type fakeForward struct{ server *httptest.Server }

func (f *fakeForward) HTTPClient(ctx context.Context) (*http.Client, error) {
	if f.server == nil {
		return http.DefaultClient, nil
	}
	return f.server.Client(), nil
}

type fakeRecipeStore struct {
	byKey map[string]*recipe.Recipe
}

func (f *fakeRecipeStore) Get(name string) (*recipe.Recipe, error) {
	if r, ok := f.byKey[name]; ok {
		return r, nil
	}
	return nil, assertNotFound{name}
}

func (f *fakeRecipeStore) List(category recipe.Category) []*recipe.Recipe {
	out := make([]*recipe.Recipe, 0, len(f.byKey))
	for _, r := range f.byKey {
		if category == "" || r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

type assertNotFound struct{ name string }

func (e assertNotFound) Error() string { return "recipe not found: " + e.name }

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name:     "tiny-llama",
		Category: recipe.CategoryInference,
		Image:    "tiny-llama.sif",
		Ports:    []int{8001},
		Resources: recipe.Resources{
			Nodes: 1, CPU: 4, Memory: "16G", TimeLimit: 60,
		},
		Path: "inference/tiny-llama",
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := &config.Config{Username: "tester", RemoteBasePath: "/remote", RecipesDir: "recipes"}
	store := &fakeRecipeStore{byKey: map[string]*recipe.Recipe{"tiny-llama": testRecipe()}}
	orch := orchestrator.New(cfg, store, &fakeBatchClient{}, &fakeForward{})

	dir := t.TempDir()
	renderer := monitoring.NewRenderer(filepath.Join(dir, "scrape-config.yaml"))
	msServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(msServer.Close)
	msClient := monitoring.NewMetricStoreClient(msServer.URL, msServer.Client())
	mon := monitoring.NewManager(renderer, msClient)
	collector := monitoring.NewCollector(msClient)

	return New(Config{Addr: ":0", RemoteBasePath: "/remote", MonitoringWorkdir: dir}, orch, store, mon, collector, nil)
}

func (g *Gateway) testHandler() http.Handler {
	mux := http.NewServeMux()
	g.registerRoutes(mux)
	return mux
}

func TestCreateAndGetService(t *testing.T) {
	gw := newTestGateway(t)
	server := httptest.NewServer(gw.testHandler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/services", "application/json",
		jsonBody(map[string]interface{}{"recipe_name": "tiny-llama"}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created serviceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "job-1", created.ID)

	resp2, err := http.Get(server.URL + "/api/v1/services/" + created.ID)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestGetUnknownService_RendersCanonicalErrorBody(t *testing.T) {
	gw := newTestGateway(t)
	server := httptest.NewServer(gw.testHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/services/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Detail)
}

func TestListRecipes(t *testing.T) {
	gw := newTestGateway(t)
	server := httptest.NewServer(gw.testHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/recipes")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recipes []recipeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recipes))
	require.Len(t, recipes, 1)
	assert.Equal(t, "tiny-llama", recipes[0].Name)
}

func TestSessionCreate_SecondCallConflicts(t *testing.T) {
	gw := newTestGateway(t)
	server := httptest.NewServer(gw.testHandler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/sessions", "application/json",
		jsonBody(map[string]interface{}{"session_id": "mon-A"}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp2, err := http.Post(server.URL+"/api/v1/sessions", "application/json",
		jsonBody(map[string]interface{}{"session_id": "mon-B"}))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Contains(t, body.Detail, "mon-A")
}

func jsonBody(v interface{}) *bytes.Reader {
	buf, _ := json.Marshal(v)
	return bytes.NewReader(buf)
}
