package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/aifactory/internal/batchclient"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/internal/recipe"
)

// fakeBatchClient is a hand-written scheduler double, following the
// teacher's internal/testing/mock fakes rather than a mocking library.
type fakeBatchClient struct {
	mu       sync.Mutex
	submits  int
	jobState map[string]string
	details  map[string]*batchclient.JobDetails
	cancels  []string
}

func newFakeBatchClient() *fakeBatchClient {
	return &fakeBatchClient{
		jobState: map[string]string{},
		details:  map[string]*batchclient.JobDetails{},
	}
}

func (f *fakeBatchClient) Submit(ctx context.Context, job batchclient.JobSubmission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	id := "job-" + job.Name + "-" + time.Now().Format("150405.000000000")
	f.jobState[id] = "running"
	return id, nil
}

func (f *fakeBatchClient) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, jobID)
	f.jobState[jobID] = "cancelled"
	return nil
}

func (f *fakeBatchClient) Status(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.jobState[jobID]; ok {
		return s, nil
	}
	return "unknown", nil
}

func (f *fakeBatchClient) Details(ctx context.Context, jobID string) (*batchclient.JobDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.details[jobID]; ok {
		return d, nil
	}
	return &batchclient.JobDetails{JobID: jobID, Nodes: []string{"node1"}}, nil
}

func (f *fakeBatchClient) setState(jobID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobState[jobID] = state
}

// fakeForward routes every request to a local httptest server regardless
// of the host:port in the URL, simulating the SOCKS dynamic forward
// without a real SSH tunnel.
type fakeForward struct {
	server *httptest.Server
}

func (f *fakeForward) HTTPClient(ctx context.Context) (*http.Client, error) {
	return &http.Client{
		Transport: &rewriteTransport{target: f.server.URL},
	}, nil
}

type rewriteTransport struct{ target string }

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := http.NewRequest(req.Method, t.target+req.URL.Path, req.Body)
	if err != nil {
		return nil, err
	}
	targetURL.Header = req.Header
	return http.DefaultTransport.RoundTrip(targetURL)
}

// fakeRecipeStore serves recipes from an in-memory map.
type fakeRecipeStore struct {
	recipes map[string]*recipe.Recipe
}

func (f *fakeRecipeStore) Get(name string) (*recipe.Recipe, error) {
	if r, ok := f.recipes[name]; ok {
		return r, nil
	}
	// Like recipe.Store.Get, also resolve the canonical "category/name" path.
	for _, r := range f.recipes {
		if r.Path == name {
			return r, nil
		}
	}
	return nil, assert.AnError
}

func testConfig() *config.Config {
	return &config.Config{
		Username:       "tester",
		RemoteBasePath: "/remote",
		RecipesDir:     "recipes",
	}
}

func inferenceRecipe() *recipe.Recipe {
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

func TestStartService_RegistersPendingService(t *testing.T) {
	batch := newFakeBatchClient()
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": inferenceRecipe()}}
	o := New(testConfig(), store, batch, &fakeForward{})

	svc, err := o.StartService(context.Background(), "tiny-llama", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, svc.Status())
	assert.Equal(t, 1, batch.submits)

	got, err := o.GetService(svc.ID)
	require.NoError(t, err)
	assert.Same(t, svc, got)
}

func TestStartService_RejectsReplicaGroupRecipe(t *testing.T) {
	gpu := 1
	r := inferenceRecipe()
	r.GPUPerReplica = &gpu
	r.Resources.GPU = 4
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": r}}
	o := New(testConfig(), store, newFakeBatchClient(), &fakeForward{})

	_, err := o.StartService(context.Background(), "tiny-llama", nil)
	assert.Error(t, err)
}

func TestStartReplicaGroup_SubmitsOneJobPerReplica(t *testing.T) {
	gpu := 1
	r := inferenceRecipe()
	r.GPUPerReplica = &gpu
	r.Resources.GPU = 4
	r.Resources.Nodes = 2
	r.BasePort = 9000
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": r}}
	batch := newFakeBatchClient()
	o := New(testConfig(), store, batch, &fakeForward{})

	group, err := o.StartReplicaGroup(context.Background(), "tiny-llama", nil)
	require.NoError(t, err)
	assert.Len(t, group.Replicas(), 8) // 2 nodes * (4 gpu / 1 per replica)
	assert.Equal(t, 8, batch.submits)
}

func TestStopService_IsIdempotent(t *testing.T) {
	batch := newFakeBatchClient()
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": inferenceRecipe()}}
	o := New(testConfig(), store, batch, &fakeForward{})

	svc, err := o.StartService(context.Background(), "tiny-llama", nil)
	require.NoError(t, err)

	require.NoError(t, o.StopService(context.Background(), svc.ID))
	require.NoError(t, o.StopService(context.Background(), svc.ID))
	assert.Equal(t, StatusCancelled, svc.Status())
}

func TestResolveServiceEndpoint_Order(t *testing.T) {
	batch := newFakeBatchClient()
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": inferenceRecipe()}}
	o := New(testConfig(), store, batch, &fakeForward{})

	svc, err := o.StartService(context.Background(), "tiny-llama", nil)
	require.NoError(t, err)

	// No registered/cached endpoint yet: falls back to batch Details + recipe default port.
	ep, err := o.resolveServiceEndpoint(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, "node1", ep.Host)
	assert.Equal(t, 8001, ep.Port)

	// A registered endpoint takes priority over recomputing from Details.
	o.registry.RegisterEndpoint(svc.ID, Endpoint{Host: "other", Port: 1})
	ep, err = o.resolveServiceEndpoint(context.Background(), svc)
	require.NoError(t, err)
	assert.Equal(t, "other", ep.Host)
}

func TestReadiness_ServiceBecomesReadyOnSuccessfulProbe(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"tiny-llama-7b"}]}`))
	}))
	defer upstream.Close()

	batch := newFakeBatchClient()
	store := &fakeRecipeStore{recipes: map[string]*recipe.Recipe{"tiny-llama": inferenceRecipe()}}
	o := New(testConfig(), store, batch, &fakeForward{server: upstream})

	svc, err := o.StartService(context.Background(), "tiny-llama", nil)
	require.NoError(t, err)

	require.NoError(t, o.probeService(context.Background(), svc))
	assert.Equal(t, StatusReady, svc.Status())
	model, ok := svc.CachedModel(time.Hour)
	assert.True(t, ok)
	assert.Equal(t, "tiny-llama-7b", model)
}

func TestReplicaGroup_RoundRobinRotation(t *testing.T) {
	group := NewReplicaGroup("grp-1", "inference/tiny-llama", nil)
	r1 := &Replica{JobID: "job-1", Port: 9000}
	r2 := &Replica{JobID: "job-2", Port: 9001}
	r3 := &Replica{JobID: "job-3", Port: 9002}
	group.AddReplica(r1)
	group.AddReplica(r2)
	group.AddReplica(r3)

	first := group.NextReplicaOrder()
	require.Len(t, first, 3)
	assert.Equal(t, r1.ID(), first[0].ID())

	second := group.NextReplicaOrder()
	assert.Equal(t, r2.ID(), second[0].ID())

	third := group.NextReplicaOrder()
	assert.Equal(t, r3.ID(), third[0].ID())

	fourth := group.NextReplicaOrder()
	assert.Equal(t, r1.ID(), fourth[0].ID())
}

func TestPromptGroup_FailsOverToNextReplica(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer upstream.Close()

	group := NewReplicaGroup("grp-1", "inference/tiny-llama", nil)
	bad := &Replica{JobID: "job-bad", Port: 9000}
	bad.SetStatus(StatusReady)
	good := &Replica{JobID: "job-good", Port: 9001}
	good.SetStatus(StatusReady)
	group.AddReplica(bad)
	group.AddReplica(good)

	o := &Orchestrator{registry: NewRegistry(), forward: &fakeForward{server: upstream}}
	o.registry.AddGroup(group)
	// bad replica has no registered endpoint and no resolved node, so it
	// fails endpoint resolution and the router must fail over to good.
	o.registry.RegisterEndpoint(good.ID(), Endpoint{Host: "doesnotmatter", Port: 9001})

	result, err := o.Prompt(context.Background(), "grp-1", map[string]interface{}{"prompt": "hi"})
	require.NoError(t, err)
	assert.Equal(t, good.ID(), result.RoutedTo)
	assert.Equal(t, StatusFailed, bad.Status())
}
