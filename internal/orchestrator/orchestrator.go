package orchestrator

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/batchclient"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/internal/recipe"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "orchestrator"

// BatchClient is the subset of batchclient.Client the orchestrator
// depends on; an interface so tests can substitute a fake scheduler.
type BatchClient interface {
	Submit(ctx context.Context, job batchclient.JobSubmission) (string, error)
	Cancel(ctx context.Context, jobID string) error
	Status(ctx context.Context, jobID string) (string, error)
	Details(ctx context.Context, jobID string) (*batchclient.JobDetails, error)
}

// Forward is the subset of transport.Transport the orchestrator needs
// to reach compute-node HTTP endpoints.
type Forward interface {
	HTTPClient(ctx context.Context) (*http.Client, error)
}

// RecipeStore is the subset of recipe.Store the orchestrator depends on.
type RecipeStore interface {
	Get(name string) (*recipe.Recipe, error)
}

// Orchestrator owns service and replica-group state, submits jobs,
// runs the readiness loop, resolves endpoints, and routes data-plane
// requests. Grounded on the teacher's internal/orchestrator.Orchestrator
// (service registry + background loop + REST-surface methods),
// retargeted from a Kubernetes service registry onto batch-scheduled
// jobs and replica groups.
type Orchestrator struct {
	cfg      *config.Config
	registry *Registry
	recipes  RecipeStore
	batch    BatchClient
	forward  Forward
	builder  *recipe.ScriptBuilder

	stopCh chan struct{}
}

// New constructs an Orchestrator. Call Start to begin the readiness loop.
func New(cfg *config.Config, recipes RecipeStore, batch BatchClient, forward Forward) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: NewRegistry(),
		recipes:  recipes,
		batch:    batch,
		forward:  forward,
		builder:  recipe.NewScriptBuilder(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the readiness loop on a background goroutine. It
// returns immediately; the loop runs until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.readinessLoop(ctx)
}

// Stop signals the readiness loop to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
}

// StartService submits a recipe as a single service (non-replica-group
// path). The returned id is resolvable for reads before this call
// returns (spec §5 ordering guarantee (a)).
func (o *Orchestrator) StartService(ctx context.Context, recipeName string, cfg map[string]interface{}) (*Service, error) {
	r, err := o.loadAndMerge(recipeName, cfg)
	if err != nil {
		return nil, err
	}
	if r.IsReplicaGroup() {
		return nil, apperror.BadRequest("recipe %s is a replica-group recipe; use StartReplicaGroup", recipeName)
	}

	paths := o.scriptPaths(r)
	script := o.builder.BuildSingleNode(r, paths)

	jobID, err := o.submitJob(ctx, r, script)
	if err != nil {
		return nil, err
	}

	svc := NewService(jobID, r.Path, string(r.Category), cfg, r.Resources.Nodes)
	o.registry.AddService(svc)
	logging.Info(subsystem, "submitted service %s from recipe %s", jobID, r.Path)
	return svc, nil
}

// StartReplicaGroup submits every replica of a replica-group recipe as
// its own job and registers the group.
func (o *Orchestrator) StartReplicaGroup(ctx context.Context, recipeName string, cfg map[string]interface{}) (*ReplicaGroup, error) {
	r, err := o.loadAndMerge(recipeName, cfg)
	if err != nil {
		return nil, err
	}
	if !r.IsReplicaGroup() {
		return nil, apperror.BadRequest("recipe %s is not a replica-group recipe", recipeName)
	}

	groupID := "grp-" + uuid.NewString()
	group := NewReplicaGroup(groupID, r.Path, cfg)

	totalReplicas := r.Resources.Nodes * r.ReplicasPerNode()
	for i := 0; i < totalReplicas; i++ {
		nodeIndex := i / r.ReplicasPerNode()
		gpuIndex := i % r.ReplicasPerNode()
		port := r.BasePort + i

		paths := o.scriptPaths(r)
		script := o.builder.BuildReplica(r, paths, i)

		jobID, err := o.submitJob(ctx, r, script)
		if err != nil {
			logging.Error(subsystem, err, "submitting replica %d of group %s", i, groupID)
			continue
		}

		group.AddJob(jobID)
		replica := &Replica{JobID: jobID, Port: port, NodeIndex: nodeIndex, GPUIndex: gpuIndex}
		replica.SetStatus(StatusPending)
		group.AddReplica(replica)
	}

	if len(group.Replicas()) == 0 {
		return nil, apperror.Internal(subsystem, nil, "failed to submit any replica for group %s", groupID)
	}

	o.registry.AddGroup(group)
	logging.Info(subsystem, "submitted replica group %s (%d replicas) from recipe %s", groupID, len(group.Replicas()), r.Path)
	return group, nil
}

func (o *Orchestrator) loadAndMerge(recipeName string, cfg map[string]interface{}) (*recipe.Recipe, error) {
	base, err := o.recipes.Get(recipeName)
	if err != nil {
		return nil, err
	}
	return base.MergeConfig(cfg)
}

func (o *Orchestrator) scriptPaths(r *recipe.Recipe) recipe.ScriptPaths {
	catDir := path.Join(o.cfg.RecipesDir, string(r.Category))
	defPath := r.ContainerDef
	if defPath == "" {
		defPath = r.Name + ".def"
	}
	imgPath := r.Image
	if imgPath == "" {
		imgPath = r.Name + ".sif"
	}
	return recipe.ScriptPaths{
		DefPath:        path.Join(catDir, defPath),
		ImagePath:      path.Join(catDir, imgPath),
		LogDir:         path.Join(o.cfg.RemoteBasePath, "logs"),
		RemoteBasePath: o.cfg.RemoteBasePath,
	}
}

func (o *Orchestrator) submitJob(ctx context.Context, r *recipe.Recipe, script string) (string, error) {
	env := make([]string, 0, len(r.Environment))
	for k, v := range r.Environment {
		env = append(env, k+"="+v)
	}

	partition := "cpu"
	if r.Resources.GPU > 0 {
		partition = "gpu"
	}

	job := batchclient.JobSubmission{
		Name:        r.Name,
		Script:      script,
		Partition:   partition,
		NumNodes:    r.Resources.Nodes,
		GPUsPerNode: r.Resources.GPU,
		TimeLimit:   strconv.Itoa(r.Resources.TimeLimit),
		Environment: envMap(env),
	}

	return o.batch.Submit(ctx, job)
}

func envMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if idx := strings.IndexByte(p, '='); idx >= 0 {
			out[p[:idx]] = p[idx+1:]
		}
	}
	return out
}

// GetService returns the registered service by id.
func (o *Orchestrator) GetService(id string) (*Service, error) {
	return o.registry.GetService(id)
}

// ListServices returns every registered service.
func (o *Orchestrator) ListServices() []*Service {
	return o.registry.ListServices()
}

// GetGroup returns the registered replica group by id.
func (o *Orchestrator) GetGroup(id string) (*ReplicaGroup, error) {
	return o.registry.GetGroup(id)
}

// ListGroups returns every registered replica group.
func (o *Orchestrator) ListGroups() []*ReplicaGroup {
	return o.registry.ListGroups()
}

// StopService cancels a service's underlying job. Cancellation is
// idempotent: calling it twice both succeed (spec §8).
func (o *Orchestrator) StopService(ctx context.Context, id string) error {
	svc, err := o.registry.GetService(id)
	if err != nil {
		return err
	}
	svc.UpdateStatus(StatusCancelled)
	if err := o.batch.Cancel(ctx, id); err != nil {
		logging.Warn(subsystem, "best-effort cancel of job %s failed: %v", id, err)
	}
	o.registry.RemoveEndpoint(id)
	return nil
}

// StopGroup cancels every job underlying a replica group.
func (o *Orchestrator) StopGroup(ctx context.Context, id string) error {
	group, err := o.registry.GetGroup(id)
	if err != nil {
		return err
	}
	for _, jobID := range group.JobIDs() {
		if err := o.batch.Cancel(ctx, jobID); err != nil {
			logging.Warn(subsystem, "best-effort cancel of job %s (group %s) failed: %v", jobID, id, err)
		}
	}
	for _, r := range group.Replicas() {
		r.SetStatus(StatusCancelled)
		o.registry.RemoveEndpoint(r.ID())
	}
	return nil
}

// Endpoints returns every currently-resolved id→endpoint mapping,
// consumed by the Gateway's Prometheus file-sd target listing and by
// the monitoring manager when registering a service's metrics target.
func (o *Orchestrator) Endpoints() map[string]Endpoint {
	return o.registry.Endpoints()
}

// resolveServiceEndpoint implements spec §4.4.2's resolution order for
// a plain service id.
func (o *Orchestrator) resolveServiceEndpoint(ctx context.Context, svc *Service) (Endpoint, error) {
	if ep, ok := o.registry.Endpoint(svc.ID); ok {
		return ep, nil
	}
	if ep, ok := svc.Endpoint(); ok {
		return ep, nil
	}

	details, err := o.batch.Details(ctx, svc.ID)
	if err != nil {
		return Endpoint{}, err
	}
	if len(details.Nodes) == 0 {
		return Endpoint{}, apperror.NotReady("service %s has no allocated node yet", svc.ID)
	}

	r, err := o.recipes.Get(svc.RecipePath)
	if err != nil {
		return Endpoint{}, err
	}
	port := r.DefaultPort()
	if port == 0 {
		return Endpoint{}, apperror.Internal(subsystem, nil, "recipe %s has no default port", svc.RecipePath)
	}

	ep := Endpoint{Host: details.Nodes[0], Port: port}
	return ep, nil
}

// resolveReplicaEndpoint resolves a single replica's endpoint using
// its already-known node (set by the readiness loop) and its
// composite-id port.
func (o *Orchestrator) resolveReplicaEndpoint(ctx context.Context, r *Replica) (Endpoint, error) {
	if ep, ok := o.registry.Endpoint(r.ID()); ok {
		return ep, nil
	}
	node, ok := r.Node()
	if !ok {
		return Endpoint{}, apperror.NotReady("replica %s has no resolved node yet", r.ID())
	}
	return Endpoint{Host: node, Port: r.Port}, nil
}
