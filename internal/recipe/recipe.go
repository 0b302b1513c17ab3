// Package recipe defines the recipe data model (spec §4.3): category-
// specific templates describing how to build and run an inference,
// vector-db, or storage service, plus the config-merge semantics used
// to turn a recipe and a caller-supplied config map into concrete job
// parameters.
package recipe

import (
	"fmt"
	"strings"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/template"
)

// templateEngine resolves {{ param }} placeholders a recipe's
// environment values reference against its declared Parameters.
var templateEngine = template.New()

// Category is one of the recipe's supported domains.
type Category string

const (
	CategoryInference Category = "inference"
	CategoryVectorDB   Category = "vector-db"
	CategoryStorage    Category = "storage"
)

// Resources are the compute resources a recipe (or an overridden
// instance of it) requests from the scheduler.
type Resources struct {
	Nodes     int    `yaml:"nodes"`
	CPU       int    `yaml:"cpu"`
	Memory    string `yaml:"memory"`
	GPU       int    `yaml:"gpu"`
	TimeLimit int    `yaml:"time_limit"`
	Storage   string `yaml:"storage,omitempty"`
}

func defaultResources() Resources {
	return Resources{Nodes: 1, CPU: 1, Memory: "4G", TimeLimit: 60}
}

// Parameter documents a config key a recipe accepts — surfaced in the
// Gateway's `GET /recipes` response and used to validate incoming
// config maps before they're merged in.
type Parameter struct {
	Description string      `yaml:"description"`
	Type        string      `yaml:"type"`
	Default     interface{} `yaml:"default,omitempty"`
	Required    bool        `yaml:"required"`
	Location    string      `yaml:"location"`
}

// HealthCheck is the probe configuration a storage recipe declares.
type HealthCheck struct {
	Endpoint string   `yaml:"endpoint,omitempty"`
	Command  []string `yaml:"command,omitempty"`
	Interval int      `yaml:"interval"`
	Timeout  int      `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

// DeploymentConfig configures a storage recipe's replica/persistence
// behavior.
type DeploymentConfig struct {
	Replicas       int    `yaml:"replicas"`
	StorageClass   string `yaml:"storage_class,omitempty"`
	Persistence    bool   `yaml:"persistence"`
	BucketPolicy   string `yaml:"bucket_policy,omitempty"`
	BackupSchedule string `yaml:"backup_schedule,omitempty"`
}

// Recipe is the full parsed definition of a recipe file. Category-
// specific fields (gpu_per_replica, base_port, deployment, ...) are
// carried on the same struct rather than as a discriminated subtype
// hierarchy, since Go has no ergonomic equivalent of a Pydantic
// subclass and spec §4.3 doesn't require polymorphic dispatch beyond
// "which fields apply to which category" (enforced in Validate).
type Recipe struct {
	Name        string               `yaml:"name"`
	Category    Category             `yaml:"category"`
	Description string               `yaml:"description,omitempty"`
	Version     string               `yaml:"version,omitempty"`
	Image       string               `yaml:"image,omitempty"`
	ContainerDef string              `yaml:"container_def,omitempty"`
	Ports       []int                `yaml:"ports,omitempty"`
	Environment map[string]string    `yaml:"environment,omitempty"`
	Resources   Resources            `yaml:"resources,omitempty"`
	Parameters  map[string]Parameter `yaml:"parameters,omitempty"`

	// Inference-only.
	GPUPerReplica *int `yaml:"gpu_per_replica,omitempty"`
	BasePort      int  `yaml:"base_port,omitempty"`
	NprocPerNode  *int `yaml:"nproc_per_node,omitempty"`
	MasterPort    *int `yaml:"master_port,omitempty"`

	// Storage-only.
	DeploymentConfig *DeploymentConfig `yaml:"deployment_config,omitempty"`
	HealthCheck      *HealthCheck      `yaml:"health_check,omitempty"`

	// Path is the category/name the recipe was loaded from; set by the store.
	Path string `yaml:"-"`
}

// applyDefaults fills zero-valued fields with their documented defaults.
func (r *Recipe) applyDefaults() {
	if r.Version == "" {
		r.Version = "1.0.0"
	}
	if r.Resources.Nodes == 0 {
		r.Resources.Nodes = 1
	}
	if r.Resources.CPU == 0 {
		r.Resources.CPU = 1
	}
	if r.Resources.Memory == "" {
		r.Resources.Memory = "4G"
	}
	if r.Resources.TimeLimit == 0 {
		r.Resources.TimeLimit = 60
	}
	if r.BasePort == 0 && r.Category == CategoryInference {
		r.BasePort = 8001
	}
}

// Validate checks required fields and category-specific constraints.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return apperror.BadRequest("recipe must have a name")
	}
	switch r.Category {
	case CategoryInference, CategoryVectorDB, CategoryStorage:
	default:
		return apperror.BadRequest("recipe %s has unknown category %q", r.Name, r.Category)
	}
	if r.Category != CategoryInference && (r.GPUPerReplica != nil || r.NprocPerNode != nil || r.MasterPort != nil) {
		return apperror.BadRequest("recipe %s: gpu_per_replica/nproc_per_node/master_port only apply to inference recipes", r.Name)
	}
	if r.Category != CategoryStorage && (r.DeploymentConfig != nil || r.HealthCheck != nil) {
		return apperror.BadRequest("recipe %s: deployment_config/health_check only apply to storage recipes", r.Name)
	}
	return nil
}

// IsReplicaGroup reports whether this inference recipe spawns a
// replica group (one process per `gpu_per_replica` GPUs) instead of a
// single process using the whole node allocation.
func (r *Recipe) IsReplicaGroup() bool {
	return r.Category == CategoryInference && r.GPUPerReplica != nil
}

// ReplicasPerNode computes how many replicas fit on one allocated
// node, given gpu_per_replica and the recipe's total per-node GPU count.
func (r *Recipe) ReplicasPerNode() int {
	if r.GPUPerReplica == nil || *r.GPUPerReplica == 0 {
		return 1
	}
	if r.Resources.GPU == 0 {
		return 1
	}
	return r.Resources.GPU / *r.GPUPerReplica
}

// DefaultPort returns the first declared port, or 0 if none.
func (r *Recipe) DefaultPort() int {
	if len(r.Ports) == 0 {
		return 0
	}
	return r.Ports[0]
}

// MergeConfig produces a new Recipe with a caller-supplied config map
// merged in: resources deep-merge key by key, environment deep-merges
// key by key, and a handful of named scalar overrides propagate into
// both top-level fields and derived environment variables (mirrors the
// original recipe model's `merge_config`).
func (r *Recipe) MergeConfig(config map[string]interface{}) (*Recipe, error) {
	merged := r.clone()

	if rawResources, ok := config["resources"].(map[string]interface{}); ok {
		applyResourceOverrides(&merged.Resources, rawResources)
	}
	legacyResources := map[string]interface{}{}
	for _, key := range []string{"nodes", "cpu", "memory", "gpu", "time_limit"} {
		if v, ok := config[key]; ok {
			legacyResources[key] = v
		}
	}
	applyResourceOverrides(&merged.Resources, legacyResources)

	if rawEnv, ok := config["environment"].(map[string]interface{}); ok {
		if merged.Environment == nil {
			merged.Environment = map[string]string{}
		}
		for k, v := range rawEnv {
			merged.Environment[k] = fmt.Sprintf("%v", v)
		}
	}

	if merged.Environment == nil {
		merged.Environment = map[string]string{}
	}
	if v, ok := config["replica_port"]; ok {
		merged.Environment["VLLM_PORT"] = fmt.Sprintf("%v", v)
	}
	if v, ok := config["model"]; ok {
		merged.Environment["VLLM_MODEL"] = fmt.Sprintf("%v", v)
	}
	if v, ok := config["max_model_len"]; ok {
		merged.Environment["VLLM_MAX_MODEL_LEN"] = fmt.Sprintf("%v", v)
	}

	if v, ok := config["gpu_per_replica"]; ok {
		n := toInt(v)
		merged.GPUPerReplica = &n
	}
	if v, ok := config["base_port"]; ok {
		merged.BasePort = toInt(v)
	}
	if v, ok := config["nproc_per_node"]; ok {
		n := toInt(v)
		merged.NprocPerNode = &n
	}
	if v, ok := config["master_port"]; ok {
		n := toInt(v)
		merged.MasterPort = &n
	}

	if err := r.resolveParameterTemplates(merged, config); err != nil {
		return nil, err
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// resolveParameterTemplates builds a substitution context from the
// recipe's declared Parameters (config value, falling back to the
// parameter's Default) and resolves any {{ param }} placeholder an
// environment value references. Parameters with Location "environment"
// are the ones recipe authors are expected to reference this way;
// other locations (e.g. "cli_arg") are left for future builders to
// consume directly off the context.
func (r *Recipe) resolveParameterTemplates(merged *Recipe, config map[string]interface{}) error {
	if len(r.Parameters) == 0 {
		return nil
	}

	ctx := make(map[string]interface{}, len(r.Parameters))
	var missing []string
	for name, p := range r.Parameters {
		if v, ok := config[name]; ok {
			ctx[name] = v
			continue
		}
		if p.Default != nil {
			ctx[name] = p.Default
			continue
		}
		if p.Required {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperror.BadRequest("recipe %s: missing required parameters: %s", r.Name, strings.Join(missing, ", "))
	}

	for k, v := range merged.Environment {
		if !strings.Contains(v, "{{") {
			continue
		}
		resolved, err := templateEngine.Replace(v, ctx)
		if err != nil {
			return apperror.BadRequest("recipe %s: resolving environment %q: %v", r.Name, k, err)
		}
		merged.Environment[k] = fmt.Sprintf("%v", resolved)
	}
	return nil
}

func applyResourceOverrides(res *Resources, overrides map[string]interface{}) {
	if v, ok := overrides["nodes"]; ok {
		res.Nodes = toInt(v)
	}
	if v, ok := overrides["cpu"]; ok {
		res.CPU = toInt(v)
	}
	if v, ok := overrides["memory"]; ok {
		res.Memory = fmt.Sprintf("%v", v)
	}
	if v, ok := overrides["gpu"]; ok {
		res.GPU = toInt(v)
	}
	if v, ok := overrides["time_limit"]; ok {
		res.TimeLimit = toInt(v)
	}
	if v, ok := overrides["storage"]; ok {
		res.Storage = fmt.Sprintf("%v", v)
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		var out int
		fmt.Sscanf(fmt.Sprintf("%v", v), "%d", &out)
		return out
	}
}

func (r *Recipe) clone() *Recipe {
	c := *r
	c.Environment = make(map[string]string, len(r.Environment))
	for k, v := range r.Environment {
		c.Environment[k] = v
	}
	c.Ports = append([]int(nil), r.Ports...)
	if r.GPUPerReplica != nil {
		v := *r.GPUPerReplica
		c.GPUPerReplica = &v
	}
	if r.NprocPerNode != nil {
		v := *r.NprocPerNode
		c.NprocPerNode = &v
	}
	if r.MasterPort != nil {
		v := *r.MasterPort
		c.MasterPort = &v
	}
	return &c
}
