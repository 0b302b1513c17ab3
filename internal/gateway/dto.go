package gateway

import (
	"time"

	"github.com/giantswarm/aifactory/internal/orchestrator"
	"github.com/giantswarm/aifactory/internal/recipe"
)

type serviceResponse struct {
	ID         string                 `json:"id"`
	RecipePath string                 `json:"recipe_path"`
	Category   string                 `json:"category"`
	Status     string                 `json:"status"`
	Config     map[string]interface{} `json:"config,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Endpoint   *endpointResponse      `json:"endpoint,omitempty"`
}

type endpointResponse struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func renderService(svc *orchestrator.Service) serviceResponse {
	resp := serviceResponse{
		ID:         svc.ID,
		RecipePath: svc.RecipePath,
		Category:   svc.Category,
		Status:     string(svc.Status()),
		Config:     svc.Config,
		CreatedAt:  svc.CreatedAt(),
	}
	if ep, ok := svc.Endpoint(); ok {
		resp.Endpoint = &endpointResponse{Host: ep.Host, Port: ep.Port}
	}
	return resp
}

type replicaResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Port      int    `json:"port"`
	NodeIndex int    `json:"node_index"`
	GPUIndex  int    `json:"gpu_index"`
	Status    string `json:"status"`
}

type groupResponse struct {
	ID         string                 `json:"id"`
	RecipePath string                 `json:"recipe_path"`
	Config     map[string]interface{} `json:"config,omitempty"`
	JobIDs     []string               `json:"job_ids"`
	Replicas   []replicaResponse      `json:"replicas"`
	CreatedAt  time.Time              `json:"created_at"`
}

func renderGroup(group *orchestrator.ReplicaGroup) groupResponse {
	replicas := group.Replicas()
	out := groupResponse{
		ID:         group.ID,
		RecipePath: group.RecipePath,
		Config:     group.Config,
		JobIDs:     group.JobIDs(),
		Replicas:   make([]replicaResponse, 0, len(replicas)),
		CreatedAt:  group.CreatedAt(),
	}
	for _, r := range replicas {
		out.Replicas = append(out.Replicas, replicaResponse{
			ID:        r.ID(),
			JobID:     r.JobID,
			Port:      r.Port,
			NodeIndex: r.NodeIndex,
			GPUIndex:  r.GPUIndex,
			Status:    string(r.Status()),
		})
	}
	return out
}

type recipeResponse struct {
	Name        string                        `json:"name"`
	Path        string                        `json:"path"`
	Category    string                        `json:"category"`
	Description string                        `json:"description,omitempty"`
	Version     string                        `json:"version,omitempty"`
	Image       string                        `json:"image,omitempty"`
	Ports       []int                         `json:"ports,omitempty"`
	Resources   recipe.Resources              `json:"resources"`
	Parameters  map[string]recipe.Parameter   `json:"parameters,omitempty"`
}

func renderRecipe(r *recipe.Recipe) recipeResponse {
	return recipeResponse{
		Name:        r.Name,
		Path:        r.Path,
		Category:    string(r.Category),
		Description: r.Description,
		Version:     r.Version,
		Image:       r.Image,
		Ports:       r.Ports,
		Resources:   r.Resources,
		Parameters:  r.Parameters,
	}
}
