package gateway

import (
	"net/http"

	"github.com/giantswarm/aifactory/internal/apperror"
)

type createServiceRequest struct {
	RecipeName string                 `json:"recipe_name"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

func (g *Gateway) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RecipeName == "" {
		writeError(w, apperror.BadRequest("recipe_name is required"))
		return
	}

	svc, err := g.orch.StartService(r.Context(), req.RecipeName, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderService(svc))
}

func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	services := g.orch.ListServices()
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, renderService(svc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := g.orch.GetService(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderService(svc))
}

func (g *Gateway) handleStopService(w http.ResponseWriter, r *http.Request) {
	if err := g.orch.StopService(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceStatusActionRequest struct {
	Status string `json:"status"`
}

// handleServiceStatusAction implements the legacy graceful-stop path:
// POST .../status with {"status":"cancelled"} (spec §6).
func (g *Gateway) handleServiceStatusAction(w http.ResponseWriter, r *http.Request) {
	var req serviceStatusActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status != "cancelled" {
		writeError(w, apperror.BadRequest("unsupported status action %q", req.Status))
		return
	}
	if err := g.orch.StopService(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleGetServiceStatus(w http.ResponseWriter, r *http.Request) {
	svc, err := g.orch.GetService(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(svc.Status())})
}

func (g *Gateway) handleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := g.orch.ServiceMetrics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write(body)
}

// handleServiceTargets renders every currently-resolved service
// endpoint as a Prometheus file-sd document (spec §6 "GET
// /services/targets").
func (g *Gateway) handleServiceTargets(w http.ResponseWriter, r *http.Request) {
	type target struct {
		Targets []string          `json:"targets"`
		Labels  map[string]string `json:"labels"`
	}
	endpoints := g.orch.Endpoints()
	out := make([]target, 0, len(endpoints))
	for id, ep := range endpoints {
		out = append(out, target{
			Targets: []string{ep.URL()},
			Labels:  map[string]string{"service_id": id},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RecipeName == "" {
		writeError(w, apperror.BadRequest("recipe_name is required"))
		return
	}

	group, err := g.orch.StartReplicaGroup(r.Context(), req.RecipeName, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderGroup(group))
}

func (g *Gateway) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups := g.orch.ListGroups()
	out := make([]groupResponse, 0, len(groups))
	for _, group := range groups {
		out = append(out, renderGroup(group))
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := g.orch.GetGroup(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderGroup(group))
}

func (g *Gateway) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	if err := g.orch.StopGroup(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleGetGroupStatus(w http.ResponseWriter, r *http.Request) {
	group, err := g.orch.GetGroup(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderGroup(group))
}
