package gateway

import (
	"net/http"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/config"
)

// handleVLLMServices lists only inference-category services (spec §6
// "GET /vllm/services").
func (g *Gateway) handleVLLMServices(w http.ResponseWriter, r *http.Request) {
	services := g.orch.ListServices()
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		if svc.Category != "inference" {
			continue
		}
		out = append(out, renderService(svc))
	}
	writeJSON(w, http.StatusOK, out)
}

type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID string `json:"id"`
}

// handleVLLMModels returns the served model name cached from the last
// successful readiness probe (spec §4.4.5 "Model-name cache").
func (g *Gateway) handleVLLMModels(w http.ResponseWriter, r *http.Request) {
	svc, err := g.orch.GetService(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if svc.Category != "inference" {
		writeError(w, apperror.BadRequest("service %s is not an inference service", svc.ID))
		return
	}

	model, ok := svc.CachedModel(config.ModelCacheTTL)
	if !ok {
		writeJSON(w, http.StatusOK, modelsResponse{Data: []modelEntry{}})
		return
	}
	writeJSON(w, http.StatusOK, modelsResponse{Data: []modelEntry{{ID: model}}})
}

func (g *Gateway) handleVLLMPrompt(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	result, err := g.orch.Prompt(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.RoutedTo != "" {
		w.Header().Set("X-Routed-To", result.RoutedTo)
	}
	w.Header().Set("X-Endpoint-Used", result.EndpointUsed)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Response)
}
