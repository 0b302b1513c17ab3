package gateway

import (
	"net/http"
	"strings"
)

// handleVectorDB forwards a vector-db request verbatim (spec §6
// "GET/PUT/DELETE /vector-db/{id}/collections[/{name}[/points[/search]]]").
// The sub-path after the service id is taken directly from the request
// URL rather than rebuilt from path values, so every registered route
// variant shares one handler.
func (g *Gateway) handleVectorDB(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	prefix := "/api/v1/vector-db/" + id
	subPath := strings.TrimPrefix(r.URL.Path, prefix)
	if subPath == "" {
		subPath = "/"
	}

	var payload map[string]interface{}
	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, err)
			return
		}
	}

	status, body, err := g.orch.VectorDBOp(r.Context(), id, r.Method, subPath, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
