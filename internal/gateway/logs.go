package gateway

import (
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/giantswarm/aifactory/internal/apperror"
)

const logTailTimeout = 10 * time.Second
const logTailLines = 200

// handleServiceLogs tails a service's remote stdout/stderr log file
// over the control channel (spec §6 "GET /services/{id}/logs"). This
// is the one Gateway operation that reaches past the Orchestrator
// straight to the Transport, since log tailing isn't part of service
// lifecycle or data-plane routing.
func (g *Gateway) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	if g.runner == nil {
		writeError(w, apperror.Internal(subsystem, nil, "log tailing is not configured"))
		return
	}
	id := r.PathValue("id")
	if _, err := g.orch.GetService(id); err != nil {
		writeError(w, err)
		return
	}

	logPath := path.Join(g.cfg.RemoteBasePath, "logs", id+".out")
	cmd := fmt.Sprintf("tail -n %d %s 2>/dev/null || true", logTailLines, logPath)
	output, err := g.runner.RunCommand(r.Context(), cmd, logTailTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(output))
}
