package gateway

import (
	"net/http"
	"path"
	"time"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/monitoring"
)

type createSessionRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	ScrapeInterval string `json:"scrape_interval,omitempty"`
}

type sessionResponse struct {
	ID             string              `json:"session_id"`
	Status         string              `json:"status"`
	ScrapeInterval string              `json:"scrape_interval"`
	CreatedAt      time.Time           `json:"created_at"`
	Artifacts      monitoring.Artifacts `json:"artifacts,omitempty"`
}

func renderSession(s *monitoring.Session) sessionResponse {
	return sessionResponse{
		ID:             s.ID,
		Status:         string(s.Status()),
		ScrapeInterval: s.ScrapeInterval,
		CreatedAt:      s.CreatedAt,
		Artifacts:      s.Artifacts,
	}
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	workdir := path.Join(g.cfg.MonitoringWorkdir, req.SessionID)
	session, err := g.mon.CreateSession(r.Context(), req.SessionID, req.ScrapeInterval, workdir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderSession(session))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := g.mon.ListSessions()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, renderSession(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := g.mon.StopSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	session, err := g.mon.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSession(session))
}

type collectRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	RunID  string `json:"run_id,omitempty"`
	OutDir string `json:"out_dir,omitempty"`
}

func (g *Gateway) handleSessionCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Start == "" || req.End == "" {
		writeError(w, apperror.BadRequest("start and end are required"))
		return
	}

	id := r.PathValue("id")
	if req.RunID == "" {
		req.RunID = "run-" + id
	}
	if req.OutDir == "" {
		req.OutDir = path.Join(g.cfg.MonitoringWorkdir, id, req.RunID)
	}

	artifacts, err := g.mon.Collect(r.Context(), id, g.collector, req.Start, req.End, req.OutDir, req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}
