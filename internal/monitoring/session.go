package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/aifactory/internal/apperror"
)

// SessionStatus is a MonitoringSession's lifecycle state.
type SessionStatus string

const (
	StatusRunning SessionStatus = "RUNNING"
	StatusStopped SessionStatus = "STOPPED"
)

// Session is one monitoring session's metadata and owned TargetSet
// (spec §4.5 "Lifecycle"/"Target model").
type Session struct {
	ID             string
	ScrapeInterval string
	Workdir        string
	CreatedAt      time.Time
	StartedAt      time.Time
	StoppedAt      time.Time
	LastCollectAt  time.Time
	Artifacts      Artifacts

	mu     sync.RWMutex
	status SessionStatus
	targets *TargetSet
}

func newSession(id, scrapeInterval, workdir string) *Session {
	return &Session{
		ID:             id,
		ScrapeInterval: scrapeInterval,
		Workdir:        workdir,
		CreatedAt:      time.Now(),
		status:         StatusRunning,
		targets:        newTargetSet(),
	}
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(st SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Manager enforces spec §4.5's single-RUNNING-session invariant and
// coordinates the renderer and metric store across every session's
// TargetSet. Grounded on
// `original_source/.../monitoring_service.py`'s `MonitoringService`
// (`_get_active_session`/`create_session`/`stop`), generalized from a
// flat-file `StateStore` onto an in-memory map guarded by a mutex,
// since this process has no durability requirement across restarts
// (spec is silent on session persistence, and the original's
// `StateStore` exists mainly to survive the monitoring service's own
// process restarts — a concern this orchestrator process doesn't have
// a separate lifecycle from).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	renderer *Renderer
	store    *MetricStoreClient
}

// NewManager constructs a Manager writing scrape config via renderer
// and reloading through store.
func NewManager(renderer *Renderer, store *MetricStoreClient) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		renderer: renderer,
		store:    store,
	}
}

func (m *Manager) activeSession() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Status() == StatusRunning {
			return s
		}
	}
	return nil
}

// CreateSession starts a new session, failing with a Conflict error
// naming the existing RUNNING session if one is already active (spec
// §8 end-to-end scenario 4). sessionID may be empty, in which case one
// is minted.
func (m *Manager) CreateSession(ctx context.Context, sessionID, scrapeInterval, workdir string) (*Session, error) {
	if active := m.activeSession(); active != nil {
		return nil, apperror.Conflict("monitoring session %s is already RUNNING", active.ID)
	}

	if sessionID == "" {
		sessionID = "mon-" + uuid.NewString()[:8]
	}
	if scrapeInterval == "" {
		scrapeInterval = "15s"
	}

	session := newSession(sessionID, scrapeInterval, workdir)
	session.StartedAt = time.Now()

	if err := m.renderAndReload(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	return session, nil
}

// StopSession clears a session's contribution to the TargetSet,
// re-renders including any other RUNNING session, reloads, and
// transitions the session to STOPPED.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	session.setStatus(StatusStopped)
	session.StoppedAt = time.Now()

	if remaining := m.activeSession(); remaining != nil {
		return m.renderAndReload(ctx, remaining)
	}
	if err := m.renderer.Render(nil, nil, session.ScrapeInterval); err != nil {
		return apperror.Internal(subsystem, err, "rendering scrape config for session %s", session.ID)
	}
	return m.store.Reload(ctx)
}

// GetSession returns the session registered under id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperror.NotFound("monitoring session %s not found", id)
	}
	return s, nil
}

// ListSessions returns every known session.
func (m *Manager) ListSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// RegisterClient adds client exporter endpoints to sessionID's
// TargetSet and, if the session is RUNNING, re-renders and reloads
// immediately (spec §5 ordering guarantee (c)).
func (m *Manager) RegisterClient(ctx context.Context, sessionID, clientID string, ep ExporterEndpoints) error {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.targets.UpsertClient(clientID, ep)
	if session.Status() == StatusRunning {
		return m.renderAndReload(ctx, session)
	}
	return nil
}

// RegisterService adds a service's already-resolved metrics URL to
// sessionID's TargetSet. The caller (Gateway/app wiring) resolves the
// URL via the Orchestrator before calling this, matching spec §4.5's
// "metrics URL discovered by asking the Orchestrator".
func (m *Manager) RegisterService(ctx context.Context, sessionID, serviceID, metricsURL string) error {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.targets.UpsertService(serviceID, metricsURL)
	if session.Status() == StatusRunning {
		return m.renderAndReload(ctx, session)
	}
	return nil
}

// Collect runs the range-query battery over [start, end] and writes
// artifacts under outDir, recording their paths on the session.
func (m *Manager) Collect(ctx context.Context, sessionID string, collector *Collector, start, end, outDir, runID string) (Artifacts, error) {
	session, err := m.GetSession(sessionID)
	if err != nil {
		return Artifacts{}, err
	}

	summary, err := collector.CollectWindow(ctx, start, end)
	if err != nil {
		return Artifacts{}, err
	}

	artifacts, err := collector.Save(summary, outDir, runID, sessionID, start, end, time.Now())
	if err != nil {
		return Artifacts{}, err
	}

	session.mu.Lock()
	session.LastCollectAt = time.Now()
	session.Artifacts = artifacts
	session.mu.Unlock()

	return artifacts, nil
}

func (m *Manager) renderAndReload(ctx context.Context, session *Session) error {
	clients, services := session.targets.Snapshot()
	if err := m.renderer.Render(clients, services, session.ScrapeInterval); err != nil {
		return apperror.Internal(subsystem, err, "rendering scrape config for session %s", session.ID)
	}
	if err := m.store.Reload(ctx); err != nil {
		return err
	}
	return nil
}
