// Package orchestrator owns service and replica-group lifecycle:
// recipe-to-job submission, readiness detection, endpoint resolution,
// and data-plane routing for prompts, vector-db operations, and
// metrics. Grounded on the teacher's internal/services state-machine
// (BaseService) and internal/orchestrator registry pattern, generalized
// from Kubernetes-style long-running services onto batch-scheduled
// jobs and their replica groups.
package orchestrator

import (
	"sync"
	"time"
)

// Status is a Service's or Replica's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilding  Status = "building"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusReady     Status = "ready"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// StateChangeCallback is invoked after a Service's status changes,
// mirroring the teacher's BaseService.stateChangeCb.
type StateChangeCallback func(id string, old, new Status)

// Endpoint is a resolved host:port a caller can send traffic to.
type Endpoint struct {
	Host     string
	Port     int
	Metadata map[string]string
}

// URL renders the endpoint as an http:// base URL.
func (e Endpoint) URL() string {
	return "http://" + e.Host + ":" + portString(e.Port)
}

func portString(p int) string {
	if p == 0 {
		return "0"
	}
	digits := []byte{}
	for p > 0 {
		digits = append([]byte{byte('0' + p%10)}, digits...)
		p /= 10
	}
	return string(digits)
}

// Service is one scheduled instance of a recipe, identified by its
// batch-job id (spec §3 "Service").
type Service struct {
	mu sync.RWMutex

	ID         string
	RecipePath string
	Category   string // inference | vector-db | storage
	Config     map[string]interface{}

	status    Status
	createdAt time.Time

	endpoint       *Endpoint
	lastHealthyAt  time.Time
	cachedModel    string
	cachedModelAt  time.Time

	nodeCount int

	stateChangeCb StateChangeCallback
}

// NewService constructs a Service in the pending state.
func NewService(id, recipePath, category string, config map[string]interface{}, nodeCount int) *Service {
	return &Service{
		ID:         id,
		RecipePath: recipePath,
		Category:   category,
		Config:     config,
		status:     StatusPending,
		createdAt:  time.Now(),
		nodeCount:  nodeCount,
	}
}

// Status returns the service's current status.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CreatedAt returns the submission time.
func (s *Service) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// NodeCount returns the number of nodes this service's job requested.
func (s *Service) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nodeCount < 1 {
		return 1
	}
	return s.nodeCount
}

// SetStateChangeCallback installs the callback invoked on transition.
func (s *Service) SetStateChangeCallback(cb StateChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateChangeCb = cb
}

// UpdateStatus transitions the service, invoking the callback (outside
// the lock, matching the teacher's BaseService.UpdateState) when the
// status actually changes.
func (s *Service) UpdateStatus(new Status) {
	s.mu.Lock()
	old := s.status
	s.status = new
	cb := s.stateChangeCb
	s.mu.Unlock()

	if cb != nil && old != new {
		cb(s.ID, old, new)
	}
}

// Endpoint returns the resolved endpoint, if any.
func (s *Service) Endpoint() (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endpoint == nil {
		return Endpoint{}, false
	}
	return *s.endpoint, true
}

// SetEndpoint records a resolved endpoint.
func (s *Service) SetEndpoint(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = &ep
}

// MarkHealthy records a successful data-plane call's timestamp, used
// to skip a hot-path readiness re-probe within the 300s window.
func (s *Service) MarkHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHealthyAt = time.Now()
}

// IsRecentlyHealthy reports whether a data-plane call succeeded within
// window of now.
func (s *Service) IsRecentlyHealthy(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.lastHealthyAt.IsZero() && time.Since(s.lastHealthyAt) < window
}

// CachedModel returns the cached served-model name if it's still
// within ttl of being recorded.
func (s *Service) CachedModel(ttl time.Duration) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cachedModel == "" || time.Since(s.cachedModelAt) >= ttl {
		return "", false
	}
	return s.cachedModel, true
}

// SetCachedModel records the served-model name discovered by a readiness probe.
func (s *Service) SetCachedModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedModel = model
	s.cachedModelAt = time.Now()
}

// Replica is one member of a replica group, addressed by
// "{job_id}:{port}" (spec §3 "Replica").
type Replica struct {
	JobID     string
	Port      int
	NodeIndex int
	GPUIndex  int

	mu     sync.RWMutex
	status Status
	node   string
}

// ID returns the replica's composite id.
func (r *Replica) ID() string {
	return r.JobID + ":" + portString(r.Port)
}

// Status returns the replica's current status.
func (r *Replica) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetStatus transitions the replica's status.
func (r *Replica) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// Node returns the compute node this replica was resolved onto, if any.
func (r *Replica) Node() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.node, r.node != ""
}

// SetNode records the compute node this replica is running on.
func (r *Replica) SetNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.node = node
}

// ReplicaGroup is a coordinated set of same-recipe replicas launched
// under one or more jobs, addressed by a synthetic group id (spec §3
// "ReplicaGroup").
type ReplicaGroup struct {
	mu sync.RWMutex

	ID         string
	RecipePath string
	Config     map[string]interface{}

	jobIDs    []string
	replicas  []*Replica
	createdAt time.Time
	rrCursor  int
}

// NewReplicaGroup constructs an empty ReplicaGroup.
func NewReplicaGroup(id, recipePath string, config map[string]interface{}) *ReplicaGroup {
	return &ReplicaGroup{
		ID:         id,
		RecipePath: recipePath,
		Config:     config,
		createdAt:  time.Now(),
	}
}

// AddJob records an underlying job id belonging to this group.
func (g *ReplicaGroup) AddJob(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobIDs = append(g.jobIDs, jobID)
}

// JobIDs returns every underlying job id.
func (g *ReplicaGroup) JobIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.jobIDs...)
}

// AddReplica appends a replica, becoming visible to the round-robin
// selector atomically (spec §5 ordering guarantee (b)).
func (g *ReplicaGroup) AddReplica(r *Replica) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replicas = append(g.replicas, r)
}

// Replicas returns a snapshot of the group's replicas, in order.
func (g *ReplicaGroup) Replicas() []*Replica {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Replica(nil), g.replicas...)
}

// NextReplicaOrder returns the full replica list starting from the
// current round-robin cursor and wrapping around, advancing the
// cursor by one. The cursor is the group's only hot shared counter
// (spec §5) and is mutated under this single per-group mutex.
func (g *ReplicaGroup) NextReplicaOrder() []*Replica {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.replicas)
	if n == 0 {
		return nil
	}
	start := g.rrCursor % n
	g.rrCursor = (g.rrCursor + 1) % n

	ordered := make([]*Replica, 0, n)
	for i := 0; i < n; i++ {
		ordered = append(ordered, g.replicas[(start+i)%n])
	}
	return ordered
}

// CreatedAt returns when the group was created.
func (g *ReplicaGroup) CreatedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.createdAt
}
