// Package monitoring implements the MonitoringSession manager (spec
// §4.5): a single-active-session registry of scrape targets, atomic
// render-and-reload of the scrape configuration, and windowed
// summarization via range queries against the metric store.
package monitoring

import "sync"

// ExporterEndpoints are the per-type host:port pairs a client exposes.
type ExporterEndpoints struct {
	Node string
	GPU  string
}

// ServiceTarget is one Orchestrator-resolved service metrics endpoint,
// keyed by service id, which doubles as the scrape job label.
type ServiceTarget struct {
	ServiceID string
	URL       string
}

// TargetSet is a session's scrape-target union: client exporters keyed
// by client id, and service targets keyed by service id (spec §4.5
// "Target model"). Protected by its own mutex, the session's critical
// section for render-and-reload (spec §5).
type TargetSet struct {
	mu       sync.RWMutex
	clients  map[string]ExporterEndpoints
	services map[string]ServiceTarget
}

func newTargetSet() *TargetSet {
	return &TargetSet{
		clients:  make(map[string]ExporterEndpoints),
		services: make(map[string]ServiceTarget),
	}
}

// UpsertClient registers or updates a client's exporter endpoints.
func (t *TargetSet) UpsertClient(clientID string, ep ExporterEndpoints) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[clientID] = ep
}

// UpsertService registers or updates a service's metrics target.
func (t *TargetSet) UpsertService(serviceID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services[serviceID] = ServiceTarget{ServiceID: serviceID, URL: url}
}

// RemoveService drops a service target, e.g. once its service is stopped.
func (t *TargetSet) RemoveService(serviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.services, serviceID)
}

// Snapshot returns copies of the current exporter and service targets,
// safe to hand to the renderer without holding the lock during I/O.
func (t *TargetSet) Snapshot() (clients []ExporterEndpoints, services []ServiceTarget) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ep := range t.clients {
		clients = append(clients, ep)
	}
	for _, svc := range t.services {
		services = append(services, svc)
	}
	return clients, services
}

// Count returns the total number of registered targets of both kinds.
func (t *TargetSet) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients) + len(t.services)
}
