package orchestrator

import (
	"sync"

	"github.com/giantswarm/aifactory/internal/apperror"
)

// Registry holds every Service, ReplicaGroup, and EndpointRegistration
// the orchestrator currently knows about, behind one coarse lock (spec
// §5: "the service registry is partitioned by id under a coarse lock;
// the endpoint registry uses an insertion-ordered map protected by the
// same lock").
type Registry struct {
	mu sync.RWMutex

	services      map[string]*Service
	groups        map[string]*ReplicaGroup
	endpoints     map[string]Endpoint
	endpointOrder []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		services:  make(map[string]*Service),
		groups:    make(map[string]*ReplicaGroup),
		endpoints: make(map[string]Endpoint),
	}
}

// AddService registers s, visible to readers immediately.
func (r *Registry) AddService(s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

// GetService returns the service registered under id.
func (r *Registry) GetService(id string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, apperror.NotFound("service %s not found", id)
	}
	return s, nil
}

// ListServices returns every registered service.
func (r *Registry) ListServices() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}

// RemoveService drops a service from the registry (used once a
// cancellation or terminal state has been fully processed).
func (r *Registry) RemoveService(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, id)
}

// AddGroup registers g.
func (r *Registry) AddGroup(g *ReplicaGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
}

// GetGroup returns the replica group registered under id.
func (r *Registry) GetGroup(id string) (*ReplicaGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, apperror.NotFound("service group %s not found", id)
	}
	return g, nil
}

// ListGroups returns every registered replica group.
func (r *Registry) ListGroups() []*ReplicaGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReplicaGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}

// RemoveGroup drops a replica group from the registry.
func (r *Registry) RemoveGroup(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
}

// RegisterEndpoint records id's resolved endpoint, visible to all
// data-plane routing and the monitoring target list as soon as this
// call returns (spec §5 ordering guarantee (c) analogue for endpoints).
func (r *Registry) RegisterEndpoint(id string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[id]; !exists {
		r.endpointOrder = append(r.endpointOrder, id)
	}
	r.endpoints[id] = ep
}

// Endpoint returns id's registered endpoint, if any.
func (r *Registry) Endpoint(id string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ep, ok
}

// Endpoints returns a map of every registered id to its endpoint — used
// by the monitoring target list. The map carries no registration order.
func (r *Registry) Endpoints() map[string]Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Endpoint, len(r.endpointOrder))
	for _, id := range r.endpointOrder {
		out[id] = r.endpoints[id]
	}
	return out
}

// RemoveEndpoint clears a registered endpoint.
func (r *Registry) RemoveEndpoint(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, id)
	for i, existing := range r.endpointOrder {
		if existing == id {
			r.endpointOrder = append(r.endpointOrder[:i], r.endpointOrder[i+1:]...)
			break
		}
	}
}
