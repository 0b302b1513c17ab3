package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/pkg/logging"
)

// readinessLoop is the single cooperative periodic task described in
// spec §4.4.3: every 10s, probe every service and replica whose
// status is not yet ready. Background-task failures are logged and
// the loop continues (spec §7) — it never terminates the process.
func (o *Orchestrator) readinessLoop(ctx context.Context) {
	ticker := time.NewTicker(config.ReadinessTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick probes every outstanding service and replica concurrently. Each
// probe logs its own failure and always reports nil to the group, so
// one slow or failing probe never delays or cancels its siblings.
func (o *Orchestrator) tick(ctx context.Context) {
	var services errgroup.Group
	for _, svc := range o.registry.ListServices() {
		if svc.Status().IsTerminal() || svc.Status() == StatusReady {
			continue
		}
		svc := svc
		services.Go(func() error {
			if err := o.probeService(ctx, svc); err != nil {
				logging.Warn(subsystem, "readiness probe for service %s: %v", svc.ID, err)
			}
			return nil
		})
	}
	_ = services.Wait()

	var replicas errgroup.Group
	for _, group := range o.registry.ListGroups() {
		group := group
		for _, r := range group.Replicas() {
			if r.Status().IsTerminal() || r.Status() == StatusReady {
				continue
			}
			r := r
			replicas.Go(func() error {
				if err := o.probeReplica(ctx, group, r); err != nil {
					logging.Warn(subsystem, "readiness probe for replica %s: %v", r.ID(), err)
				}
				return nil
			})
		}
	}
	_ = replicas.Wait()
}

func (o *Orchestrator) probeService(ctx context.Context, svc *Service) error {
	state, err := o.batch.Status(ctx, svc.ID)
	if err != nil {
		return err
	}
	switch state {
	case "running":
		svc.UpdateStatus(StatusStarting)
	case "completed":
		svc.UpdateStatus(StatusCompleted)
		return nil
	case "failed", "cancelled":
		svc.UpdateStatus(StatusFailed)
		return nil
	default:
		// pending/unknown: nothing to do yet.
		return nil
	}

	ep, err := o.resolveServiceEndpoint(ctx, svc)
	if err != nil {
		return nil // stays in starting; not an error worth logging every tick
	}

	ok, model := o.probeHTTP(ctx, ep, svc.Category)
	if !ok {
		return nil
	}

	svc.SetEndpoint(ep)
	o.registry.RegisterEndpoint(svc.ID, ep)
	svc.UpdateStatus(StatusReady)
	if model != "" {
		svc.SetCachedModel(model)
	}
	logging.Info(subsystem, "service %s ready at %s", svc.ID, ep.URL())
	return nil
}

// probeReplica always attempts the HTTP probe regardless of the
// underlying job's scheduler-reported state (spec §4.4.3: "For
// composite replica ids... the readiness loop treats such ids as
// always-try-HTTP"), since a replica's own process may still be
// serving after its parent job is reported completed.
func (o *Orchestrator) probeReplica(ctx context.Context, group *ReplicaGroup, r *Replica) error {
	if r.Status() == StatusPending {
		r.SetStatus(StatusStarting)
	}

	node, hasNode := r.Node()
	if !hasNode {
		details, err := o.batch.Details(ctx, r.JobID)
		if err != nil {
			return err
		}
		if len(details.Nodes) == 0 {
			return nil
		}
		node = details.Nodes[0]
		r.SetNode(node)
	}

	ep := Endpoint{Host: node, Port: r.Port}
	recipeRef, err := o.recipes.Get(group.RecipePath)
	category := "inference"
	if err == nil {
		category = string(recipeRef.Category)
	}

	ok, _ := o.probeHTTP(ctx, ep, category)
	if !ok {
		return nil
	}

	o.registry.RegisterEndpoint(r.ID(), ep)
	r.SetStatus(StatusReady)
	return nil
}

// probeHTTP issues the category-specific readiness GET against ep,
// returning whether the probe succeeded and, for inference, the first
// served model id if the response body carried one.
func (o *Orchestrator) probeHTTP(ctx context.Context, ep Endpoint, category string) (ok bool, model string) {
	client, err := o.forward.HTTPClient(ctx)
	if err != nil {
		return false, ""
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, ep.URL()+ProbePathFor(category), nil)
	if err != nil {
		return false, ""
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, ""
	}

	if category == "inference" {
		var body struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && len(body.Data) > 0 {
			model = body.Data[0].ID
		}
	}
	return true, model
}
