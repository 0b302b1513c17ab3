package orchestrator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/giantswarm/aifactory/internal/apperror"
)

// ServiceMetrics proxies a service's native /metrics endpoint once it
// is reachable. Before that — while the job is still queued or
// starting and nothing is listening yet — it synthesizes a minimal
// process_start_time_seconds gauge so a scrape of a not-yet-ready
// target still returns a valid exposition document instead of a
// connection error (spec §4.4.5).
func (o *Orchestrator) ServiceMetrics(ctx context.Context, id string) ([]byte, error) {
	svc, err := o.registry.GetService(id)
	if err != nil {
		return nil, err
	}
	if svc.Status() == StatusReady {
		if ep, err := o.resolveServiceEndpoint(ctx, svc); err == nil {
			if body, err := o.fetchMetrics(ctx, ep); err == nil {
				return body, nil
			}
		}
	}
	return synthesizeStartTimeMetrics(svc.CreatedAt())
}

// ReplicaMetrics proxies one replica's /metrics endpoint, identified
// by its group id and composite replica id ("{job_id}:{port}").
func (o *Orchestrator) ReplicaMetrics(ctx context.Context, groupID, replicaID string) ([]byte, error) {
	group, err := o.registry.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	for _, r := range group.Replicas() {
		if r.ID() != replicaID {
			continue
		}
		if r.Status() == StatusReady {
			if ep, err := o.resolveReplicaEndpoint(ctx, r); err == nil {
				if body, err := o.fetchMetrics(ctx, ep); err == nil {
					return body, nil
				}
			}
		}
		return synthesizeStartTimeMetrics(group.CreatedAt())
	}
	return nil, apperror.NotFound("replica %s not found in group %s", replicaID, groupID)
}

func (o *Orchestrator) fetchMetrics(ctx context.Context, ep Endpoint) ([]byte, error) {
	client, err := o.forward.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL()+"/metrics", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperror.TransportUnavailable(err, "fetching metrics from %s", ep.URL())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperror.Upstream(resp.StatusCode, "")
	}
	return io.ReadAll(resp.Body)
}

// synthesizeStartTimeMetrics renders a single process_start_time_seconds
// gauge through the real client_golang registry and text encoder, so
// the placeholder document is byte-for-byte a valid Prometheus
// exposition format rather than a hand-formatted string.
func synthesizeStartTimeMetrics(startedAt time.Time) ([]byte, error) {
	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_start_time_seconds",
		Help: "Start time of the process since unix epoch in seconds (placeholder until the service exposes its own metrics endpoint).",
	})
	gauge.Set(float64(startedAt.Unix()))
	if err := reg.Register(gauge); err != nil {
		return nil, apperror.Internal(subsystem, err, "registering placeholder metric")
	}

	families, err := reg.Gather()
	if err != nil {
		return nil, apperror.Internal(subsystem, err, "gathering placeholder metric")
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, apperror.Internal(subsystem, err, "encoding placeholder metric")
		}
	}
	return buf.Bytes(), nil
}
