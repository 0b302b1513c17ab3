package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/config"
)

const (
	baseRequestTimeout     = 30 * time.Second
	perExtraNodeTimeout    = 30 * time.Second
	maxReplicaAttemptsCap  = 64
)

// requestTimeout implements spec §4.4.4's per-node-count scaling:
// base + (nodes-1) * per_extra_node.
func requestTimeout(nodeCount int) time.Duration {
	if nodeCount < 1 {
		nodeCount = 1
	}
	return baseRequestTimeout + time.Duration(nodeCount-1)*perExtraNodeTimeout
}

// PromptResult is the outcome of a prompt routed to a single service
// or a replica group.
type PromptResult struct {
	Response    json.RawMessage
	EndpointUsed string // "chat" or "completions", inference only
	RoutedTo    string // replica id, for group routing
}

// Prompt routes an inference request to the service with this id or,
// if there is none, to the replica group with this id (round-robin
// with failover). Each target is tried with chat-completions first; if
// the response is a 400
// whose body mentions "chat template", it retries against completions
// with the same parameters (spec §4.4.4, end-to-end scenario 2).
func (o *Orchestrator) Prompt(ctx context.Context, id string, payload map[string]interface{}) (*PromptResult, error) {
	svc, err := o.registry.GetService(id)
	if err == nil {
		if svc.Category != "inference" {
			return nil, apperror.BadRequest("service %s is not an inference service", id)
		}
		return o.promptService(ctx, svc, payload)
	}

	group, gerr := o.registry.GetGroup(id)
	if gerr != nil {
		return nil, apperror.NotFound("service or service group %s not found", id)
	}
	return o.promptGroup(ctx, group, payload)
}

func (o *Orchestrator) promptService(ctx context.Context, svc *Service, payload map[string]interface{}) (*PromptResult, error) {
	if svc.Status() != StatusReady && !svc.IsRecentlyHealthy(config.LastHealthyWindow) {
		return nil, apperror.NotReady("service %s is not ready", svc.ID)
	}

	ep, err := o.resolveServiceEndpoint(ctx, svc)
	if err != nil {
		return nil, err
	}

	client, err := o.forward.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}

	timeout := requestTimeout(svc.NodeCount())
	if model, ok := svc.CachedModel(config.ModelCacheTTL); ok {
		if _, hasModel := payload["model"]; !hasModel {
			payload["model"] = model
		}
	}

	result, err := doChatWithFallback(ctx, client, ep, payload, timeout)
	if err != nil {
		return nil, err
	}
	svc.MarkHealthy()
	return result, nil
}

func (o *Orchestrator) promptGroup(ctx context.Context, group *ReplicaGroup, payload map[string]interface{}) (*PromptResult, error) {
	client, err := o.forward.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}

	order := group.NextReplicaOrder()
	if len(order) == 0 {
		return nil, apperror.NotReady("service group %s has no replicas", group.ID)
	}

	attempts := len(order)
	if attempts > maxReplicaAttemptsCap {
		attempts = maxReplicaAttemptsCap
	}

	var failures []string
	for i := 0; i < attempts; i++ {
		r := order[i]
		ep, err := o.resolveReplicaEndpoint(ctx, r)
		if err != nil {
			r.SetStatus(StatusFailed)
			failures = append(failures, fmt.Sprintf("%s: %v", r.ID(), err))
			continue
		}

		result, err := doChatWithFallback(ctx, client, ep, payload, requestTimeout(1))
		if err != nil {
			r.SetStatus(StatusFailed)
			failures = append(failures, fmt.Sprintf("%s: %v", r.ID(), err))
			continue
		}

		r.SetStatus(StatusRunning)
		result.RoutedTo = r.ID()
		return result, nil
	}

	return nil, apperror.Upstream(http.StatusBadGateway, fmt.Sprintf("all replicas failed: %s", strings.Join(failures, "; ")))
}

// doChatWithFallback posts payload to /v1/chat/completions; on a 400
// whose body mentions "chat template" it retries the same payload
// against /v1/completions.
func doChatWithFallback(ctx context.Context, client *http.Client, ep Endpoint, payload map[string]interface{}, timeout time.Duration) (*PromptResult, error) {
	status, body, err := postJSON(ctx, client, ep.URL()+"/v1/chat/completions", payload, timeout)
	if err != nil {
		return nil, apperror.TransportUnavailable(err, "posting chat completion to %s", ep.URL())
	}

	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "chat template") {
		status, body, err = postJSON(ctx, client, ep.URL()+"/v1/completions", payload, timeout)
		if err != nil {
			return nil, apperror.TransportUnavailable(err, "posting completion to %s", ep.URL())
		}
		if status < 200 || status >= 300 {
			return nil, apperror.Upstream(status, string(body))
		}
		return &PromptResult{Response: json.RawMessage(body), EndpointUsed: "completions"}, nil
	}

	if status < 200 || status >= 300 {
		return nil, apperror.Upstream(status, string(body))
	}
	return &PromptResult{Response: json.RawMessage(body), EndpointUsed: "chat"}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload map[string]interface{}, timeout time.Duration) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// VectorDBOp forwards a vector-db request verbatim to the mapped
// path, e.g. "/collections/{name}/points/search" (spec §4.4.4).
func (o *Orchestrator) VectorDBOp(ctx context.Context, id, method, subPath string, payload map[string]interface{}) (int, []byte, error) {
	svc, err := o.registry.GetService(id)
	if err != nil {
		return 0, nil, err
	}
	if svc.Category != "vector-db" {
		return 0, nil, apperror.BadRequest("service %s is not a vector-db service", id)
	}
	if svc.Status() != StatusReady && !svc.IsRecentlyHealthy(config.LastHealthyWindow) {
		return 0, nil, apperror.NotReady("service %s is not ready", id)
	}

	ep, err := o.resolveServiceEndpoint(ctx, svc)
	if err != nil {
		return 0, nil, err
	}
	client, err := o.forward.HTTPClient(ctx)
	if err != nil {
		return 0, nil, err
	}

	// Node-count scaling applies only to inference prompts; vector-db
	// calls always use the flat base timeout.
	reqCtx, cancel := context.WithTimeout(ctx, baseRequestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, ep.URL()+subPath, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, apperror.TransportUnavailable(err, "forwarding vector-db request to %s", ep.URL())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		svc.MarkHealthy()
	}
	return resp.StatusCode, respBody, nil
}
