// Package batchclient is a typed REST façade over the cluster's batch
// job scheduler API (submit/cancel/status/details), reached through
// the Transport's dynamic forward. Every request is retried up to three
// times (RetryMax = 3) with exponential backoff via go-retryablehttp.
package batchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/giantswarm/aifactory/internal/apperror"
	"github.com/giantswarm/aifactory/internal/config"
	"github.com/giantswarm/aifactory/pkg/logging"
)

const subsystem = "batchclient"

// TokenSource mints a fresh batch-API token, e.g. Transport.AcquireBatchToken.
type TokenSource func(ctx context.Context) (string, error)

// Client talks to the batch job scheduler's REST API.
type Client struct {
	baseURL     string
	acctBaseURL string
	username    string
	httpClient  *retryablehttp.Client
	tokens      TokenSource
	aliases     StatusAliasTable
}

// New constructs a Client. httpClient, if non-nil, is used as the
// underlying transport for outbound requests (e.g. one routed through
// Transport's dynamic forward); otherwise http.DefaultTransport is used.
func New(cfg *config.Config, tokens TokenSource, httpClient *http.Client) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	if httpClient != nil {
		rc.HTTPClient = httpClient
	}

	baseURL := strings.TrimRight(cfg.BatchAPIBaseURL, "/")
	return &Client{
		baseURL:     baseURL,
		acctBaseURL: accountingBaseURL(baseURL),
		username:    cfg.Username,
		httpClient:  rc,
		tokens:      tokens,
		aliases:     DefaultStatusAliasTable(),
	}
}

// accountingBaseURL rewrites the live-queue REST namespace onto the
// scheduler's historical-accounting namespace, mirroring slurmrestd's
// layout (".../slurm/v0.0.40" -> ".../slurmdb/v0.0.40"). Falls back to
// the live base URL unchanged if it doesn't follow that convention.
func accountingBaseURL(baseURL string) string {
	if idx := strings.LastIndex(baseURL, "/slurm/"); idx >= 0 {
		return baseURL[:idx] + "/slurmdb/" + baseURL[idx+len("/slurm/"):]
	}
	return baseURL
}

// SetStatusAliasTable swaps in a custom status-alias table, loaded
// from an operator-supplied mapping file.
func (c *Client) SetStatusAliasTable(t StatusAliasTable) {
	c.aliases = t
}

// JobSubmission is the payload posted to the scheduler's submit endpoint.
type JobSubmission struct {
	Name        string            `json:"name"`
	Script      string            `json:"script"`
	Partition   string            `json:"partition,omitempty"`
	NumNodes    int               `json:"num_nodes"`
	GPUsPerNode int               `json:"gpus_per_node,omitempty"`
	TimeLimit   string            `json:"time_limit,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

type submitResponse struct {
	JobID  string   `json:"job_id"`
	Errors []string `json:"errors,omitempty"`
}

// Submit submits a job and returns its scheduler-assigned id.
func (c *Client) Submit(ctx context.Context, job JobSubmission) (string, error) {
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/job/submit", job, &resp); err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", apperror.Upstream(http.StatusBadGateway, strings.Join(resp.Errors, "; "))
	}
	if resp.JobID == "" {
		return "", apperror.Internal(subsystem, nil, "submit response had no job_id")
	}
	return resp.JobID, nil
}

// Cancel requests termination of a running or queued job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	jobID = stripArrayIndex(jobID)
	return c.doJSON(ctx, http.MethodDelete, "/job/"+jobID, nil, nil)
}

type statusResponse struct {
	Jobs []struct {
		JobState interface{} `json:"job_state"`
	} `json:"jobs"`
}

// Status returns the scheduler's lowercased, alias-normalized state
// string for jobID. When the live queue no longer has the job, a
// second query against the historical-accounting endpoint decides
// between "completed" (job ran and aged out of the queue) and
// "unknown" (no record of the job anywhere).
func (c *Client) Status(ctx context.Context, jobID string) (string, error) {
	jobID = stripArrayIndex(jobID)
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/job/"+jobID, nil, &resp); err != nil {
		if ae, ok := apperror.As(err); ok && ae.Kind == apperror.KindUpstream && ae.UpstreamCode == http.StatusNotFound {
			return c.accountingStatus(ctx, jobID)
		}
		return "", err
	}
	if len(resp.Jobs) == 0 {
		return c.accountingStatus(ctx, jobID)
	}
	state := jobStateString(resp.Jobs[0].JobState)
	if state == "" {
		state = "unknown"
	}
	return c.aliases.Normalize(strings.ToLower(state)), nil
}

// accountingStatus queries the historical-accounting endpoint for a
// job the live queue no longer reports, mapping its absence there to
// "completed" per spec: a job only leaves the live queue once it has
// finished running.
func (c *Client) accountingStatus(ctx context.Context, jobID string) (string, error) {
	var resp statusResponse
	err := c.doJSONAt(ctx, c.acctBaseURL, http.MethodGet, "/job/"+jobID, nil, &resp)
	if err != nil {
		if ae, ok := apperror.As(err); ok && ae.Kind == apperror.KindUpstream && ae.UpstreamCode == http.StatusNotFound {
			return "unknown", nil
		}
		return "", err
	}
	if len(resp.Jobs) == 0 {
		return "completed", nil
	}
	state := jobStateString(resp.Jobs[0].JobState)
	if state == "" {
		return "completed", nil
	}
	return c.aliases.Normalize(strings.ToLower(state)), nil
}

// jobStateString extracts the raw job_state value, returning "" if the
// field was absent or empty so callers can distinguish "no state
// reported" from an actual state string.
func jobStateString(raw interface{}) string {
	switch v := raw.(type) {
	case []interface{}:
		if len(v) > 0 {
			return fmt.Sprintf("%v", v[0])
		}
	case string:
		return v
	default:
		if raw != nil {
			return fmt.Sprintf("%v", raw)
		}
	}
	return ""
}

// JobDetails is the node-assignment and lifecycle information
// extracted from the scheduler's job-details response.
type JobDetails struct {
	JobID     string
	State     string
	Nodes     []string
	NodeCount int
}

type detailsResponse struct {
	Jobs []struct {
		JobState    interface{}     `json:"job_state"`
		Nodes       interface{}     `json:"nodes"`
		NodeList    string          `json:"node_list"`
		NodeCount   int             `json:"node_count"`
		JobResources *jobResources  `json:"job_resources"`
	} `json:"jobs"`
}

type jobResources struct {
	AllocatedNodes []string `json:"allocated_nodes"`
}

// Details fetches node-assignment and state for jobID, trying the
// primary `nodes` field first and falling back to `node_list` then
// `job_resources.allocated_nodes` when the primary field is absent
// (grounded on the scheduler client's fallback chain).
func (c *Client) Details(ctx context.Context, jobID string) (*JobDetails, error) {
	slurmJobID := stripArrayIndex(jobID)
	var resp detailsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/job/"+slurmJobID, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Jobs) == 0 {
		return nil, apperror.NotFound("job %s not found", jobID)
	}
	job := resp.Jobs[0]

	var nodes []string
	switch v := job.Nodes.(type) {
	case string:
		if v != "" {
			nodes = ExpandNodeList(v)
		}
	case []interface{}:
		for _, n := range v {
			nodes = append(nodes, fmt.Sprintf("%v", n))
		}
	}
	if len(nodes) == 0 && job.NodeList != "" {
		nodes = []string{job.NodeList}
	}
	if len(nodes) == 0 && job.JobResources != nil {
		nodes = job.JobResources.AllocatedNodes
	}

	nodeCount := len(nodes)
	if nodeCount == 0 {
		nodeCount = job.NodeCount
	}

	state := fmt.Sprintf("%v", job.JobState)

	return &JobDetails{
		JobID:     jobID,
		State:     state,
		Nodes:     nodes,
		NodeCount: nodeCount,
	}, nil
}

func stripArrayIndex(jobID string) string {
	if idx := strings.IndexByte(jobID, ':'); idx >= 0 {
		return jobID[:idx]
	}
	return jobID
}

var nodeRangePattern = regexp.MustCompile(`^([a-zA-Z]+)\[(.+)\]$`)

// ExpandNodeList expands a scheduler node-list string into individual
// hostnames. Supports a bare hostname ("mel2074"), a comma-separated
// list ("mel2074,mel2075"), and a bracketed range or range-list
// ("mel[2074-2076]", "mel[2074-2076,2080]").
func ExpandNodeList(nodeStr string) []string {
	nodeStr = strings.TrimSpace(nodeStr)
	if nodeStr == "" {
		return nil
	}
	if !strings.Contains(nodeStr, "[") {
		parts := strings.Split(nodeStr, ",")
		nodes := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				nodes = append(nodes, p)
			}
		}
		return nodes
	}

	m := nodeRangePattern.FindStringSubmatch(nodeStr)
	if m == nil {
		return []string{nodeStr}
	}
	prefix, body := m[1], m[2]

	var nodes []string
	for _, segment := range strings.Split(body, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if dash := strings.IndexByte(segment, '-'); dash >= 0 {
			lowStr, highStr := segment[:dash], segment[dash+1:]
			low, errL := strconv.Atoi(lowStr)
			high, errH := strconv.Atoi(highStr)
			if errL != nil || errH != nil || high < low {
				nodes = append(nodes, prefix+segment)
				continue
			}
			width := len(lowStr)
			for n := low; n <= high; n++ {
				nodes = append(nodes, fmt.Sprintf("%s%0*d", prefix, width, n))
			}
		} else {
			nodes = append(nodes, prefix+segment)
		}
	}
	return nodes
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.doJSONAt(ctx, c.baseURL, method, path, body, out)
}

func (c *Client) doJSONAt(ctx context.Context, baseURL, method, path string, body interface{}, out interface{}) error {
	token, err := c.tokens(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperror.Internal(subsystem, err, "marshaling request body")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return apperror.Internal(subsystem, err, "building request")
	}
	req.Header.Set("X-Batch-User-Name", c.username)
	req.Header.Set("X-Batch-User-Token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.TransportUnavailable(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return apperror.Upstream(http.StatusNotFound, string(respBody))
	}
	if resp.StatusCode >= 300 {
		logging.Warn(subsystem, "%s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
		return apperror.Upstream(resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperror.Internal(subsystem, err, "decoding response from %s %s", method, path)
		}
	}
	return nil
}
