package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// serverAddr is the base URL of a running `aifactory serve` gateway
// that the list/create commands talk to.
var serverAddr string

const clientTimeout = 30 * time.Second

// apiGet issues a GET against the gateway and decodes the JSON body
// into out.
func apiGet(path string, out interface{}) error {
	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

// apiPost issues a POST with a JSON-encoded body and decodes the
// response into out.
func apiPost(path string, body interface{}, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Post(serverAddr+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var body struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Detail == "" {
			data, _ := io.ReadAll(resp.Body)
			body.Detail = string(data)
		}
		return fmt.Errorf("server returned %s: %s", resp.Status, body.Detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
