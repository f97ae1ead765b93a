package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPHandler calls a remote tool service with POST {baseURL}/{name}. The
// request body is the tool input and the response body the tool output.
func HTTPHandler(client *http.Client, baseURL, name string) Handler {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	url := strings.TrimRight(baseURL, "/") + "/" + name
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		body, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", name, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		}
		var out map[string]any
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}
}

// RegisterRemote points every external tool at the remote tool service.
func RegisterRemote(r *Registry, client *http.Client, baseURL string) error {
	for _, name := range External {
		if err := r.Register(name, HTTPHandler(client, baseURL, name)); err != nil {
			return err
		}
	}
	return nil
}
