// Package httprequest provides the HTTP request block.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxResponseBytes = 1 << 20

// HTTPRequestConfig defines the configuration for HTTP request blocks.
type HTTPRequestConfig struct {
	URL     string
	Method  string
	Headers map[string]string
}

// HTTPRequestNode sends the node input as a JSON body to the configured URL.
type HTTPRequestNode struct {
	config HTTPRequestConfig
	client *http.Client
}

// NewHTTPRequestNode creates a new HTTP request block.
func NewHTTPRequestNode(client *http.Client, config map[string]any) (*HTTPRequestNode, error) {
	httpConfig := HTTPRequestConfig{
		Method:  http.MethodPost,
		Headers: make(map[string]string),
	}

	rawURL, ok := config["url"].(string)
	if !ok {
		return nil, validationf("missing required field 'url'")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, validationf("invalid url %q", rawURL)
	}

	httpConfig.URL = rawURL

	if method, ok := config["method"].(string); ok {
		httpConfig.Method = strings.ToUpper(method)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if strVal, ok := v.(string); ok {
				httpConfig.Headers[k] = strVal
			}
		}
	}

	return &HTTPRequestNode{config: httpConfig, client: client}, nil
}

// Execute performs the request. Network failures, 429 and 5xx responses are transient; other
// non-2xx responses are permanent.
func (n *HTTPRequestNode) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	var body io.Reader

	if n.config.Method != http.MethodGet && n.config.Method != http.MethodHead {
		payload, err := json.Marshal(input)
		if err != nil {
			return nil, permanentf("encode request body: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, n.config.Method, n.config.URL, body)
	if err != nil {
		return nil, validationf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, transientf("%s %s returned %d", n.config.Method, n.config.URL, resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, permanentf("%s %s returned %d", n.config.Method, n.config.URL, resp.StatusCode)
	}

	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) != nil {
		decoded = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        decoded,
	}, nil
}
